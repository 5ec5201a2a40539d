package transport

import (
	"errors"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// dialDelay returns how long to wait after failed attempt N (1-based) before
// dialing again. ok is false once cfg.DialAttempts are used up.
//
// Delays grow from InitialDelay by Multiplier up to MaxDelay. Jitter picks
// a delay in [d/2, d], so MaxDelay is never exceeded.
func dialDelay(cfg Config, attempt int, rng *rand.Rand) (delay time.Duration, ok bool) {
	if attempt < 1 || attempt >= cfg.DialAttempts {
		return 0, false
	}
	b := cfg.Backoff
	delay = b.InitialDelay
	for i := 1; i < attempt && delay < b.MaxDelay; i++ {
		delay = time.Duration(float64(delay) * max(b.Multiplier, 1))
	}
	if b.MaxDelay > 0 {
		delay = min(delay, b.MaxDelay)
	}
	if b.Jitter && delay > 1 && rng != nil {
		half := delay / 2
		delay = half + time.Duration(rng.Int63n(int64(delay-half)+1))
	}
	return delay, true
}

// retryableDial reports whether a dial error can clear up while the server
// starts: a missing socket file or nobody listening yet.
func retryableDial(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, unix.ENOENT) ||
		errors.Is(err, unix.ECONNREFUSED) ||
		errors.Is(err, unix.EAGAIN)
}
