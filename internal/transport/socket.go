package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// EnvRuntimeDir names the directory holding display sockets.
const EnvRuntimeDir = "XDG_RUNTIME_DIR"

var (
	ErrNoRuntimeDir = errors.New("transport: runtime directory not set")
	ErrSocketInUse  = errors.New("transport: socket in use")
)

// SocketPath resolves name against runtimeDir. An absolute name is used as
// is. An empty runtimeDir falls back to $XDG_RUNTIME_DIR.
func SocketPath(runtimeDir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSocketName
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir := strings.TrimSpace(runtimeDir)
	if dir == "" {
		dir = os.Getenv(EnvRuntimeDir)
	}
	if dir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(dir, name), nil
}

// Listen binds a unix stream socket at path. A socket file left behind by a
// dead server is replaced; a live one yields ErrSocketInUse.
func Listen(path string) (*net.UnixListener, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("transport: %s exists and is not a socket", path)
		}
		if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrSocketInUse, path)
		}
		log.Warn().Str("path", path).Msg("removing stale socket")
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("transport: remove stale socket: %w", err)
		}
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	return ln, nil
}

// Dial connects to the socket at path. A missing or refusing socket is
// retried with backoff up to cfg.DialAttempts times; other errors end the
// dial at once.
func Dial(ctx context.Context, path string, cfg Config) (*net.UnixConn, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d := net.Dialer{Timeout: cfg.ConnectTimeout}

	for attempt := 1; ; attempt++ {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			if attempt > 1 {
				log.Debug().Str("path", path).Int("attempts", attempt).Msg("dial connected after retry")
			}
			return conn.(*net.UnixConn), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryableDial(err) {
			return nil, fmt.Errorf("transport: dial %s: %w", path, err)
		}
		delay, ok := dialDelay(cfg, attempt, rng)
		if !ok {
			log.Warn().Str("path", path).Int("attempts", attempt).Err(err).Msg("dial gave up")
			return nil, fmt.Errorf("transport: dial %s after %d attempts: %w", path, attempt, err)
		}
		log.Debug().
			Str("path", path).
			Int("attempt", attempt).
			Int("max_attempts", cfg.DialAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("dial failed, retrying")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
