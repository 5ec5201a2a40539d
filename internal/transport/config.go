package transport

import "time"

// DefaultSocketName is the display socket used when none is configured.
const DefaultSocketName = "wlcore-0"

// BackoffConfig defines dial retry behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines socket timeouts and dial retries.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// DialAttempts bounds Dial. Zero means one attempt.
	DialAttempts int
	Backoff      BackoffConfig
}

// DefaultConfig returns the defaults used by the daemon and wlinfo.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    0,
		WriteTimeout:   5 * time.Second,
		DialAttempts:   5,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig. ReadTimeout stays zero
// when unset since a server waits on idle clients indefinitely.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = d.DialAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier < 1.0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = d.Backoff.MaxDelay
	}
	return c
}
