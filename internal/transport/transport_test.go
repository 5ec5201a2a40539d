package transport

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wlcore/internal/testutil/testlog"
)

func TestDialDelayScheduleStopsAtLastAttempt(t *testing.T) {
	testlog.Start(t)
	cfg := Config{
		DialAttempts: 7,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
		},
	}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		got, ok := dialDelay(cfg, i+1, nil)
		if !ok || got != w {
			t.Fatalf("attempt%d got=%v ok=%v want=%v", i+1, got, ok, w)
		}
	}
	if _, ok := dialDelay(cfg, 7, nil); ok {
		t.Fatalf("no delay after the last attempt")
	}
	if _, ok := dialDelay(Config{DialAttempts: 1}, 1, nil); ok {
		t.Fatalf("single attempt must not retry")
	}
}

func TestDialDelayJitterStaysUnderCap(t *testing.T) {
	testlog.Start(t)
	cfg := Config{
		DialAttempts: 50,
		Backoff:      BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 3, MaxDelay: time.Second, Jitter: true},
	}
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt < cfg.DialAttempts; attempt++ {
		got, ok := dialDelay(cfg, attempt, rng)
		if !ok || got > time.Second || got < 50*time.Millisecond {
			t.Fatalf("attempt%d got=%v ok=%v", attempt, got, ok)
		}
	}
}

func TestRetryableDialErrors(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	_, missing := net.Dial("unix", filepath.Join(dir, "missing"))
	if !retryableDial(missing) {
		t.Fatalf("missing socket should be retried: %v", missing)
	}
	if retryableDial(errors.New("boom")) {
		t.Fatalf("unknown errors should not be retried")
	}
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{WriteTimeout: time.Second, DialAttempts: 1}.WithDefaults()
	if cfg.WriteTimeout != time.Second || cfg.DialAttempts != 1 {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
	if cfg.ReadTimeout != 0 {
		t.Fatalf("read timeout should stay unset, got %v", cfg.ReadTimeout)
	}
	if cfg.ConnectTimeout != DefaultConfig().ConnectTimeout || cfg.Backoff.Multiplier != 2.0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestSocketPath(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvRuntimeDir, "/run/user/1000")

	got, err := SocketPath("", "")
	if err != nil || got != "/run/user/1000/"+DefaultSocketName {
		t.Fatalf("default path=%q err=%v", got, err)
	}
	got, err = SocketPath("/tmp/rt", "disp")
	if err != nil || got != "/tmp/rt/disp" {
		t.Fatalf("explicit dir path=%q err=%v", got, err)
	}
	got, err = SocketPath("", "/abs/sock")
	if err != nil || got != "/abs/sock" {
		t.Fatalf("absolute path=%q err=%v", got, err)
	}

	t.Setenv(EnvRuntimeDir, "")
	if _, err := SocketPath("", "disp"); !errors.Is(err, ErrNoRuntimeDir) {
		t.Fatalf("expected ErrNoRuntimeDir, got %v", err)
	}
}

func TestListenDialAndStaleSocket(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "disp")

	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if _, err := Listen(path); !errors.Is(err, ErrSocketInUse) {
		t.Fatalf("second listen: %v", err)
	}

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.AcceptUnix()
		if err == nil {
			_ = conn.Close()
		}
		accepted <- err
	}()
	conn, err := Dial(context.Background(), path, Config{DialAttempts: 1})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()
	if err := <-accepted; err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = ln.Close()

	// A socket file nobody listens on is replaced.
	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("stale listen: %v", err)
	}
	stale.SetUnlinkOnClose(false)
	_ = stale.Close()
	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("stale socket file missing: %v", err)
	}
	ln, err = Listen(path)
	if err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	_ = ln.Close()
}

func TestDialGivesUp(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "missing")
	cfg := Config{
		DialAttempts: 3,
		Backoff:      BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond},
	}
	start := time.Now()
	_, err := Dial(context.Background(), path, cfg)
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("dial to missing socket got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("dial retries took too long")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.Backoff.InitialDelay = time.Hour
	cfg.Backoff.MaxDelay = time.Hour
	if _, err := Dial(ctx, path, cfg); err == nil {
		t.Fatalf("cancelled dial should fail")
	}
}
