package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wlcore/internal/protocol"
	"github.com/danmuck/wlcore/internal/protocol/schema"
	"github.com/danmuck/wlcore/internal/transport"
)

// GlobalConfig is one [[global]] entry.
type GlobalConfig struct {
	Interface string `toml:"interface"`
	Version   uint32 `toml:"version"`
	// AllowUIDs limits visibility to these peer uids. Empty means everyone.
	AllowUIDs []uint32 `toml:"allow_uids"`
}

// Allows reports whether a client running as uid may see the global.
func (g GlobalConfig) Allows(uid uint32) bool {
	return len(g.AllowUIDs) == 0 || slices.Contains(g.AllowUIDs, uid)
}

// Resolve returns the interface table named by the entry.
func (g GlobalConfig) Resolve(cat *schema.Catalogue) (*protocol.Interface, error) {
	iface, ok := cat.Lookup(g.Interface)
	if !ok {
		return nil, fmt.Errorf("unknown interface %q", g.Interface)
	}
	if g.Version == 0 || g.Version > iface.Version {
		return nil, fmt.Errorf("%s version %d outside 1..%d", g.Interface, g.Version, iface.Version)
	}
	return iface, nil
}

// DaemonConfig configures wlcored.
type DaemonConfig struct {
	Socket       string
	RuntimeDir   string
	AdminAddr    string
	CorsOrigins  []string
	WriteTimeout time.Duration
	LogLevel     string
	Globals      []GlobalConfig
}

type fileConfig struct {
	Socket       string         `toml:"socket"`
	RuntimeDir   string         `toml:"runtime_dir"`
	AdminAddr    string         `toml:"admin_addr"`
	CorsOrigins  []string       `toml:"cors_origins"`
	WriteTimeout string         `toml:"write_timeout"`
	LogLevel     string         `toml:"log_level"`
	Globals      []GlobalConfig `toml:"global"`
}

// DefaultDaemonConfig serves the demo global to everyone on the default
// socket with the admin surface on localhost.
func DefaultDaemonConfig() DaemonConfig {
	tc := transport.DefaultConfig()
	return DaemonConfig{
		Socket:       transport.DefaultSocketName,
		AdminAddr:    "127.0.0.1:9200",
		WriteTimeout: tc.WriteTimeout,
		LogLevel:     "info",
		Globals: []GlobalConfig{
			{Interface: schema.TestGlobal.Name, Version: schema.TestGlobal.Version},
		},
	}
}

// LoadDaemonConfig overlays the keys present in the file at path onto
// DefaultDaemonConfig and validates the result.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := DefaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return DaemonConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return DaemonConfig{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("socket") {
		cfg.Socket = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("runtime_dir") {
		cfg.RuntimeDir = strings.TrimSpace(raw.RuntimeDir)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("global") {
		cfg.Globals = raw.Globals
	}

	if err := ValidateDaemonConfig(cfg, schema.Default()); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

// ValidateDaemonConfig checks cfg against the interfaces in cat.
func ValidateDaemonConfig(cfg DaemonConfig, cat *schema.Catalogue) error {
	if strings.TrimSpace(cfg.Socket) == "" {
		return fmt.Errorf("daemon config missing socket")
	}
	if cfg.WriteTimeout < 0 {
		return fmt.Errorf("daemon config write_timeout must not be negative")
	}
	switch cfg.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("daemon config log_level %q unknown", cfg.LogLevel)
	}
	for i, g := range cfg.Globals {
		if _, err := g.Resolve(cat); err != nil {
			return fmt.Errorf("global[%d] invalid: %w", i, err)
		}
		switch g.Interface {
		case schema.Display.Name, schema.Registry.Name, schema.Callback.Name:
			return fmt.Errorf("global[%d] invalid: %s is not a global", i, g.Interface)
		}
	}
	return nil
}
