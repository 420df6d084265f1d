// Package config loads paramctl.toml on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/paramctl/internal/link"
	"github.com/danmuck/paramctl/internal/params"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved runtime configuration.
type Config struct {
	ListenAddr   string
	DeviceAddr   string
	DeviceType   string
	MetadataFile string
	CorsOrigins  []string
	APIToken     string
	EventBuffer  int
	Tolerance    params.Tolerance
	SimAddr      string
	Link         link.Config
}

func Default() Config {
	lc := link.DefaultConfig()
	return Config{
		ListenAddr:  ":9400",
		DeviceAddr:  lc.Addr,
		CorsOrigins: []string{"http://localhost:5173"},
		EventBuffer: 256,
		Tolerance:   params.DefaultTolerance(),
		SimAddr:     lc.Addr,
		Link:        lc,
	}
}

// LinkConfig returns the link settings with the device address applied.
func (c Config) LinkConfig() link.Config {
	out := c.Link
	out.Addr = c.DeviceAddr
	return out
}

// paramctl.toml key mapping.
type fileConfig struct {
	ListenAddr         string   `toml:"listen_addr"`
	DeviceAddr         string   `toml:"device_addr"`
	DeviceType         string   `toml:"device_type"`
	MetadataFile       string   `toml:"metadata_file"`
	CorsOrigins        []string `toml:"cors_origins"`
	APIToken           string   `toml:"api_token"`
	EventBuffer        int      `toml:"event_buffer"`
	FloatAbsTolerance  float64  `toml:"float_abs_tolerance"`
	FloatRelTolerance  float64  `toml:"float_rel_tolerance"`
	SimAddr            string   `toml:"sim_addr"`
	LinkDialTimeout    string   `toml:"link_dial_timeout"`
	LinkRequestTimeout string   `toml:"link_request_timeout"`
	LinkWriteTimeout   string   `toml:"link_write_timeout"`
	BackoffInitial     string   `toml:"backoff_initial"`
	BackoffMax         string   `toml:"backoff_max"`
	BackoffMultiplier  float64  `toml:"backoff_multiplier"`
	BackoffJitter      bool     `toml:"backoff_jitter"`
}

// Load reads path over Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, cfg.Validate()
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load paramctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("device_addr") {
		cfg.DeviceAddr = strings.TrimSpace(raw.DeviceAddr)
	}
	if meta.IsDefined("device_type") {
		cfg.DeviceType = strings.TrimSpace(raw.DeviceType)
	}
	if meta.IsDefined("metadata_file") {
		cfg.MetadataFile = strings.TrimSpace(raw.MetadataFile)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = trimAll(raw.CorsOrigins)
	}
	if meta.IsDefined("api_token") {
		cfg.APIToken = strings.TrimSpace(raw.APIToken)
	}
	if meta.IsDefined("event_buffer") {
		cfg.EventBuffer = raw.EventBuffer
	}
	if meta.IsDefined("float_abs_tolerance") {
		cfg.Tolerance.Abs = raw.FloatAbsTolerance
	}
	if meta.IsDefined("float_rel_tolerance") {
		cfg.Tolerance.Rel = raw.FloatRelTolerance
	}
	if meta.IsDefined("sim_addr") {
		cfg.SimAddr = strings.TrimSpace(raw.SimAddr)
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Link.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Link.Backoff.Jitter = raw.BackoffJitter
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"link_dial_timeout", raw.LinkDialTimeout, &cfg.Link.DialTimeout},
		{"link_request_timeout", raw.LinkRequestTimeout, &cfg.Link.RequestTimeout},
		{"link_write_timeout", raw.LinkWriteTimeout, &cfg.Link.WriteTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Link.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Link.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	if strings.TrimSpace(c.DeviceAddr) == "" {
		return fmt.Errorf("%w: device_addr is required", ErrInvalid)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("%w: event_buffer must be positive", ErrInvalid)
	}
	if !validTolerance(c.Tolerance.Abs) || !validTolerance(c.Tolerance.Rel) {
		return fmt.Errorf("%w: float tolerances must be finite and non-negative", ErrInvalid)
	}
	if c.Link.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: backoff_multiplier must be at least 1", ErrInvalid)
	}
	if c.Link.DialTimeout < 0 || c.Link.RequestTimeout < 0 || c.Link.WriteTimeout < 0 {
		return fmt.Errorf("%w: link timeouts must not be negative", ErrInvalid)
	}
	return nil
}

func validTolerance(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
