package link

import (
	"time"

	"github.com/danmuck/paramctl/internal/protocol/frame"
)

// Config defines device link timeouts and reconnect behavior.
type Config struct {
	Addr           string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	Backoff        BackoffConfig
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:5790",
		DialTimeout:    5 * time.Second,
		RequestTimeout: 15 * time.Second,
		WriteTimeout:   5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Limits: frame.DefaultLimits(),
	}
}
