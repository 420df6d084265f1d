package link

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/paramctl/internal/device"
	"github.com/danmuck/paramctl/internal/logging"
	"github.com/danmuck/paramctl/internal/observability"
	"github.com/danmuck/paramctl/internal/params"
)

// Target is the engine surface the supervisor drives.
type Target interface {
	Connect(ctx context.Context) error
	Refresh(ctx context.Context) error
	Disconnect(ctx context.Context) error
	PushUpdate(p params.Param) error
	ReportProgress(p params.Progress) error
}

// Supervisor owns the link lifecycle: dial with backoff, announce the
// connection, download the full set, and tear down on drop. It is also the
// stable device.Device the engine is built with; calls go to whichever
// connection is live.
type Supervisor struct {
	cfg Config
	rng *rand.Rand

	mu      sync.Mutex
	target  Target
	current *Client
}

var _ device.Device = (*Supervisor)(nil)

func NewSupervisor(cfg Config) *Supervisor {
	return &Supervisor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Attach sets the engine to notify. It must be called before Run.
func (s *Supervisor) Attach(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
}

// Connected reports whether a connection is live.
func (s *Supervisor) Connected() bool {
	_, err := s.client()
	return err == nil
}

// Run keeps a connection open until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		client, err := Dial(ctx, s.cfg, s.handlers(target))
		if err != nil {
			observability.RecordLinkConnect(false)
			attempt++
			delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
			logging.Warnf("link.Supervisor dial addr=%q attempt=%d retry_in=%s err=%v", s.cfg.Addr, attempt, delay, err)
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}
		observability.RecordLinkConnect(true)
		attempt = 0
		s.setClient(client)

		if target != nil {
			if err := target.Connect(ctx); err != nil {
				logging.Warnf("link.Supervisor connect err=%v", err)
			}
			if err := target.Refresh(ctx); err != nil {
				logging.Warnf("link.Supervisor initial download err=%v", err)
			}
		}

		select {
		case <-ctx.Done():
			s.setClient(nil)
			_ = client.Close()
			return nil
		case <-client.Done():
		}

		s.setClient(nil)
		_ = client.Close()
		logging.Warnf("link.Supervisor connection lost addr=%q err=%v", s.cfg.Addr, client.Err())
		if target != nil {
			if err := target.Disconnect(ctx); err != nil {
				logging.Warnf("link.Supervisor disconnect err=%v", err)
			}
		}
	}
}

func (s *Supervisor) handlers(t Target) Handlers {
	if t == nil {
		return Handlers{}
	}
	return Handlers{
		OnPush: func(p params.Param) {
			_ = t.PushUpdate(p)
		},
		OnProgress: func(p params.Progress) {
			_ = t.ReportProgress(p)
		},
	}
}

func (s *Supervisor) setClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = c
}

func (s *Supervisor) client() (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, device.ErrNotConnected
	}
	return s.current, nil
}

func (s *Supervisor) DownloadAll(ctx context.Context) (params.Snapshot, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.DownloadAll(ctx)
}

func (s *Supervisor) WriteOne(ctx context.Context, name string, value float64) (params.Param, error) {
	c, err := s.client()
	if err != nil {
		return params.Param{}, err
	}
	return c.WriteOne(ctx, name, value)
}

func (s *Supervisor) WriteBatch(ctx context.Context, entries []params.Entry) ([]params.WriteResult, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.WriteBatch(ctx, entries)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
