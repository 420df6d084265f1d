package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/paramctl/internal/device"
	"github.com/danmuck/paramctl/internal/logging"
	"github.com/danmuck/paramctl/internal/metadata"
	"github.com/danmuck/paramctl/internal/observability"
	"github.com/danmuck/paramctl/internal/params"
)

var (
	ErrNoDevice          = errors.New("engine: device required")
	ErrInvalidName       = errors.New("engine: invalid parameter name")
	ErrInvalidValue      = errors.New("engine: invalid parameter value")
	ErrInvalidFilterMode = errors.New("engine: invalid filter mode")
	ErrApplyInProgress   = errors.New("engine: apply already in progress")
	ErrApplyTransport    = errors.New("engine: batch write failed")
	ErrStaleSession      = errors.New("engine: result belongs to a previous session")
	ErrStopped           = errors.New("engine: stopped")
	ErrAlreadyRunning    = errors.New("engine: already running")
)

// Config wires the engine to its collaborators.
type Config struct {
	Device         device.Device
	Metadata       metadata.Provider
	DeviceTypeHint string
	Tolerance      params.Tolerance
	EventBuffer    int
}

func DefaultConfig() Config {
	return Config{
		Tolerance:   params.DefaultTolerance(),
		EventBuffer: 256,
	}
}

// event is one unit of work for the loop. reply is nil for fire-and-forget
// inputs such as push updates.
type event struct {
	name  string
	fn    func(*state) error
	reply chan error
}

// Engine serialises every mutation of the authoritative store and staging
// set through one goroutine (Run). Readers use View snapshots, which are
// immutable once published.
type Engine struct {
	cfg     Config
	dev     device.Device
	events  chan event
	done    chan struct{}
	started atomic.Bool

	st      *state
	current atomic.Pointer[View]

	subMu   sync.Mutex
	subs    map[int]chan *View
	nextSub int
}

func New(cfg Config) (*Engine, error) {
	if cfg.Device == nil {
		return nil, ErrNoDevice
	}
	defaults := DefaultConfig()
	if cfg.Tolerance == (params.Tolerance{}) {
		cfg.Tolerance = defaults.Tolerance
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	e := &Engine{
		cfg:    cfg,
		dev:    cfg.Device,
		events: make(chan event, cfg.EventBuffer),
		done:   make(chan struct{}),
		st:     newState(cfg.Tolerance),
		subs:   make(map[int]chan *View),
	}
	e.publish()
	return e, nil
}

// Run processes events until ctx is cancelled. It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)
	defer e.closeSubscribers()

	logging.Infof("engine.Engine.Run start session=%s", e.st.session)
	for {
		select {
		case <-ctx.Done():
			logging.Infof("engine.Engine.Run stop session=%s", e.st.session)
			return nil
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	err := ev.fn(e.st)
	if e.st.dirty {
		e.publish()
	}
	if err != nil && !errors.Is(err, ErrStaleSession) {
		logging.Debugf("engine.Engine.handle event=%s err=%v", ev.name, err)
	}
	if ev.reply != nil {
		ev.reply <- err
	}
}

// do runs fn on the loop and waits for it. ctx only bounds the wait for a
// queue slot: once queued, fn will run, so its outcome is always reported.
func (e *Engine) do(ctx context.Context, name string, fn func(*state) error) error {
	ev := event{name: name, fn: fn, reply: make(chan error, 1)}
	select {
	case e.events <- ev:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

// enqueue hands fn to the loop without waiting for it. Channel order is
// processing order, so callers that enqueue sequentially keep their order.
func (e *Engine) enqueue(name string, fn func(*state) error) error {
	select {
	case e.events <- event{name: name, fn: fn}:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) publish() {
	v := e.st.view()
	e.st.dirty = false
	e.current.Store(v)
	observability.SetStagedCount(v.StagedCount)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		offerLatest(ch, v)
	}
}

// offerLatest delivers v, replacing an undelivered older view if the
// subscriber is behind.
func offerLatest(ch chan *View, v *View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// View returns the latest published snapshot. Callers must not modify it.
func (e *Engine) View() *View {
	return e.current.Load()
}

// Subscribe returns a channel that receives the current view and every
// later one. Slow readers see the newest view, not every intermediate one.
func (e *Engine) Subscribe(buffer int) (<-chan *View, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *View, buffer)
	ch <- e.View()

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

// Stage proposes value for name. Staging the authoritative value removes any
// pending entry instead of storing a no-op.
func (e *Engine) Stage(ctx context.Context, name string, value float64) error {
	if _, err := validateInput(name, value); err != nil {
		return err
	}
	return e.do(ctx, "stage", func(s *state) error {
		return s.stage(name, value)
	})
}

func (e *Engine) Unstage(ctx context.Context, name string) error {
	return e.do(ctx, "unstage", func(s *state) error {
		s.unstage(name)
		return nil
	})
}

// UnstageAll clears the staging set and returns how many entries it held.
func (e *Engine) UnstageAll(ctx context.Context) (int, error) {
	var n int
	err := e.do(ctx, "unstage_all", func(s *state) error {
		n = s.unstageAll()
		return nil
	})
	return n, err
}

// ImportFile merges a parsed parameter file into the staging set.
func (e *Engine) ImportFile(ctx context.Context, entries map[string]float64) (ImportReport, error) {
	var report ImportReport
	err := e.do(ctx, "import", func(s *state) error {
		report = s.importEntries(entries)
		return nil
	})
	if err != nil {
		return ImportReport{}, err
	}
	observability.RecordImport(report.Staged, report.Skipped, report.Rejected)
	logging.Infof(
		"engine.Engine.ImportFile total=%d staged=%d skipped=%d rejected=%d unknown=%d",
		report.Total,
		report.Staged,
		report.Skipped,
		report.Rejected,
		len(report.Unknown),
	)
	return report, nil
}

// ApplyStaged writes the current staging set as one batch. The snapshot is
// taken before the device call; edits made while the call is in flight are
// left for the next apply. A transport error leaves every entry staged.
func (e *Engine) ApplyStaged(ctx context.Context) (ApplyReport, error) {
	var snap applySnapshot
	err := e.do(ctx, "apply.begin", func(s *state) error {
		var err error
		snap, err = s.beginApply()
		return err
	})
	if err != nil {
		return ApplyReport{}, err
	}
	if len(snap.entries) == 0 {
		return ApplyReport{Session: snap.session}, nil
	}

	logging.Infof("engine.Engine.ApplyStaged start apply_id=%s entries=%d", snap.id, len(snap.entries))
	request := make([]params.Entry, len(snap.entries))
	copy(request, snap.entries)
	results, werr := e.dev.WriteBatch(ctx, request)

	// The device may already hold the values; completion must be recorded
	// even if the caller gave up waiting.
	settleCtx := context.WithoutCancel(ctx)
	if werr != nil {
		_ = e.do(settleCtx, "apply.abort", func(s *state) error {
			s.abortApply(snap)
			return nil
		})
		observability.RecordApply(observability.ApplyTransportError)
		logging.Warnf("engine.Engine.ApplyStaged transport apply_id=%s err=%v", snap.id, werr)
		return ApplyReport{ApplyID: snap.id, Session: snap.session, Requested: len(snap.entries)},
			fmt.Errorf("%w: %w", ErrApplyTransport, werr)
	}

	var report ApplyReport
	err = e.do(settleCtx, "apply.complete", func(s *state) error {
		var err error
		report, err = s.completeApply(snap, results)
		return err
	})
	if errors.Is(err, ErrStaleSession) {
		observability.RecordStaleResult("apply")
		logging.Debugf("engine.Engine.ApplyStaged discarded stale apply_id=%s session=%s", snap.id, snap.session)
		return report, err
	}
	if err != nil {
		return report, err
	}

	observability.RecordApplyEntries(report.Succeeded, report.Failed)
	observability.RecordApply(applyOutcome(report))
	logging.Infof(
		"engine.Engine.ApplyStaged done apply_id=%s requested=%d succeeded=%d failed=%d",
		report.ApplyID,
		report.Requested,
		report.Succeeded,
		report.Failed,
	)
	return report, nil
}

func applyOutcome(r ApplyReport) string {
	switch {
	case r.Failed == 0:
		return observability.ApplyOK
	case r.Succeeded == 0:
		return observability.ApplyFailed
	default:
		return observability.ApplyPartial
	}
}

// Refresh downloads the full parameter set and replaces the store. Device
// errors are returned unchanged.
func (e *Engine) Refresh(ctx context.Context) error {
	var session string
	err := e.do(ctx, "refresh.begin", func(s *state) error {
		session = s.session
		s.progress = params.Progress{}
		s.dirty = true
		return nil
	})
	if err != nil {
		return err
	}

	snap, err := e.dev.DownloadAll(ctx)
	if err != nil {
		return err
	}

	var settled int
	err = e.do(context.WithoutCancel(ctx), "refresh.complete", func(s *state) error {
		if s.session != session {
			return ErrStaleSession
		}
		settled = s.replaceStore(snap)
		s.progress = params.Progress{Received: len(snap), Expected: len(snap)}
		return nil
	})
	if errors.Is(err, ErrStaleSession) {
		observability.RecordStaleResult("download")
		return err
	}
	if err != nil {
		return err
	}
	logging.Infof("engine.Engine.Refresh count=%d settled=%d", len(snap), settled)
	return nil
}

// WriteNow writes one value immediately, bypassing the staging set. The
// confirmation is reconciled like any other authoritative update.
func (e *Engine) WriteNow(ctx context.Context, name string, value float64) (params.Param, error) {
	key, err := validateInput(name, value)
	if err != nil {
		return params.Param{}, err
	}
	var session string
	if err := e.do(ctx, "write.begin", func(s *state) error {
		session = s.session
		return nil
	}); err != nil {
		return params.Param{}, err
	}

	p, err := e.dev.WriteOne(ctx, key, value)
	if err != nil {
		return params.Param{}, err
	}
	if p.Name == "" {
		p.Name = key
	}
	err = e.do(context.WithoutCancel(ctx), "write.complete", func(s *state) error {
		if s.session != session {
			return ErrStaleSession
		}
		if current, known := s.store[p.Name]; known && p.Type != current.Type {
			p.Type = current.Type
		}
		s.putAuthoritative(p)
		return nil
	})
	if errors.Is(err, ErrStaleSession) {
		observability.RecordStaleResult("write")
	}
	if err != nil {
		return params.Param{}, err
	}
	return p, nil
}

// PushUpdate records an unsolicited authoritative value from the transport.
// Updates are processed in call order and never coalesced.
func (e *Engine) PushUpdate(p params.Param) error {
	observability.RecordPushUpdate()
	return e.enqueue("push", func(s *state) error {
		if s.putAuthoritative(p) {
			logging.Debugf("engine.Engine.PushUpdate settled name=%s value=%v", p.Name, p.Value)
		}
		return nil
	})
}

// ReplaceStore records a full authoritative snapshot pushed by the transport.
func (e *Engine) ReplaceStore(snap params.Snapshot) error {
	own := snap.Clone()
	return e.enqueue("replace", func(s *state) error {
		s.replaceStore(own)
		return nil
	})
}

// ReportProgress records download progress for observers.
func (e *Engine) ReportProgress(p params.Progress) error {
	return e.enqueue("progress", func(s *state) error {
		s.progress = p
		s.dirty = true
		return nil
	})
}

// SetMetadata replaces the catalog used for filtering and diffs.
func (e *Engine) SetMetadata(ctx context.Context, catalog metadata.Catalog) error {
	return e.do(ctx, "metadata", func(s *state) error {
		s.catalog = catalog
		s.dirty = true
		return nil
	})
}

// Connect marks the device reachable and loads metadata when a provider is
// configured. A metadata failure is logged and the engine carries on
// without labels or access levels.
func (e *Engine) Connect(ctx context.Context) error {
	if err := e.do(ctx, "connect", func(s *state) error {
		s.connected = true
		s.dirty = true
		return nil
	}); err != nil {
		return err
	}
	if e.cfg.Metadata == nil {
		return nil
	}
	catalog, err := e.cfg.Metadata.Fetch(ctx, e.cfg.DeviceTypeHint)
	if err != nil {
		logging.Warnf("engine.Engine.Connect metadata unavailable hint=%q err=%v", e.cfg.DeviceTypeHint, err)
		return nil
	}
	return e.SetMetadata(ctx, catalog)
}

// Disconnect clears the store and the staging set and starts a new session.
// Results of calls started before the disconnect are discarded on arrival.
func (e *Engine) Disconnect(ctx context.Context) error {
	var dropped int
	var previous string
	err := e.do(ctx, "disconnect", func(s *state) error {
		dropped = len(s.staged)
		previous = s.session
		s.reset()
		return nil
	})
	if err != nil {
		return err
	}
	logging.Infof("engine.Engine.Disconnect session=%s dropped_staged=%d", previous, dropped)
	return nil
}

// Diff returns the staged changes against the authoritative store.
func (e *Engine) Diff() []DiffEntry {
	return e.View().Diff()
}

// Classify filters the current view.
func (e *Engine) Classify(mode FilterMode, search string) []string {
	return e.View().Classify(mode, search)
}
