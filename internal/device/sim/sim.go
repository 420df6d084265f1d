// Package sim provides an in-memory parameter server that behaves like a
// flight controller: float values are held at float32 precision, integral
// values are rounded, unknown names and out-of-range values are refused.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/paramctl/internal/device"
	"github.com/danmuck/paramctl/internal/logging"
	"github.com/danmuck/paramctl/internal/params"
)

// Limit bounds accepted writes for one parameter.
type Limit struct {
	Min float64
	Max float64
}

// Device is a thread-safe simulated parameter server.
type Device struct {
	mu       sync.Mutex
	table    params.Snapshot
	limits   map[string]Limit
	rejects  map[string]string
	offline  bool
	latency  time.Duration
	watchers []func(params.Param)
	progress device.ProgressFunc
}

var _ device.Device = (*Device)(nil)

func New(initial params.Snapshot) *Device {
	table := make(params.Snapshot, len(initial))
	for name, p := range initial {
		p.Name = name
		p.Value = hold(p.Type, p.Value)
		table[name] = p
	}
	return &Device{
		table:   table,
		limits:  make(map[string]Limit),
		rejects: make(map[string]string),
	}
}

// Default returns a small copter-like parameter table.
func Default() *Device {
	return New(params.Snapshot{
		"ARMING_CHECK":   {Value: 1, Type: params.TypeInt32},
		"BATT_CAPACITY":  {Value: 5000, Type: params.TypeInt32},
		"BATT_MONITOR":   {Value: 4, Type: params.TypeInt8},
		"FS_THR_ENABLE":  {Value: 1, Type: params.TypeInt8},
		"FS_THR_VALUE":   {Value: 975, Type: params.TypeInt16},
		"PILOT_SPEED_UP": {Value: 250, Type: params.TypeInt16},
		"RTL_ALT":        {Value: 1500, Type: params.TypeInt32},
		"SERIAL0_BAUD":   {Value: 115, Type: params.TypeInt32},
		"SYSID_THISMAV":  {Value: 1, Type: params.TypeUint8},
		"THR_MIN":        {Value: 0.1, Type: params.TypeFloat},
		"WPNAV_SPEED":    {Value: 500, Type: params.TypeFloat},
	})
}

// SetLimit makes writes outside [min,max] fail for name.
func (d *Device) SetLimit(name string, min, max float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limits[name] = Limit{Min: min, Max: max}
}

// Reject makes every write to name fail with reason.
func (d *Device) Reject(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejects[name] = reason
}

// SetOffline toggles connectivity; offline calls fail with ErrNotConnected.
func (d *Device) SetOffline(offline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = offline
}

// SetLatency delays every call by dur, honoring context cancellation.
func (d *Device) SetLatency(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = dur
}

// Watch registers fn for every value change, whoever caused it.
func (d *Device) Watch(fn func(params.Param)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchers = append(d.watchers, fn)
}

// OnProgress registers fn for download progress.
func (d *Device) OnProgress(fn device.ProgressFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = fn
}

// Set changes a value out of band, as another ground station would.
func (d *Device) Set(name string, value float64) (params.Param, error) {
	d.mu.Lock()
	p, ok := d.table[name]
	if !ok {
		d.mu.Unlock()
		return params.Param{}, fmt.Errorf("%w: %s", device.ErrUnknownParam, name)
	}
	p.Value = hold(p.Type, value)
	d.table[name] = p
	watchers := d.copyWatchers()
	d.mu.Unlock()
	notify(watchers, p)
	return p, nil
}

// Value returns the held value for name.
func (d *Device) Value(name string) (params.Param, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.table[name]
	return p, ok
}

func (d *Device) DownloadAll(ctx context.Context) (params.Snapshot, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	out := d.table.Clone()
	progress := d.progress
	d.mu.Unlock()

	if progress != nil {
		total := len(out)
		for i := 1; i <= total; i++ {
			progress(params.Progress{Received: i, Expected: total})
		}
	}
	logging.Debugf("sim.Device.DownloadAll count=%d", len(out))
	return out, nil
}

func (d *Device) WriteOne(ctx context.Context, name string, value float64) (params.Param, error) {
	if err := d.wait(ctx); err != nil {
		return params.Param{}, err
	}
	d.mu.Lock()
	p, err := d.writeLocked(name, value)
	watchers := d.copyWatchers()
	d.mu.Unlock()
	if err != nil {
		return params.Param{}, err
	}
	notify(watchers, p)
	return p, nil
}

func (d *Device) WriteBatch(ctx context.Context, entries []params.Entry) ([]params.WriteResult, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	results := make([]params.WriteResult, 0, len(entries))
	changed := make([]params.Param, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}
		p, err := d.writeLocked(e.Name, e.Value)
		if err != nil {
			results = append(results, params.WriteResult{Name: e.Name, Error: err.Error()})
			continue
		}
		changed = append(changed, p)
		results = append(results, params.WriteResult{
			Name:           e.Name,
			Succeeded:      true,
			ConfirmedValue: params.Float64Ptr(p.Value),
		})
	}
	watchers := d.copyWatchers()
	d.mu.Unlock()

	for _, p := range changed {
		notify(watchers, p)
	}
	logging.Debugf("sim.Device.WriteBatch requested=%d changed=%d", len(entries), len(changed))
	return results, nil
}

func (d *Device) writeLocked(name string, value float64) (params.Param, error) {
	key := strings.TrimSpace(name)
	p, ok := d.table[key]
	if !ok {
		return params.Param{}, fmt.Errorf("%w: %s", device.ErrUnknownParam, key)
	}
	if reason, ok := d.rejects[key]; ok {
		return params.Param{}, fmt.Errorf("%w: %s: %s", device.ErrRejected, key, reason)
	}
	if lim, ok := d.limits[key]; ok && (value < lim.Min || value > lim.Max) {
		return params.Param{}, fmt.Errorf("%w: %s: %v outside [%v,%v]", device.ErrRejected, key, value, lim.Min, lim.Max)
	}
	p.Value = hold(p.Type, value)
	d.table[key] = p
	return p, nil
}

func (d *Device) wait(ctx context.Context) error {
	d.mu.Lock()
	offline := d.offline
	latency := d.latency
	d.mu.Unlock()
	if offline {
		return device.ErrNotConnected
	}
	if latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Device) copyWatchers() []func(params.Param) {
	out := make([]func(params.Param), len(d.watchers))
	copy(out, d.watchers)
	return out
}

func notify(watchers []func(params.Param), p params.Param) {
	for _, fn := range watchers {
		fn(p)
	}
}

// hold stores v the way the autopilot would: rounded integers, float32 reals.
func hold(t params.Type, v float64) float64 {
	if t.Integral() {
		return t.Normalize(v)
	}
	return float64(float32(v))
}
