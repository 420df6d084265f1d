package link

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/paramctl/internal/device"
	"github.com/danmuck/paramctl/internal/device/sim"
	"github.com/danmuck/paramctl/internal/engine"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/danmuck/paramctl/internal/testutil/testlog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T, dev *sim.Device) (*sim.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := sim.NewServer(dev)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return srv, ln.Addr().String()
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.RequestTimeout = 2 * time.Second
	cfg.Backoff = BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	return cfg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)

	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w)
		}
	}
	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 150*time.Millisecond || got > 450*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", got)
		}
	}
}

func TestClientDownloadWriteAndPush(t *testing.T) {
	testlog.Start(t)
	dev := sim.Default()
	dev.Reject("SERIAL0_BAUD", "locked")
	_, addr := startServer(t, dev)

	pushes := make(chan params.Param, 16)
	var progress []params.Progress
	client, err := Dial(context.Background(), testConfig(addr), Handlers{
		OnPush:     func(p params.Param) { pushes <- p },
		OnProgress: func(p params.Progress) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	ctx := context.Background()

	snap, err := client.DownloadAll(ctx)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if len(snap) != 11 || snap["SYSID_THISMAV"].Type != params.TypeUint8 {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
	if last := progress[len(progress)-1]; !last.Done() || last.Expected != 11 {
		t.Fatalf("unexpected final progress: %+v", last)
	}

	p, err := client.WriteOne(ctx, "RTL_ALT", 2000.4)
	if err != nil || p.Value != 2000 {
		t.Fatalf("write one: %+v %v", p, err)
	}
	if _, err := client.WriteOne(ctx, "NOPE", 1); !errors.Is(err, device.ErrUnknownParam) {
		t.Fatalf("expected remote unknown param, got %v", err)
	}

	results, err := client.WriteBatch(ctx, []params.Entry{
		{Name: "BATT_CAPACITY", Value: 6000},
		{Name: "SERIAL0_BAUD", Value: 57},
	})
	if err != nil || len(results) != 2 {
		t.Fatalf("write batch: %+v %v", results, err)
	}
	if !results[0].Succeeded || *results[0].ConfirmedValue != 6000 || results[1].Succeeded || results[1].Error == "" {
		t.Fatalf("unexpected batch results: %+v", results)
	}

	if _, err := dev.Set("WPNAV_SPEED", 750); err != nil {
		t.Fatalf("set: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-pushes:
			if p.Name == "WPNAV_SPEED" && p.Value == 750 {
				return
			}
		case <-deadline:
			t.Fatalf("push never arrived")
		}
	}
}

func TestClientFailsAfterServerDrop(t *testing.T) {
	testlog.Start(t)
	srv, addr := startServer(t, sim.Default())

	client, err := Dial(context.Background(), testConfig(addr), Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	eventually(t, "server to register client", func() bool { return srv.ActiveClients() == 1 })

	srv.Kick()
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client never observed the drop")
	}
	if _, err := client.DownloadAll(context.Background()); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDialRequiresAddr(t *testing.T) {
	testlog.Start(t)

	if _, err := Dial(context.Background(), Config{}, Handlers{}); !errors.Is(err, ErrAddrRequired) {
		t.Fatalf("expected ErrAddrRequired, got %v", err)
	}
}

func TestSupervisorWithoutConnectionReportsNotConnected(t *testing.T) {
	testlog.Start(t)

	s := NewSupervisor(testConfig("127.0.0.1:1"))
	if _, err := s.DownloadAll(context.Background()); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if s.Connected() {
		t.Fatalf("supervisor must not report a connection")
	}
}

func TestSupervisorDrivesEngineAcrossReconnect(t *testing.T) {
	testlog.Start(t)
	dev := sim.Default()
	srv, addr := startServer(t, dev)

	sup := NewSupervisor(testConfig(addr))
	eng, err := engine.New(engine.Config{Device: sup})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	sup.Attach(eng)

	ctx, cancel := context.WithCancel(context.Background())
	engDone := make(chan error, 1)
	supDone := make(chan error, 1)
	go func() { engDone <- eng.Run(ctx) }()
	go func() { supDone <- sup.Run(ctx) }()
	defer func() {
		cancel()
		<-supDone
		<-engDone
	}()

	eventually(t, "initial download", func() bool {
		v := eng.View()
		return v.Connected && len(v.Store) == 11
	})

	if err := eng.Stage(ctx, "RTL_ALT", 2500); err != nil {
		t.Fatalf("stage: %v", err)
	}
	report, err := eng.ApplyStaged(ctx)
	if err != nil || report.Succeeded != 1 {
		t.Fatalf("apply: %+v %v", report, err)
	}
	if got, _ := dev.Value("RTL_ALT"); got.Value != 2500 {
		t.Fatalf("device did not receive write: %+v", got)
	}

	if err := eng.Stage(ctx, "WPNAV_SPEED", 800); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := dev.Set("WPNAV_SPEED", 800); err != nil {
		t.Fatalf("set: %v", err)
	}
	eventually(t, "push to reconcile staged value", func() bool {
		return eng.View().StagedCount == 0
	})

	_ = eng.Stage(ctx, "BATT_CAPACITY", 7000)
	before := eng.View().Session
	srv.Kick()
	eventually(t, "reconnect with fresh session", func() bool {
		v := eng.View()
		return v.Session != before && v.Connected && len(v.Store) == 11
	})
	if eng.View().StagedCount != 0 {
		t.Fatalf("disconnect must clear staged values")
	}
}
