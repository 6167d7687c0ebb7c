package browsersession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/trade_desk/internal/browser"
	"github.com/dgnsrekt/trade_desk/internal/fault"
)

func testController(cfg Config) *Controller {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(cfg, browser.NewLauncher(browser.Config{}), "http://127.0.0.1:1", log)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{OrderURL: "https://example.test/order"}
	cfg.applyDefaults()

	if cfg.LoginTimeout != 3*time.Minute {
		t.Errorf("LoginTimeout = %v; want 3m", cfg.LoginTimeout)
	}
	if cfg.KeepaliveInterval != 5*time.Second {
		t.Errorf("KeepaliveInterval = %v; want 5s", cfg.KeepaliveInterval)
	}
	if cfg.ReadyElementJS == "" {
		t.Errorf("ReadyElementJS not defaulted")
	}
}

func TestAwaitReadyTimesOutWithLaunchError(t *testing.T) {
	c := testController(Config{
		OrderURL:     "https://example.test/order",
		LoginTimeout: 600 * time.Millisecond,
	})

	// No browser behind the endpoint: every probe fails until the deadline.
	err := c.awaitReady(context.Background(), "no-such-session")
	if err == nil {
		t.Fatalf("awaitReady() = nil without a browser")
	}
	var ce *fault.CodedError
	if !errors.As(err, &ce) || ce.Code != fault.CodeLaunchError {
		t.Fatalf("awaitReady() error = %v; want %s", err, fault.CodeLaunchError)
	}
}

func TestAwaitReadyHonorsContext(t *testing.T) {
	c := testController(Config{OrderURL: "https://example.test/order"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := c.awaitReady(ctx, "no-such-session")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("awaitReady() error = %v; want context deadline", err)
	}
}

func TestStateTransitionsNotify(t *testing.T) {
	c := testController(Config{OrderURL: "https://example.test/order"})

	var seen []State
	c.OnStateChange = func(s State) { seen = append(seen, s) }

	c.setState(StateStarting)
	c.setState(StateStarting) // no transition, no callback
	c.setState(StateRunning)
	c.setState(StateCrashed)

	want := []State{StateStarting, StateRunning, StateCrashed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v; want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s; want %s", i, seen[i], want[i])
		}
	}
}

func TestKeepaliveRestartsCrashedSession(t *testing.T) {
	c := testController(Config{
		OrderURL:          "https://example.test/order",
		KeepaliveInterval: 10 * time.Millisecond,
	})

	var mu sync.Mutex
	var seen []State
	c.OnStateChange = func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}

	var probes atomic.Int32
	c.probeFn = func(context.Context) error {
		if probes.Add(1) == 1 {
			return fault.New(fault.CodeSessionLost, "liveness probe", errors.New("ws closed"))
		}
		return nil
	}
	c.restartFn = func(context.Context) error {
		c.setState(StateRestarting)
		c.setState(StateRunning)
		return nil
	}

	c.setState(StateRunning)
	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(stop)

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateRunning || probes.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("session never recovered; states = %v", seen)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateRunning, StateCrashed, StateRestarting, StateRunning}
	if len(seen) < len(want) {
		t.Fatalf("transitions = %v; want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s; want %s", i, seen[i], want[i])
		}
	}
}

func TestProbeWithoutSession(t *testing.T) {
	c := testController(Config{OrderURL: "https://example.test/order"})

	err := c.probe(context.Background())
	var ce *fault.CodedError
	if !errors.As(err, &ce) || ce.Code != fault.CodeSessionLost {
		t.Fatalf("probe() error = %v; want %s", err, fault.CodeSessionLost)
	}
}
