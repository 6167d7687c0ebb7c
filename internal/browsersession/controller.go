// Package browsersession owns the lifecycle of the driven browser: launch,
// readiness, keepalive, and crash recovery. Automation runs borrow tabs from
// the controller; they never talk to the browser process directly.
package browsersession

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/trade_desk/internal/browser"
	"github.com/dgnsrekt/trade_desk/internal/fault"
)

// State is the controller's lifecycle state.
type State string

const (
	StateStopped    State = "STOPPED"
	StateStarting   State = "STARTING"
	StateRunning    State = "RUNNING"
	StateCrashed    State = "CRASHED"
	StateRestarting State = "RESTARTING"
)

// Config holds session controller settings.
type Config struct {
	// OrderURL is the fixed order-entry page the primary tab is parked on.
	OrderURL string
	// ReadyElementJS evaluates to "true" once a known order-entry element is
	// present. Used to detect readiness through a manual login interstitial.
	ReadyElementJS string
	// LoginTimeout bounds the readiness poll in Start. The login step is
	// manual, so this is minutes, not seconds.
	LoginTimeout time.Duration
	// KeepaliveInterval is the liveness poll period.
	KeepaliveInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 3 * time.Minute
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 5 * time.Second
	}
	if c.ReadyElementJS == "" {
		c.ReadyElementJS = `document.getElementById("eq-ticket-dest-symbol") !== null`
	}
}

// Controller supervises one browser session. Start, Stop, Restart and
// EnsureAlive are safe to call from the keepalive goroutine and the
// automation dispatch path concurrently.
type Controller struct {
	cfg      Config
	launcher *browser.Launcher
	cdp      *rawCDP
	log      *slog.Logger

	// OnStateChange, when set before Start, is invoked with every state
	// transition. Used for status messages and restart metrics.
	OnStateChange func(State)

	// probeFn and restartFn are what the keepalive loop calls; they default
	// to probe and Restart and exist so liveness handling can be tested
	// without a browser.
	probeFn   func(ctx context.Context) error
	restartFn func(ctx context.Context) error

	mu             sync.Mutex
	state          State
	primaryTarget  string
	primarySession string
	stopKeepalive  chan struct{}
}

// NewController wires a controller over the launcher and CDP endpoint.
func NewController(cfg Config, launcher *browser.Launcher, cdpBase string, log *slog.Logger) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:      cfg,
		launcher: launcher,
		cdp:      newRawCDP(cdpBase),
		log:      log.With("component", "browsersession"),
		state:    StateStopped,
	}
	c.probeFn = c.probe
	c.restartFn = c.Restart
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Info("session state", "from", string(prev), "to", string(s))
		if c.OnStateChange != nil {
			c.OnStateChange(s)
		}
	}
}

// Start launches the browser, parks the primary tab on the order-entry page
// and blocks until the page is ready. Readiness is a bounded poll, not a
// fixed sleep: the page counts as ready once the order URL is current or a
// known order-entry element exists, whichever happens first. A login
// interstitial in between is driven by the human, not by us.
func (c *Controller) Start(ctx context.Context) error {
	c.setState(StateStarting)

	if err := c.launcher.Launch(ctx); err != nil {
		c.setState(StateStopped)
		return err
	}
	if err := c.cdp.connect(ctx); err != nil {
		c.setState(StateStopped)
		return fault.New(fault.CodeLaunchError, "connect to browser", err)
	}

	targetID, sessionID, err := c.adoptPrimaryTab(ctx)
	if err != nil {
		c.setState(StateStopped)
		return err
	}
	c.mu.Lock()
	c.primaryTarget = targetID
	c.primarySession = sessionID
	c.mu.Unlock()

	if err := c.cdp.navigate(ctx, sessionID, c.cfg.OrderURL); err != nil {
		c.setState(StateStopped)
		return fault.New(fault.CodeLaunchError, "navigate to order page", err)
	}
	if err := c.awaitReady(ctx, sessionID); err != nil {
		c.setState(StateStopped)
		return err
	}

	c.mu.Lock()
	c.stopKeepalive = make(chan struct{})
	stop := c.stopKeepalive
	c.mu.Unlock()
	go c.keepalive(stop)

	c.setState(StateRunning)
	return nil
}

// adoptPrimaryTab attaches to the first page target, creating one if the
// browser came up without any.
func (c *Controller) adoptPrimaryTab(ctx context.Context) (targetID, sessionID string, err error) {
	infos, err := c.cdp.listTargets(ctx)
	if err != nil {
		return "", "", fault.New(fault.CodeLaunchError, "list targets", err)
	}
	for _, info := range infos {
		if info.Type == "page" {
			targetID = string(info.TargetID)
			break
		}
	}
	if targetID == "" {
		targetID, err = c.cdp.createTarget(ctx, c.cfg.OrderURL)
		if err != nil {
			return "", "", fault.New(fault.CodeLaunchError, "create primary tab", err)
		}
	}
	sessionID, err = c.cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", "", fault.New(fault.CodeLaunchError, "attach primary tab", err)
	}
	return targetID, sessionID, nil
}

// awaitReady polls every 250ms until the order page is current or a known
// order-entry element shows up, bounded by the login timeout.
func (c *Controller) awaitReady(ctx context.Context, sessionID string) error {
	deadline := time.After(c.cfg.LoginTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fault.New(fault.CodeLaunchError,
				fmt.Sprintf("order page not ready within %s", c.cfg.LoginTimeout), nil)
		case <-ticker.C:
			url, err := c.cdp.evaluate(ctx, sessionID, "window.location.href")
			if err == nil && strings.HasPrefix(url, c.cfg.OrderURL) {
				return nil
			}
			present, err := c.cdp.evaluate(ctx, sessionID, c.cfg.ReadyElementJS)
			if err == nil && present == "true" {
				return nil
			}
		}
	}
}

// keepalive polls session liveness until stopped. A failed probe marks the
// session CRASHED and restarts it from scratch; a half-alive session is
// worse than a fresh one, so no partial repair is attempted.
func (c *Controller) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.State() != StateRunning {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := c.probeFn(ctx)
			cancel()
			if err == nil {
				continue
			}
			c.log.Warn("keepalive probe failed", "error", err)
			c.setState(StateCrashed)
			ctx, cancel = context.WithTimeout(context.Background(), c.cfg.LoginTimeout+time.Minute)
			if rerr := c.restartFn(ctx); rerr != nil {
				c.log.Error("session restart failed", "error", rerr)
			}
			cancel()
		}
	}
}

// probe reads a trivial page property on the primary session.
func (c *Controller) probe(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.primarySession
	c.mu.Unlock()
	if sessionID == "" {
		return fault.New(fault.CodeSessionLost, "no primary session", nil)
	}
	if _, err := c.cdp.evaluate(ctx, sessionID, "document.readyState"); err != nil {
		return fault.New(fault.CodeSessionLost, "liveness probe", err)
	}
	return nil
}

// Restart tears the session down and runs Start from scratch.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateRestarting || c.state == StateStarting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateRestarting)
	c.teardown()
	return c.Start(ctx)
}

// EnsureAlive is the synchronous precondition for automation dispatch: if
// the session does not answer a probe right now, it is restarted inline
// before the caller proceeds.
func (c *Controller) EnsureAlive(ctx context.Context) error {
	if c.State() == StateRunning {
		if err := c.probe(ctx); err == nil {
			return nil
		}
	}
	c.log.Warn("session not alive before dispatch, restarting")
	return c.Restart(ctx)
}

// OpenTab opens a new tab at url and returns a handle attached to it.
func (c *Controller) OpenTab(ctx context.Context, url string) (*Tab, error) {
	targetID, err := c.cdp.createTarget(ctx, url)
	if err != nil {
		return nil, fault.New(fault.CodeSessionLost, "open tab", err)
	}
	sessionID, err := c.cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return nil, fault.New(fault.CodeSessionLost, "attach tab", err)
	}
	return &Tab{cdp: c.cdp, targetID: targetID, sessionID: sessionID}, nil
}

// ActivatePrimary brings the primary order-page tab back to the front.
func (c *Controller) ActivatePrimary(ctx context.Context) error {
	c.mu.Lock()
	targetID := c.primaryTarget
	c.mu.Unlock()
	if targetID == "" {
		return fault.New(fault.CodeSessionLost, "no primary tab", nil)
	}
	return c.cdp.activateTarget(ctx, targetID)
}

// Stop shuts the session down for good.
func (c *Controller) Stop() {
	c.teardown()
	c.setState(StateStopped)
}

func (c *Controller) teardown() {
	c.mu.Lock()
	if c.stopKeepalive != nil {
		close(c.stopKeepalive)
		c.stopKeepalive = nil
	}
	c.primaryTarget = ""
	c.primarySession = ""
	c.mu.Unlock()

	c.cdp.close()
	c.launcher.Stop()
}

// Tab is a live handle on one attached browser tab.
type Tab struct {
	cdp       *rawCDP
	targetID  string
	sessionID string
}

// Eval runs a JS expression on the tab and returns its string result.
func (t *Tab) Eval(ctx context.Context, js string) (string, error) {
	return t.cdp.evaluate(ctx, t.sessionID, js)
}

// ClickAt dispatches a trusted click at viewport coordinates.
func (t *Tab) ClickAt(ctx context.Context, x, y float64) error {
	return t.cdp.dispatchMouseClick(ctx, t.sessionID, x, y)
}

// TypeText sends text one trusted char event at a time.
func (t *Tab) TypeText(ctx context.Context, text string) error {
	for _, r := range text {
		if err := t.cdp.dispatchCharInput(ctx, t.sessionID, string(r)); err != nil {
			return err
		}
	}
	return nil
}

// Screenshot grabs the tab's viewport as PNG bytes.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	return t.cdp.captureScreenshot(ctx, t.sessionID)
}

// Close detaches from and closes the tab.
func (t *Tab) Close(ctx context.Context) error {
	if err := t.cdp.detachFromTarget(ctx, t.sessionID); err != nil {
		slog.Debug("tab detach", "error", err)
	}
	return t.cdp.closeTarget(ctx, t.targetID)
}
