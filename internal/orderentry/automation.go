package orderentry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/trade_desk/internal/fault"
)

// Config holds automation timing and the per-action value modes.
type Config struct {
	// StepTimeout bounds every protocol step except the simplified-ticket
	// probe.
	StepTimeout time.Duration
	// ProbeTimeout bounds the simplified-ticket probe, which is expected to
	// fail fast on accounts already showing the expanded ticket.
	ProbeTimeout time.Duration
	// PollInterval is how often a waiting step retries its lookup.
	PollInterval time.Duration
	// BuyMode and SellMode are the order-value controls clicked per action.
	// Buys are sized in dollars and sells in shares; the asymmetry is how
	// the account is actually traded, not an oversight.
	BuyMode  string
	SellMode string
}

func (c *Config) applyDefaults() {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 20 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.BuyMode == "" {
		c.BuyMode = LabelDollars
	}
	if c.SellMode == "" {
		c.SellMode = LabelShares
	}
}

// Automation walks the order ticket through its fixed step sequence. Any
// step timing out or missing its element aborts the whole run with a
// step-identified error; partial page state is left as-is since nothing has
// been submitted.
type Automation struct {
	cfg      Config
	driver   PageDriver
	audit    AuditRecorder
	ack      Acknowledger
	evidence EvidenceSink
	log      *slog.Logger
}

// NewAutomation builds the runner. evidence may be nil to skip failure
// screenshots.
func NewAutomation(cfg Config, driver PageDriver, audit AuditRecorder, ack Acknowledger, evidence EvidenceSink, log *slog.Logger) *Automation {
	cfg.applyDefaults()
	return &Automation{
		cfg:      cfg,
		driver:   driver,
		audit:    audit,
		ack:      ack,
		evidence: evidence,
		log:      log.With("component", "orderentry"),
	}
}

// Run prepares the ticket for the given order and blocks on the human
// acknowledgment before closing the tab. It never submits.
func (a *Automation) Run(ctx context.Context, order Order) (err error) {
	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	a.log.Info("automation run", "symbol", symbol, "action", string(order.Action), "amount", order.Amount)

	// The tab outlives any step failure only long enough to be closed.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := a.driver.Close(closeCtx); cerr != nil {
			a.log.Warn("order tab close failed", "error", cerr)
		}
	}()

	// Registered after the close defer so the screenshot lands while the
	// tab is still open.
	defer func() {
		if err != nil {
			a.captureFailure(order, symbol, err)
		}
	}()

	if err := a.step(ctx, "open order tab", a.cfg.StepTimeout, a.driver.Open); err != nil {
		return err
	}

	if err := a.step(ctx, "enter symbol", a.cfg.StepTimeout, func(ctx context.Context) error {
		return a.driver.FillByID(ctx, SymbolInputID, symbol)
	}); err != nil {
		return err
	}

	if err := a.selectTicketMode(ctx); err != nil {
		return err
	}

	actionLabel, valueMode := LabelBuy, a.cfg.BuyMode
	if order.Action == ActionSell {
		actionLabel, valueMode = LabelSell, a.cfg.SellMode
	}
	for _, click := range []struct {
		step  string
		label string
	}{
		{"select action", actionLabel},
		{"select value mode", valueMode},
	} {
		if err := a.clickStep(ctx, click.step, a.cfg.StepTimeout, click.label); err != nil {
			return err
		}
	}

	if err := a.step(ctx, "enter amount", a.cfg.StepTimeout, func(ctx context.Context) error {
		return a.driver.FillByID(ctx, QuantityInputID, order.Amount)
	}); err != nil {
		return err
	}

	if err := a.clickStep(ctx, "select market order", a.cfg.StepTimeout, LabelMarket); err != nil {
		return err
	}
	if err := a.clickStep(ctx, "select cash settlement", a.cfg.StepTimeout, LabelCash); err != nil {
		return err
	}

	if err := a.audit.Executed(string(order.Action), symbol, order.Amount, LabelMarket, LabelCash); err != nil {
		return fault.New(fault.CodeState, "record executed entry", err)
	}

	// The ticket is staged. Submission is the human's move; hold the tab
	// open until they say they are done.
	a.log.Info("ticket staged, awaiting acknowledgment", "symbol", symbol)
	if err := a.ack.Await(ctx); err != nil {
		return fault.New(fault.CodeStepTimeout, "await acknowledgment", err)
	}
	return nil
}

// captureFailure stores a screenshot of the tab as it looked when the run
// aborted. Best effort only; the run's error is already decided.
func (a *Automation) captureFailure(order Order, symbol string, cause error) {
	if a.evidence == nil {
		return
	}
	shooter, ok := a.driver.(Screenshotter)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	img, err := shooter.Screenshot(ctx)
	if err != nil {
		a.log.Warn("failure screenshot capture failed", "symbol", symbol, "error", err)
		return
	}
	meta, err := a.evidence.SaveFailure(order.TrackerID, symbol, string(order.Action), cause.Error(), img)
	if err != nil {
		a.log.Warn("failure screenshot store failed", "symbol", symbol, "error", err)
		return
	}
	a.log.Info("failure screenshot stored", "symbol", symbol, "snapshot_id", meta.ID)
}

// selectTicketMode prefers the simplified ticket and falls back to verifying
// the expanded one. Neither being present means the page layout changed out
// from under us.
func (a *Automation) selectTicketMode(ctx context.Context) error {
	err := a.step(ctx, "select simplified ticket", a.cfg.ProbeTimeout, func(ctx context.Context) error {
		return a.clickOnce(ctx, LabelSimplifiedTicket)
	})
	if err == nil {
		return nil
	}

	var found bool
	probeErr := a.step(ctx, "verify expanded ticket", a.cfg.ProbeTimeout, func(ctx context.Context) error {
		ok, herr := a.driver.HasLabel(ctx, LabelExpandedTicket)
		if herr != nil {
			return herr
		}
		found = ok
		if !ok {
			return fault.New(fault.CodeElementMissing, LabelExpandedTicket, nil)
		}
		return nil
	})
	if probeErr != nil || !found {
		return fault.New(fault.CodeTicketLayout,
			"neither simplified nor expanded ticket marker found", nil)
	}
	return nil
}

// clickOnce is a single-attempt labeled click that errors when the control
// is absent, so step can retry it.
func (a *Automation) clickOnce(ctx context.Context, label string) error {
	clicked, err := a.driver.ClickByLabel(ctx, label)
	if err != nil {
		return err
	}
	if !clicked {
		return fault.New(fault.CodeElementMissing, label, nil)
	}
	return nil
}

func (a *Automation) clickStep(ctx context.Context, step string, timeout time.Duration, label string) error {
	return a.step(ctx, step, timeout, func(ctx context.Context) error {
		return a.clickOnce(ctx, label)
	})
}

// step retries fn at the poll interval until it succeeds or the step's
// timeout expires. The returned error names the step that failed.
func (a *Automation) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		lastErr = fn(stepCtx)
		if lastErr == nil {
			return nil
		}
		select {
		case <-stepCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fault.New(fault.CodeStepTimeout,
				fmt.Sprintf("step %q timed out after %s", name, timeout), lastErr)
		case <-ticker.C:
		}
	}
}
