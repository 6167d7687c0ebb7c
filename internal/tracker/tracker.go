// Package tracker holds the per-slot trading state machines and the global
// trade lock that keeps at most one of them mid-trade. Trackers are not safe
// for concurrent use: all mutation happens on the desk's state owner
// goroutine, with automation results marshaled back onto it before any
// Complete or Fail call.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/trade_desk/internal/fault"
	"github.com/dgnsrekt/trade_desk/internal/marketdata"
)

// Phase is a tracker's lifecycle phase.
type Phase string

const (
	PhaseEmpty       Phase = "EMPTY"
	PhaseIdle        Phase = "IDLE"
	PhaseBuyPending  Phase = "BUY_PENDING"
	PhaseHolding     Phase = "HOLDING"
	PhaseSellPending Phase = "SELL_PENDING"
	PhaseDisabled    Phase = "DISABLED"
)

// validationLookback is the fetch window used to prove a symbol has data
// before it is accepted into a slot.
const validationLookback = 24 * time.Hour

// Tracker is one instrument slot. It owns its symbol, pending trade amount
// and highlight price, and only changes phase through its own methods and
// the lock's disable/enable broadcast.
type Tracker struct {
	id       string
	provider marketdata.Provider
	lock     *Lock
	log      *slog.Logger

	symbol    string
	amount    string
	phase     Phase
	prevPhase Phase
	highlight float64
}

// New builds an empty tracker and registers it with the trade lock.
func New(id string, provider marketdata.Provider, lock *Lock, log *slog.Logger) *Tracker {
	t := &Tracker{
		id:       id,
		provider: provider,
		lock:     lock,
		log:      log.With("tracker", id),
		phase:    PhaseEmpty,
	}
	lock.Register(id, t.disable, t.enable)
	return t
}

func (t *Tracker) ID() string         { return t.id }
func (t *Tracker) Symbol() string     { return t.symbol }
func (t *Tracker) Phase() Phase       { return t.phase }
func (t *Tracker) Amount() string     { return t.amount }
func (t *Tracker) Highlight() float64 { return t.highlight }

// SetAmount stores the pending trade amount verbatim. It is parsed and
// validated on submit, not here, so a half-typed value never rejects.
func (t *Tracker) SetAmount(amount string) { t.amount = amount }

// LoadSymbol validates the symbol with a live fetch and assigns it to the
// slot. A symbol that returns no data is rejected and the slot is unchanged.
// Loading a different symbol while holding clears the highlight, since the
// position markers belong to the old symbol.
func (t *Tracker) LoadSymbol(ctx context.Context, symbol string) error {
	switch t.phase {
	case PhaseEmpty, PhaseIdle, PhaseHolding:
	default:
		return fault.New(fault.CodeState, fmt.Sprintf("cannot load symbol while %s", t.phase), nil)
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fault.New(fault.CodeValidation, "symbol is empty", nil)
	}

	snap, err := t.provider.Fetch(ctx, symbol, validationLookback, marketdata.ResolutionMinute)
	if err != nil {
		return fault.New(fault.CodeDataUnavailable, fmt.Sprintf("validate %s", symbol), err)
	}
	if snap.Empty() {
		return fault.New(fault.CodeDataUnavailable, fmt.Sprintf("no data for %s", symbol), nil)
	}

	if t.phase == PhaseHolding && symbol != t.symbol {
		t.highlight = 0
		t.phase = PhaseIdle
	}
	if t.phase == PhaseEmpty {
		t.phase = PhaseIdle
	}
	t.symbol = symbol
	t.log.Info("symbol loaded", "symbol", symbol)
	return nil
}

// SubmitBuy validates the amount, takes the trade lock and enters
// BUY_PENDING. The caller dispatches the automation run after this returns.
func (t *Tracker) SubmitBuy(amount string) error {
	if t.phase != PhaseIdle {
		return fault.New(fault.CodeState, fmt.Sprintf("cannot buy while %s", t.phase), nil)
	}
	if err := t.validateAmount(amount); err != nil {
		return err
	}
	if err := t.lock.Acquire(t.id); err != nil {
		return err
	}
	t.amount = amount
	t.phase = PhaseBuyPending
	t.log.Info("buy submitted", "symbol", t.symbol, "amount", amount)
	return nil
}

// SubmitSell validates the amount, takes the trade lock and enters
// SELL_PENDING. The highlight is cleared up front; a failed sell does not
// bring it back.
func (t *Tracker) SubmitSell(amount string) error {
	if t.phase != PhaseHolding {
		return fault.New(fault.CodeState, fmt.Sprintf("cannot sell while %s", t.phase), nil)
	}
	if err := t.validateAmount(amount); err != nil {
		return err
	}
	if err := t.lock.Acquire(t.id); err != nil {
		return err
	}
	t.amount = amount
	t.highlight = 0
	t.phase = PhaseSellPending
	t.log.Info("sell submitted", "symbol", t.symbol, "amount", amount)
	return nil
}

// CompleteBuy records the filled purchase and releases the lock. A zero
// price means the current price could not be read: the tracker still reaches
// HOLDING, just with no highlight overlay.
func (t *Tracker) CompleteBuy(price float64) {
	if t.phase != PhaseBuyPending {
		return
	}
	if price > 0 {
		t.highlight = price
	} else {
		t.log.Warn("buy completed without a readable price", "symbol", t.symbol)
	}
	t.phase = PhaseHolding
	t.lock.Release(t.id)
}

// CompleteSell returns the slot to IDLE and releases the lock.
func (t *Tracker) CompleteSell() {
	if t.phase != PhaseSellPending {
		return
	}
	t.phase = PhaseIdle
	t.lock.Release(t.id)
}

// FailAutomation unwinds a pending trade after its automation run failed.
// The lock is released either way so the other slots are not starved.
func (t *Tracker) FailAutomation() {
	switch t.phase {
	case PhaseBuyPending:
		t.phase = PhaseIdle
	case PhaseSellPending:
		t.phase = PhaseHolding
	default:
		return
	}
	t.lock.Release(t.id)
	t.log.Warn("automation failed, trade unwound", "symbol", t.symbol, "phase", string(t.phase))
}

// Reset clears the highlight and pending amount. It refuses to run without
// explicit confirmation and while a trade is pending or the slot is disabled.
func (t *Tracker) Reset(confirmed bool) error {
	switch t.phase {
	case PhaseBuyPending, PhaseSellPending:
		return fault.New(fault.CodeState, "cannot reset with a trade in flight", nil)
	case PhaseDisabled:
		return fault.New(fault.CodeState, "cannot reset while disabled", nil)
	}
	if !confirmed {
		return fault.New(fault.CodeValidation, "reset requires confirmation", nil)
	}
	t.highlight = 0
	t.amount = ""
	if t.lock.Holder() == t.id {
		t.lock.Release(t.id)
	}
	if t.symbol != "" {
		t.phase = PhaseIdle
	} else {
		t.phase = PhaseEmpty
	}
	t.log.Info("tracker reset", "symbol", t.symbol)
	return nil
}

// Override force-enables the slot and clears its highlight and pending
// trade. It is the recovery hatch for a wedged lock, not part of the normal
// trade flow, so it skips the confirmation Reset demands.
func (t *Tracker) Override() {
	t.highlight = 0
	t.amount = ""
	if t.phase == PhaseDisabled {
		t.phase = t.prevPhase
	}
	switch t.phase {
	case PhaseBuyPending:
		t.phase = PhaseIdle
	case PhaseSellPending, PhaseHolding:
		t.phase = PhaseIdle
	}
	if t.symbol == "" {
		t.phase = PhaseEmpty
	}
}

// RestoreHolding rehydrates a position recorded by a previous session. Only
// an idle slot with a positive recovered price becomes HOLDING again.
func (t *Tracker) RestoreHolding(price float64) {
	if t.phase != PhaseIdle || price <= 0 {
		return
	}
	t.highlight = price
	t.phase = PhaseHolding
	t.log.Info("restored holding from prior session", "symbol", t.symbol, "price", price)
}

func (t *Tracker) validateAmount(amount string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return fault.New(fault.CodeValidation, fmt.Sprintf("amount %q is not a number", amount), err)
	}
	if !d.IsPositive() {
		return fault.New(fault.CodeValidation, fmt.Sprintf("amount %s must be positive", d), nil)
	}
	return nil
}

func (t *Tracker) disable() {
	if t.phase == PhaseDisabled {
		return
	}
	t.prevPhase = t.phase
	t.phase = PhaseDisabled
}

func (t *Tracker) enable() {
	if t.phase != PhaseDisabled {
		return
	}
	t.phase = t.prevPhase
}
