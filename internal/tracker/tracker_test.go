package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgnsrekt/trade_desk/internal/fault"
	"github.com/dgnsrekt/trade_desk/internal/marketdata"
)

type stubProvider struct {
	snaps map[string]marketdata.Snapshot
	err   error
}

func (p *stubProvider) Fetch(_ context.Context, symbol string, _ time.Duration, res marketdata.Resolution) (marketdata.Snapshot, error) {
	if p.err != nil {
		return marketdata.Snapshot{}, p.err
	}
	snap, ok := p.snaps[symbol]
	if !ok {
		return marketdata.Snapshot{Symbol: symbol, Resolution: res}, nil
	}
	return snap, nil
}

func providerWith(symbols ...string) *stubProvider {
	p := &stubProvider{snaps: map[string]marketdata.Snapshot{}}
	for _, s := range symbols {
		p.snaps[s] = marketdata.Snapshot{
			Symbol:     s,
			Bars:       []marketdata.Bar{{Time: time.Now(), Close: 100}},
			Resolution: marketdata.ResolutionMinute,
		}
	}
	return p
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var ce *fault.CodedError
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not a CodedError", err)
	}
	return ce.Code
}

func loaded(t *testing.T, tr *Tracker, symbol string) {
	t.Helper()
	if err := tr.LoadSymbol(context.Background(), symbol); err != nil {
		t.Fatalf("LoadSymbol(%s) error = %v", symbol, err)
	}
}

func TestLoadSymbolRejectsNoData(t *testing.T) {
	tr := New("slot-1", providerWith(), NewLock(), testLogger())

	err := tr.LoadSymbol(context.Background(), "ABC")
	if err == nil {
		t.Fatalf("LoadSymbol() = nil for symbol with no data")
	}
	if codeOf(t, err) != fault.CodeDataUnavailable {
		t.Fatalf("code = %s; want %s", codeOf(t, err), fault.CodeDataUnavailable)
	}
	if tr.Phase() != PhaseEmpty || tr.Symbol() != "" {
		t.Fatalf("tracker changed on rejected load: phase=%s symbol=%q", tr.Phase(), tr.Symbol())
	}
}

func TestLoadSymbolNormalizesAndTransitions(t *testing.T) {
	tr := New("slot-1", providerWith("AAPL"), NewLock(), testLogger())

	loaded(t, tr, "  aapl ")
	if tr.Symbol() != "AAPL" {
		t.Fatalf("Symbol() = %q; want AAPL", tr.Symbol())
	}
	if tr.Phase() != PhaseIdle {
		t.Fatalf("Phase() = %s; want %s", tr.Phase(), PhaseIdle)
	}
}

func TestSubmitBuyRejectsBadAmount(t *testing.T) {
	tr := New("slot-1", providerWith("AAPL"), NewLock(), testLogger())
	loaded(t, tr, "AAPL")

	for _, amount := range []string{"", "abc", "0", "-5"} {
		err := tr.SubmitBuy(amount)
		if err == nil {
			t.Fatalf("SubmitBuy(%q) = nil; want validation error", amount)
		}
		if codeOf(t, err) != fault.CodeValidation {
			t.Fatalf("SubmitBuy(%q) code = %s; want %s", amount, codeOf(t, err), fault.CodeValidation)
		}
		if tr.Phase() != PhaseIdle {
			t.Fatalf("SubmitBuy(%q) changed phase to %s", amount, tr.Phase())
		}
	}
}

func TestBuyLifecycleDisablesOthers(t *testing.T) {
	lock := NewLock()
	p := providerWith("AAPL", "TSLA")
	a := New("slot-1", p, lock, testLogger())
	b := New("slot-2", p, lock, testLogger())
	loaded(t, a, "AAPL")
	loaded(t, b, "TSLA")

	if err := a.SubmitBuy("50"); err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}
	if a.Phase() != PhaseBuyPending {
		t.Fatalf("a.Phase() = %s; want %s", a.Phase(), PhaseBuyPending)
	}
	if b.Phase() != PhaseDisabled {
		t.Fatalf("b.Phase() = %s; want %s", b.Phase(), PhaseDisabled)
	}

	err := b.SubmitBuy("10")
	if err == nil {
		t.Fatalf("second SubmitBuy() = nil; want state error")
	}

	a.CompleteBuy(123.45)
	if a.Phase() != PhaseHolding {
		t.Fatalf("a.Phase() = %s; want %s", a.Phase(), PhaseHolding)
	}
	if a.Highlight() != 123.45 {
		t.Fatalf("a.Highlight() = %v; want 123.45", a.Highlight())
	}
	if b.Phase() != PhaseIdle {
		t.Fatalf("b.Phase() after release = %s; want %s", b.Phase(), PhaseIdle)
	}
	if lock.Holder() != "" {
		t.Fatalf("lock still held by %q after CompleteBuy", lock.Holder())
	}
}

func TestCompleteBuyWithoutPriceDegrades(t *testing.T) {
	lock := NewLock()
	tr := New("slot-1", providerWith("AAPL"), lock, testLogger())
	loaded(t, tr, "AAPL")
	if err := tr.SubmitBuy("50"); err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}

	tr.CompleteBuy(0)
	if tr.Phase() != PhaseHolding {
		t.Fatalf("Phase() = %s; want %s", tr.Phase(), PhaseHolding)
	}
	if tr.Highlight() != 0 {
		t.Fatalf("Highlight() = %v; want none", tr.Highlight())
	}
	if lock.Holder() != "" {
		t.Fatalf("lock not released in degraded completion")
	}
}

func TestSellLifecycle(t *testing.T) {
	lock := NewLock()
	tr := New("slot-1", providerWith("AAPL"), lock, testLogger())
	loaded(t, tr, "AAPL")
	if err := tr.SubmitBuy("50"); err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}
	tr.CompleteBuy(100)

	if err := tr.SubmitSell("50"); err != nil {
		t.Fatalf("SubmitSell() error = %v", err)
	}
	if tr.Phase() != PhaseSellPending {
		t.Fatalf("Phase() = %s; want %s", tr.Phase(), PhaseSellPending)
	}
	if tr.Highlight() != 0 {
		t.Fatalf("Highlight() = %v; want cleared on submit", tr.Highlight())
	}

	tr.CompleteSell()
	if tr.Phase() != PhaseIdle {
		t.Fatalf("Phase() = %s; want %s", tr.Phase(), PhaseIdle)
	}
	if lock.Holder() != "" {
		t.Fatalf("lock still held after CompleteSell")
	}
}

func TestSubmitSellOnlyFromHolding(t *testing.T) {
	tr := New("slot-1", providerWith("AAPL"), NewLock(), testLogger())
	loaded(t, tr, "AAPL")

	err := tr.SubmitSell("50")
	if err == nil {
		t.Fatalf("SubmitSell() from IDLE = nil; want state error")
	}
	if codeOf(t, err) != fault.CodeState {
		t.Fatalf("code = %s; want %s", codeOf(t, err), fault.CodeState)
	}
}

func TestFailAutomationUnwinds(t *testing.T) {
	lock := NewLock()
	p := providerWith("AAPL", "TSLA")
	a := New("slot-1", p, lock, testLogger())
	b := New("slot-2", p, lock, testLogger())
	loaded(t, a, "AAPL")
	loaded(t, b, "TSLA")

	if err := a.SubmitBuy("50"); err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}
	a.FailAutomation()
	if a.Phase() != PhaseIdle {
		t.Fatalf("a.Phase() = %s; want %s after failed buy", a.Phase(), PhaseIdle)
	}
	if b.Phase() != PhaseIdle {
		t.Fatalf("b.Phase() = %s; want re-enabled after failure", b.Phase())
	}
	if lock.Holder() != "" {
		t.Fatalf("lock still held after FailAutomation")
	}

	if err := a.SubmitBuy("50"); err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}
	a.CompleteBuy(100)
	if err := a.SubmitSell("50"); err != nil {
		t.Fatalf("SubmitSell() error = %v", err)
	}
	a.FailAutomation()
	if a.Phase() != PhaseHolding {
		t.Fatalf("a.Phase() = %s; want %s after failed sell", a.Phase(), PhaseHolding)
	}
}

func TestResetFailsClosed(t *testing.T) {
	tr := New("slot-1", providerWith("AAPL"), NewLock(), testLogger())
	loaded(t, tr, "AAPL")
	if err := tr.SubmitBuy("50"); err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}
	tr.CompleteBuy(100)

	err := tr.Reset(false)
	if err == nil {
		t.Fatalf("Reset(false) = nil; want validation error")
	}
	if tr.Highlight() != 100 {
		t.Fatalf("Highlight() = %v; unconfirmed reset must not clear it", tr.Highlight())
	}

	if err := tr.Reset(true); err != nil {
		t.Fatalf("Reset(true) error = %v", err)
	}
	if tr.Highlight() != 0 || tr.Phase() != PhaseIdle {
		t.Fatalf("after reset: highlight=%v phase=%s", tr.Highlight(), tr.Phase())
	}
}

func TestResetRejectedMidTrade(t *testing.T) {
	tr := New("slot-1", providerWith("AAPL"), NewLock(), testLogger())
	loaded(t, tr, "AAPL")
	if err := tr.SubmitBuy("50"); err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}

	err := tr.Reset(true)
	if err == nil {
		t.Fatalf("Reset() = nil while BUY_PENDING; want state error")
	}
	if codeOf(t, err) != fault.CodeState {
		t.Fatalf("code = %s; want %s", codeOf(t, err), fault.CodeState)
	}
}

func TestLockReentrantAcquire(t *testing.T) {
	lock := NewLock()
	if err := lock.Acquire("slot-1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := lock.Acquire("slot-1"); err != nil {
		t.Fatalf("re-entrant Acquire() error = %v", err)
	}
	if err := lock.Acquire("slot-2"); err == nil {
		t.Fatalf("Acquire() by second holder = nil; want rejection")
	}
	lock.Release("slot-2")
	if lock.Holder() != "slot-1" {
		t.Fatalf("Release() by non-holder changed holder to %q", lock.Holder())
	}
	lock.Release("slot-1")
	if lock.Holder() != "" {
		t.Fatalf("Holder() = %q after release; want free", lock.Holder())
	}
}
