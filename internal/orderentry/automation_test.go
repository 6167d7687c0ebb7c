package orderentry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgnsrekt/trade_desk/internal/fault"
	"github.com/dgnsrekt/trade_desk/internal/snapshot"
)

// fakeDriver scripts which labels and ids exist and records every action in
// order.
type fakeDriver struct {
	labels map[string]bool
	ids    map[string]bool
	calls  []string
	opened bool
	closed bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		labels: map[string]bool{
			LabelSimplifiedTicket: true,
			LabelBuy:              true,
			LabelSell:             true,
			LabelDollars:          true,
			LabelShares:           true,
			LabelMarket:           true,
			LabelCash:             true,
		},
		ids: map[string]bool{
			SymbolInputID:   true,
			QuantityInputID: true,
		},
	}
}

func (d *fakeDriver) Open(ctx context.Context) error {
	d.opened = true
	d.calls = append(d.calls, "open")
	return nil
}

func (d *fakeDriver) Close(ctx context.Context) error {
	d.closed = true
	d.calls = append(d.calls, "close")
	return nil
}

func (d *fakeDriver) FillByID(ctx context.Context, id, value string) error {
	if !d.ids[id] {
		return fault.New(fault.CodeElementMissing, id, nil)
	}
	d.calls = append(d.calls, "fill:"+id+"="+value)
	return nil
}

func (d *fakeDriver) ClickByLabel(ctx context.Context, label string) (bool, error) {
	if !d.labels[label] {
		return false, nil
	}
	d.calls = append(d.calls, "click:"+label)
	return true, nil
}

func (d *fakeDriver) HasID(ctx context.Context, id string) (bool, error) {
	return d.ids[id], nil
}

func (d *fakeDriver) HasLabel(ctx context.Context, label string) (bool, error) {
	return d.labels[label], nil
}

type recordingAudit struct {
	lines []string
}

func (a *recordingAudit) Executed(action, symbol, quantity, orderType, settlement string) error {
	a.lines = append(a.lines, action+"/"+symbol+"/"+quantity+"/"+orderType+"/"+settlement)
	return nil
}

type instantAck struct{}

func (instantAck) Await(ctx context.Context) error { return ctx.Err() }

func fastConfig() Config {
	return Config{
		StepTimeout:  400 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}
}

func newTestAutomation(d PageDriver, audit AuditRecorder, ack Acknowledger) *Automation {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAutomation(fastConfig(), d, audit, ack, nil, log)
}

func TestRunBuyHappyPath(t *testing.T) {
	d := newFakeDriver()
	audit := &recordingAudit{}
	auto := newTestAutomation(d, audit, instantAck{})

	err := auto.Run(context.Background(), Order{Symbol: "aapl", Amount: "50", Action: ActionBuy})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		"open",
		"fill:" + SymbolInputID + "=AAPL",
		"click:" + LabelSimplifiedTicket,
		"click:" + LabelBuy,
		"click:" + LabelDollars,
		"fill:" + QuantityInputID + "=50",
		"click:" + LabelMarket,
		"click:" + LabelCash,
		"close",
	}
	if len(d.calls) != len(want) {
		t.Fatalf("calls = %v; want %v", d.calls, want)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Fatalf("call %d = %q; want %q", i, d.calls[i], want[i])
		}
	}
	if len(audit.lines) != 1 || audit.lines[0] != "buy/AAPL/50/Market/Cash" {
		t.Fatalf("audit = %v", audit.lines)
	}
}

func TestRunSellUsesSharesMode(t *testing.T) {
	d := newFakeDriver()
	auto := newTestAutomation(d, &recordingAudit{}, instantAck{})

	if err := auto.Run(context.Background(), Order{Symbol: "TSLA", Amount: "10", Action: ActionSell}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var clickedShares, clickedDollars bool
	for _, c := range d.calls {
		if c == "click:"+LabelShares {
			clickedShares = true
		}
		if c == "click:"+LabelDollars {
			clickedDollars = true
		}
	}
	if !clickedShares || clickedDollars {
		t.Fatalf("sell value-mode clicks wrong: %v", d.calls)
	}
}

func TestRunFallsBackToExpandedTicket(t *testing.T) {
	d := newFakeDriver()
	d.labels[LabelSimplifiedTicket] = false
	d.labels[LabelExpandedTicket] = true
	auto := newTestAutomation(d, &recordingAudit{}, instantAck{})

	if err := auto.Run(context.Background(), Order{Symbol: "AAPL", Amount: "50", Action: ActionBuy}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunTicketLayoutError(t *testing.T) {
	d := newFakeDriver()
	d.labels[LabelSimplifiedTicket] = false

	auto := newTestAutomation(d, &recordingAudit{}, instantAck{})
	err := auto.Run(context.Background(), Order{Symbol: "AAPL", Amount: "50", Action: ActionBuy})
	if err == nil {
		t.Fatalf("Run() = nil with no ticket markers")
	}
	var ce *fault.CodedError
	if !errors.As(err, &ce) || ce.Code != fault.CodeTicketLayout {
		t.Fatalf("error = %v; want %s", err, fault.CodeTicketLayout)
	}
	if !d.closed {
		t.Fatalf("tab left open after aborted run")
	}
}

func TestRunStepTimeoutNamesStep(t *testing.T) {
	d := newFakeDriver()
	d.labels[LabelMarket] = false

	audit := &recordingAudit{}
	auto := newTestAutomation(d, audit, instantAck{})
	err := auto.Run(context.Background(), Order{Symbol: "AAPL", Amount: "50", Action: ActionBuy})
	if err == nil {
		t.Fatalf("Run() = nil with missing Market control")
	}
	var ce *fault.CodedError
	if !errors.As(err, &ce) || ce.Code != fault.CodeStepTimeout {
		t.Fatalf("error = %v; want %s", err, fault.CodeStepTimeout)
	}
	if len(audit.lines) != 0 {
		t.Fatalf("audit written despite aborted run: %v", audit.lines)
	}
	if !d.closed {
		t.Fatalf("tab left open after aborted run")
	}
}

func TestRunBlocksOnAcknowledgment(t *testing.T) {
	d := newFakeDriver()
	ack := NewChanAcknowledger()
	auto := newTestAutomation(d, &recordingAudit{}, ack)

	done := make(chan error, 1)
	go func() {
		done <- auto.Run(context.Background(), Order{Symbol: "AAPL", Amount: "50", Action: ActionBuy})
	}()

	select {
	case err := <-done:
		t.Fatalf("Run() finished before acknowledgment: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	ack.Confirm()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not finish after acknowledgment")
	}
	if !d.closed {
		t.Fatalf("tab not closed after acknowledgment")
	}
}

// screenshotDriver adds screenshot support on top of fakeDriver.
type screenshotDriver struct {
	*fakeDriver
	image []byte
}

func (d *screenshotDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.image, nil
}

type fakeEvidence struct {
	saved []snapshot.Meta
}

func (e *fakeEvidence) SaveFailure(trackerID, symbol, action, reason string, image []byte) (snapshot.Meta, error) {
	meta := snapshot.Meta{
		ID:        "evidence-1",
		TrackerID: trackerID,
		Symbol:    symbol,
		Action:    action,
		Reason:    reason,
		SizeBytes: len(image),
	}
	e.saved = append(e.saved, meta)
	return meta, nil
}

func TestRunStoresFailureEvidence(t *testing.T) {
	d := &screenshotDriver{fakeDriver: newFakeDriver(), image: []byte("png-bytes")}
	d.labels[LabelMarket] = false

	evidence := &fakeEvidence{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auto := NewAutomation(fastConfig(), d, &recordingAudit{}, instantAck{}, evidence, log)

	err := auto.Run(context.Background(), Order{TrackerID: "slot-3", Symbol: "AAPL", Amount: "50", Action: ActionBuy})
	if err == nil {
		t.Fatalf("Run() = nil with missing Market control")
	}
	if len(evidence.saved) != 1 {
		t.Fatalf("saved = %d snapshots; want 1", len(evidence.saved))
	}
	got := evidence.saved[0]
	if got.TrackerID != "slot-3" || got.Symbol != "AAPL" || got.Action != string(ActionBuy) {
		t.Fatalf("snapshot meta = %+v", got)
	}
	if got.SizeBytes != len(d.image) {
		t.Fatalf("snapshot size = %d; want %d", got.SizeBytes, len(d.image))
	}
	if got.Reason == "" {
		t.Fatalf("snapshot reason empty")
	}
}

func TestRunSkipsEvidenceOnSuccess(t *testing.T) {
	d := &screenshotDriver{fakeDriver: newFakeDriver(), image: []byte("png-bytes")}
	evidence := &fakeEvidence{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auto := NewAutomation(fastConfig(), d, &recordingAudit{}, instantAck{}, evidence, log)

	if err := auto.Run(context.Background(), Order{TrackerID: "slot-1", Symbol: "AAPL", Amount: "50", Action: ActionBuy}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(evidence.saved) != 0 {
		t.Fatalf("evidence captured on successful run: %+v", evidence.saved)
	}
}

func TestPageCheckReportsMissing(t *testing.T) {
	d := newFakeDriver()
	d.labels[LabelCash] = false

	report, err := PageCheck(context.Background(), d)
	if err != nil {
		t.Fatalf("PageCheck() error = %v", err)
	}
	if report.AllOK {
		t.Fatalf("AllOK = true with Cash control missing")
	}
	var sawCash bool
	for _, item := range report.Items {
		if item.Name == LabelCash {
			sawCash = true
			if item.Present {
				t.Fatalf("Cash reported present")
			}
		}
	}
	if !sawCash {
		t.Fatalf("Cash not probed: %+v", report.Items)
	}
	if !d.closed {
		t.Fatalf("page check left its tab open")
	}
}

func TestPageCheckAcceptsEitherTicketMode(t *testing.T) {
	d := newFakeDriver()
	d.labels[LabelSimplifiedTicket] = false
	d.labels[LabelExpandedTicket] = true

	report, err := PageCheck(context.Background(), d)
	if err != nil {
		t.Fatalf("PageCheck() error = %v", err)
	}
	if !report.AllOK {
		t.Fatalf("AllOK = false with expanded ticket present: %+v", report.Items)
	}
}
