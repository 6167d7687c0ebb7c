// Package desk wires the trading desk together: tracker slots, the trade
// lock, the audit log, the chart refresh schedule, and the browser session.
// All tracker and lock mutation happens on the Run loop goroutine; API
// handlers and automation workers post closures and completions onto it
// instead of touching state directly.
package desk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dgnsrekt/trade_desk/internal/auditlog"
	"github.com/dgnsrekt/trade_desk/internal/browsersession"
	"github.com/dgnsrekt/trade_desk/internal/fault"
	"github.com/dgnsrekt/trade_desk/internal/marketdata"
	"github.com/dgnsrekt/trade_desk/internal/metrics"
	"github.com/dgnsrekt/trade_desk/internal/normalize"
	"github.com/dgnsrekt/trade_desk/internal/notify"
	"github.com/dgnsrekt/trade_desk/internal/orderentry"
	"github.com/dgnsrekt/trade_desk/internal/session"
	"github.com/dgnsrekt/trade_desk/internal/snapshot"
	"github.com/dgnsrekt/trade_desk/internal/storage"
	"github.com/dgnsrekt/trade_desk/internal/stream"
	"github.com/dgnsrekt/trade_desk/internal/tracker"
)

// BasketSlotID is the reserved slot holding the multi-instrument basket.
const BasketSlotID = "basket"

// SessionController is the slice of the browser session the desk drives.
type SessionController interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	EnsureAlive(ctx context.Context) error
	State() browsersession.State
}

// AutomationRunner prepares one order ticket end to end.
type AutomationRunner interface {
	Run(ctx context.Context, order orderentry.Order) error
}

// Config holds desk composition settings.
type Config struct {
	// Slots is the number of single-instrument tracker slots. The basket
	// slot is extra and always present.
	Slots int
	// BasketSymbols is the fixed instrument basket plotted in percent mode.
	BasketSymbols []string
	// RefreshSpec is the cron spec for per-slot chart refresh.
	RefreshSpec string
	// StaggerStep spaces out each slot's first refresh so the provider is
	// not hit by all slots at once.
	StaggerStep time.Duration
	// Lookback is the fetch window per refresh.
	Lookback time.Duration
}

func (c *Config) applyDefaults() {
	if c.Slots <= 0 || c.Slots > 7 {
		c.Slots = 7
	}
	if c.RefreshSpec == "" {
		c.RefreshSpec = "@every 10s"
	}
	if c.StaggerStep <= 0 {
		c.StaggerStep = 400 * time.Millisecond
	}
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
}

// completion is an automation worker's report, marshaled onto the Run loop.
type completion struct {
	trackerID string
	action    orderentry.Action
	price     float64
	err       error
}

// Service owns the desk state. Run must be started before any operation is
// called.
type Service struct {
	// Notifier, when set before Run, pushes trade outcomes to NTFY.
	Notifier *notify.Notifier

	cfg      Config
	log      *slog.Logger
	provider marketdata.Provider
	cache    *marketdata.Cache
	clock    *session.Clock
	engine   *normalize.Engine
	audit    *auditlog.Log
	lock     *tracker.Lock
	slots    []*tracker.Tracker
	byID     map[string]*tracker.Tracker

	sessionCtrl SessionController
	automation  AutomationRunner
	driver      orderentry.PageDriver
	ack         *orderentry.ChanAcknowledger
	recorder    *storage.Recorder
	evidence    *snapshot.Store
	events      *stream.Broker

	cron        *cron.Cron
	actions     chan func()
	completions chan completion

	seriesMu sync.RWMutex
	series   map[string]normalize.Series   // slot id -> latest series
	basket   map[string]normalize.Series   // basket symbol -> latest series

	statusMu sync.Mutex
	status   string
}

// New assembles a Service. The recorder and evidence store may be nil to
// disable archiving and failure screenshots.
func New(
	cfg Config,
	provider marketdata.Provider,
	cache *marketdata.Cache,
	clock *session.Clock,
	engine *normalize.Engine,
	audit *auditlog.Log,
	sessionCtrl SessionController,
	automation AutomationRunner,
	driver orderentry.PageDriver,
	ack *orderentry.ChanAcknowledger,
	recorder *storage.Recorder,
	evidence *snapshot.Store,
	log *slog.Logger,
) *Service {
	cfg.applyDefaults()

	s := &Service{
		cfg:         cfg,
		log:         log.With("component", "desk"),
		provider:    provider,
		cache:       cache,
		clock:       clock,
		engine:      engine,
		audit:       audit,
		lock:        tracker.NewLock(),
		byID:        make(map[string]*tracker.Tracker),
		sessionCtrl: sessionCtrl,
		automation:  automation,
		driver:      driver,
		ack:         ack,
		recorder:    recorder,
		evidence:    evidence,
		events:      stream.NewBroker(),
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		actions:     make(chan func(), 32),
		completions: make(chan completion, 8),
		series:      make(map[string]normalize.Series),
		basket:      make(map[string]normalize.Series),
		status:      "starting",
	}

	for i := 0; i < cfg.Slots; i++ {
		id := fmt.Sprintf("slot-%d", i+1)
		t := tracker.New(id, provider, s.lock, log)
		s.slots = append(s.slots, t)
		s.byID[id] = t
	}
	return s
}

// Run drains actions and completions until the context ends. It is the only
// goroutine allowed to touch trackers and the lock after startup.
func (s *Service) Run(ctx context.Context) {
	s.scheduleRefresh()
	s.cron.Start()
	defer func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.actions:
			fn()
		case c := <-s.completions:
			s.handleCompletion(c)
		}
	}
}

// do runs fn on the Run loop and waits for it.
func (s *Service) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.actions <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduleRefresh registers the per-slot and basket refresh jobs with
// staggered first runs.
func (s *Service) scheduleRefresh() {
	for i, t := range s.slots {
		id := t.ID()
		delay := time.Duration(i) * s.cfg.StaggerStep
		time.AfterFunc(delay, func() {
			s.refreshSlot(id)
			if _, err := s.cron.AddFunc(s.cfg.RefreshSpec, func() { s.refreshSlot(id) }); err != nil {
				s.log.Error("schedule slot refresh", "tracker", id, "error", err)
			}
		})
	}

	basketDelay := time.Duration(len(s.slots)) * s.cfg.StaggerStep
	time.AfterFunc(basketDelay, func() {
		s.refreshBasket()
		if _, err := s.cron.AddFunc(s.cfg.RefreshSpec, s.refreshBasket); err != nil {
			s.log.Error("schedule basket refresh", "error", err)
		}
	})
}

// refreshSlot fetches, normalizes and publishes one slot's series. Network
// and normalization happen off the Run loop; only the symbol/highlight read
// is marshaled onto it.
func (s *Service) refreshSlot(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var symbol string
	var highlight float64
	if err := s.do(ctx, func() {
		if t, ok := s.byID[id]; ok {
			symbol = t.Symbol()
			highlight = t.Highlight()
		}
	}); err != nil {
		return
	}
	if symbol == "" {
		s.seriesMu.Lock()
		delete(s.series, id)
		s.seriesMu.Unlock()
		return
	}

	series, result := s.refreshSymbol(ctx, symbol, normalize.UnitPrice, highlight)
	metrics.RefreshTicks.WithLabelValues(symbol, result).Inc()
	if result == "no_data" || result == "error" {
		return
	}
	s.seriesMu.Lock()
	s.series[id] = series
	s.seriesMu.Unlock()
	s.events.PublishJSON(stream.TypeSeries, map[string]string{"tracker_id": id, "symbol": symbol})
}

func (s *Service) refreshBasket() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for _, symbol := range s.cfg.BasketSymbols {
		series, result := s.refreshSymbol(ctx, symbol, normalize.UnitPercent, 0)
		metrics.RefreshTicks.WithLabelValues(symbol, result).Inc()
		if result == "no_data" || result == "error" {
			continue
		}
		s.seriesMu.Lock()
		s.basket[symbol] = series
		s.seriesMu.Unlock()
		s.events.PublishJSON(stream.TypeSeries, map[string]string{"tracker_id": BasketSlotID, "symbol": symbol})
	}
}

// refreshSymbol runs one fetch-normalize cycle. The result tag is one of
// ok, cached, no_data, error.
func (s *Service) refreshSymbol(ctx context.Context, symbol string, unit normalize.Unit, highlight float64) (normalize.Series, string) {
	start := time.Now()
	snap, err := s.provider.Fetch(ctx, symbol, s.cfg.Lookback, marketdata.ResolutionMinute)
	metrics.FetchSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		// Recoverable: the engine falls back to cache below.
		s.log.Warn("fetch failed, trying cache", "symbol", symbol, "error", err)
		snap = marketdata.Snapshot{Symbol: symbol, Resolution: marketdata.ResolutionMinute}
	}
	if s.recorder != nil && !snap.Empty() {
		s.recorder.Record(snap)
	}

	series, err := s.engine.Normalize(s.clock.Phase(), snap, unit, highlight)
	if err != nil {
		if normalize.IsNoData(err) {
			return normalize.Series{}, "no_data"
		}
		s.log.Warn("normalize failed", "symbol", symbol, "error", err)
		return normalize.Series{}, "error"
	}
	if series.FromCache {
		return series, "cached"
	}
	return series, "ok"
}

// TrackerView is a read-only snapshot of one slot.
type TrackerView struct {
	ID        string        `json:"id"`
	Symbol    string        `json:"symbol"`
	Phase     tracker.Phase `json:"phase"`
	Amount    string        `json:"amount"`
	Highlight float64       `json:"highlight,omitempty"`
}

// Trackers lists every slot's current state.
func (s *Service) Trackers(ctx context.Context) ([]TrackerView, error) {
	var views []TrackerView
	err := s.do(ctx, func() {
		for _, t := range s.slots {
			views = append(views, TrackerView{
				ID:        t.ID(),
				Symbol:    t.Symbol(),
				Phase:     t.Phase(),
				Amount:    t.Amount(),
				Highlight: t.Highlight(),
			})
			metrics.SetTrackerPhase(t.ID(), t.Phase())
		}
	})
	return views, err
}

// LoadSymbol validates and assigns a symbol to a slot.
func (s *Service) LoadSymbol(ctx context.Context, id, symbol string) error {
	t, err := s.trackerFor(id)
	if err != nil {
		return err
	}
	var opErr error
	if err := s.do(ctx, func() { opErr = t.LoadSymbol(ctx, symbol) }); err != nil {
		return err
	}
	if opErr != nil {
		s.setStatus(fmt.Sprintf("load %s failed: %v", symbol, opErr))
		return opErr
	}
	s.setStatus(fmt.Sprintf("%s loaded into %s", strings.ToUpper(strings.TrimSpace(symbol)), id))
	return nil
}

// SubmitBuy validates the order on the Run loop and dispatches the
// automation worker.
func (s *Service) SubmitBuy(ctx context.Context, id, amount string) error {
	return s.submit(ctx, id, amount, orderentry.ActionBuy)
}

// SubmitSell is the sell-side counterpart of SubmitBuy.
func (s *Service) SubmitSell(ctx context.Context, id, amount string) error {
	return s.submit(ctx, id, amount, orderentry.ActionSell)
}

func (s *Service) submit(ctx context.Context, id, amount string, action orderentry.Action) error {
	t, err := s.trackerFor(id)
	if err != nil {
		return err
	}

	var opErr error
	var symbol string
	if err := s.do(ctx, func() {
		if action == orderentry.ActionBuy {
			opErr = t.SubmitBuy(amount)
		} else {
			opErr = t.SubmitSell(amount)
		}
		symbol = t.Symbol()
	}); err != nil {
		return err
	}
	if opErr != nil {
		s.setStatus(fmt.Sprintf("%s rejected for %s: %v", action, id, opErr))
		return opErr
	}

	s.setStatus(fmt.Sprintf("%s %s dispatched for %s", action, symbol, id))
	go s.runAutomation(id, orderentry.Order{TrackerID: id, Symbol: symbol, Amount: amount, Action: action})
	return nil
}

// runAutomation is the worker goroutine for one dispatched trade. It never
// mutates tracker state itself; the outcome travels back as a completion.
func (s *Service) runAutomation(trackerID string, order orderentry.Order) {
	// No cancellation mid-flight: a run ends by finishing or failing.
	ctx := context.Background()

	c := completion{trackerID: trackerID, action: order.Action}
	if err := s.sessionCtrl.EnsureAlive(ctx); err != nil {
		c.err = err
	} else if err := s.automation.Run(ctx, order); err != nil {
		c.err = err
	} else {
		c.price = s.currentPrice(ctx, order.Symbol)
	}

	result := "ok"
	if c.err != nil {
		result = "error"
	}
	metrics.AutomationRuns.WithLabelValues(string(order.Action), result).Inc()
	s.completions <- c
}

// currentPrice fetches the freshest close for post-trade bookkeeping.
// Zero means unavailable; callers degrade, never fail, on it.
func (s *Service) currentPrice(ctx context.Context, symbol string) float64 {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap, err := s.provider.Fetch(fetchCtx, symbol, time.Hour, marketdata.ResolutionMinute)
	if err != nil {
		return 0
	}
	return snap.LastClose()
}

// handleCompletion applies a worker's outcome on the Run loop. The audit
// line is durable before the tracker transition, so a purchase is never in
// memory without being on disk.
func (s *Service) handleCompletion(c completion) {
	t, ok := s.byID[c.trackerID]
	if !ok {
		return
	}

	if c.err != nil {
		t.FailAutomation()
		s.setStatus(fmt.Sprintf("%s failed for %s: %v", c.action, t.Symbol(), c.err))
		s.publishTracker(t)
		s.notifyFailed(string(c.action), t.Symbol(), c.err)
		return
	}

	// A slot no longer in the matching pending phase was overridden or
	// reset while the run was in flight. Nothing from a stale completion
	// may reach the audit log, or the next cold start would rehydrate a
	// position the user already discarded.
	wantPhase := tracker.PhaseBuyPending
	if c.action == orderentry.ActionSell {
		wantPhase = tracker.PhaseSellPending
	}
	if t.Phase() != wantPhase {
		s.log.Warn("stale completion dropped",
			"tracker", c.trackerID, "action", string(c.action), "phase", string(t.Phase()))
		return
	}

	symbol := t.Symbol()
	switch c.action {
	case orderentry.ActionBuy:
		if c.price > 0 {
			if err := s.audit.Purchase(t.Symbol(), c.price); err != nil {
				s.log.Error("audit purchase write failed", "error", err)
			}
			s.setStatus(fmt.Sprintf("bought %s at %.2f", t.Symbol(), c.price))
		} else {
			s.setStatus(fmt.Sprintf("bought %s, price unavailable", t.Symbol()))
		}
		t.CompleteBuy(c.price)
	case orderentry.ActionSell:
		if c.price > 0 {
			if err := s.audit.Sale(t.Symbol(), c.price); err != nil {
				s.log.Error("audit sale write failed", "error", err)
			}
			s.setStatus(fmt.Sprintf("sold %s at %.2f", t.Symbol(), c.price))
		} else {
			s.setStatus(fmt.Sprintf("sold %s, price unavailable", t.Symbol()))
		}
		t.CompleteSell()
	}
	s.publishTracker(t)
	s.notifyExecuted(string(c.action), symbol, c.price)
}

// notifyExecuted and notifyFailed send off the Run loop so a slow NTFY
// endpoint never stalls completions.
func (s *Service) notifyExecuted(action, symbol string, price float64) {
	if !s.Notifier.Enabled() {
		return
	}
	go func() {
		if err := s.Notifier.TradeExecuted(context.Background(), action, symbol, price); err != nil {
			s.log.Warn("trade notification failed", "symbol", symbol, "error", err)
		}
	}()
}

func (s *Service) notifyFailed(action, symbol string, cause error) {
	if !s.Notifier.Enabled() {
		return
	}
	go func() {
		if err := s.Notifier.TradeFailed(context.Background(), action, symbol, cause); err != nil {
			s.log.Warn("trade notification failed", "symbol", symbol, "error", err)
		}
	}()
}

// publishTracker emits a tracker event after a phase transition. Run loop
// only.
func (s *Service) publishTracker(t *tracker.Tracker) {
	s.events.PublishJSON(stream.TypeTracker, TrackerView{
		ID:        t.ID(),
		Symbol:    t.Symbol(),
		Phase:     t.Phase(),
		Amount:    t.Amount(),
		Highlight: t.Highlight(),
	})
}

// Reset clears a slot after explicit confirmation.
func (s *Service) Reset(ctx context.Context, id string, confirmed bool) error {
	t, err := s.trackerFor(id)
	if err != nil {
		return err
	}
	var opErr error
	if err := s.do(ctx, func() { opErr = t.Reset(confirmed) }); err != nil {
		return err
	}
	if opErr == nil {
		s.setStatus(fmt.Sprintf("%s reset", id))
	}
	return opErr
}

// OverrideEnable force-releases the trade lock and re-enables every slot,
// clearing highlights. Recovery hatch for a wedged desk.
func (s *Service) OverrideEnable(ctx context.Context) error {
	err := s.do(ctx, func() {
		if holder := s.lock.Holder(); holder != "" {
			s.lock.Release(holder)
		}
		for _, t := range s.slots {
			t.Override()
		}
	})
	if err == nil {
		s.setStatus("override enable: all trackers re-enabled")
	}
	return err
}

// ConfirmTrade raises the step-10 acknowledgment for the staged ticket.
func (s *Service) ConfirmTrade() {
	s.ack.Confirm()
	s.setStatus("ticket acknowledged")
}

// SeriesFor returns the latest published series for a slot.
func (s *Service) SeriesFor(id string) (normalize.Series, bool) {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	series, ok := s.series[id]
	return series, ok
}

// BasketSeries returns the latest percent-mode series per basket symbol.
func (s *Service) BasketSeries() []normalize.Series {
	s.seriesMu.RLock()
	defer s.seriesMu.RUnlock()
	out := make([]normalize.Series, 0, len(s.cfg.BasketSymbols))
	for _, symbol := range s.cfg.BasketSymbols {
		if series, ok := s.basket[symbol]; ok {
			out = append(out, series)
		}
	}
	return out
}

// CheckPage probes the order page for every element and label the
// automation depends on, without filling anything in.
func (s *Service) CheckPage(ctx context.Context) (orderentry.PageCheckReport, error) {
	if s.driver == nil {
		return orderentry.PageCheckReport{}, fault.New(fault.CodeSessionLost, "no order page driver configured", nil)
	}
	if err := s.sessionCtrl.EnsureAlive(ctx); err != nil {
		return orderentry.PageCheckReport{}, err
	}
	return orderentry.PageCheck(ctx, s.driver)
}

// SessionState reports the browser session lifecycle state.
func (s *Service) SessionState() browsersession.State {
	return s.sessionCtrl.State()
}

// RestartSession forces a full browser session restart.
func (s *Service) RestartSession(ctx context.Context) error {
	s.setStatus("session restart requested")
	return s.sessionCtrl.Restart(ctx)
}

// Status returns the last user-visible event message.
func (s *Service) Status() string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

func (s *Service) setStatus(msg string) {
	s.statusMu.Lock()
	s.status = msg
	s.statusMu.Unlock()
	s.log.Info("status", "message", msg)
	s.events.PublishJSON(stream.TypeStatus, map[string]string{"message": msg})
}

// Events exposes the desk event broker for SSE delivery.
func (s *Service) Events() *stream.Broker {
	return s.events
}

// Evidence lists stored failure snapshots, newest first.
func (s *Service) Evidence() ([]snapshot.Meta, error) {
	if s.evidence == nil {
		return nil, nil
	}
	return s.evidence.List()
}

// EvidenceImage returns one failure snapshot's image bytes and format.
func (s *Service) EvidenceImage(id string) ([]byte, string, error) {
	if s.evidence == nil {
		return nil, "", fault.New(fault.CodeDataUnavailable, "evidence store disabled", nil)
	}
	img, format, err := s.evidence.ReadImage(id)
	if err != nil {
		return nil, "", fault.New(fault.CodeDataUnavailable, fmt.Sprintf("snapshot %s", id), err)
	}
	return img, format, nil
}

// RestoreSymbols loads the previous session's tracked symbols into slots in
// order and rehydrates open positions from the audit history. Invalid
// symbols are skipped, not fatal.
func (s *Service) RestoreSymbols(ctx context.Context, symbols []string, openPositions map[string]float64) {
	idx := 0
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" || idx >= len(s.slots) {
			continue
		}
		t := s.slots[idx]
		var opErr error
		if err := s.do(ctx, func() {
			opErr = t.LoadSymbol(ctx, symbol)
			if opErr == nil {
				if price, ok := openPositions[symbol]; ok {
					t.RestoreHolding(price)
				}
			}
		}); err != nil {
			return
		}
		if opErr != nil {
			s.log.Warn("symbol restore skipped", "symbol", symbol, "error", opErr)
			continue
		}
		idx++
	}
	if idx > 0 {
		s.setStatus(fmt.Sprintf("restored %d symbols from previous session", idx))
	}
}

// Symbols returns the currently loaded slot symbols in slot order.
func (s *Service) Symbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.do(ctx, func() {
		for _, t := range s.slots {
			if t.Symbol() != "" {
				symbols = append(symbols, t.Symbol())
			}
		}
	})
	return symbols, err
}

// Shutdown persists tracked symbols, then stops the browser and closes the
// flight recorder. The audit log itself is closed by the caller last.
func (s *Service) Shutdown(symbols []string) {
	if len(symbols) > 0 {
		if err := s.audit.WriteTrackedTickers(symbols); err != nil {
			s.log.Error("persist tracked tickers failed", "error", err)
		}
	}
	s.sessionCtrl.Stop()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.Warn("recorder close", "error", err)
		}
	}
}

func (s *Service) trackerFor(id string) (*tracker.Tracker, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, fault.New(fault.CodeValidation, fmt.Sprintf("unknown tracker %q", id), nil)
	}
	return t, nil
}
