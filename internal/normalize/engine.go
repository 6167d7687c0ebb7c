// Package normalize turns raw minute bars into session-referenced plot series.
package normalize

import (
	"errors"
	"time"

	"github.com/dgnsrekt/trade_desk/internal/fault"
	"github.com/dgnsrekt/trade_desk/internal/marketdata"
	"github.com/dgnsrekt/trade_desk/internal/session"
)

// Unit selects how closes are expressed in a Series.
type Unit string

const (
	// UnitPercent plots percent change from the reference price (basket mode).
	UnitPercent Unit = "percent"
	// UnitPrice plots the absolute close; the reference only drives guard bands.
	UnitPrice Unit = "price"
)

// LevelKind identifies a horizontal overlay level.
type LevelKind string

const (
	LevelGuardUpper LevelKind = "guard_upper"
	LevelGuardLower LevelKind = "guard_lower"
	LevelPurchase   LevelKind = "purchase"
	LevelSellTarget LevelKind = "sell_target"
)

// Point is one plotted observation.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Level is a horizontal overlay line, always expressed in price space.
type Level struct {
	Kind  LevelKind `json:"kind"`
	Value float64   `json:"value"`
}

// Series is a normalized, plottable series for one symbol.
type Series struct {
	Symbol    string  `json:"symbol"`
	Points    []Point `json:"points"`
	Reference float64 `json:"reference"`
	Unit      Unit    `json:"unit"`
	Levels    []Level `json:"levels"`
	FromCache bool    `json:"from_cache"`
}

// ErrNoData is returned when neither the snapshot nor the cache has bars.
// Callers are expected to skip the refresh tick silently.
var ErrNoData = fault.New(fault.CodeDataUnavailable, "no data for symbol", nil)

// IsNoData reports whether err means the tick should be skipped.
func IsNoData(err error) bool {
	var coded *fault.CodedError
	return errors.As(err, &coded) && coded.Code == fault.CodeDataUnavailable
}

// Engine selects reference prices and produces normalized series. It owns the
// read/write path to the last-known-good cache.
type Engine struct {
	cache *marketdata.Cache
	loc   *time.Location
	now   func() time.Time
}

// NewEngine creates an Engine bucketing calendar days in the given exchange
// timezone.
func NewEngine(cache *marketdata.Cache, loc *time.Location) *Engine {
	return &Engine{cache: cache, loc: loc, now: time.Now}
}

// NewEngineAt creates an Engine with a fixed now function, for tests.
func NewEngineAt(cache *marketdata.Cache, loc *time.Location, now func() time.Time) *Engine {
	return &Engine{cache: cache, loc: loc, now: now}
}

// Normalize produces a plottable series for the snapshot under the given
// session phase. An empty snapshot falls back to the cached one; with neither,
// ErrNoData is returned. Successful live snapshots refresh the cache.
func (e *Engine) Normalize(phase session.Phase, snap marketdata.Snapshot, unit Unit, highlight float64) (Series, error) {
	fromCache := false
	if snap.Empty() {
		cached, ok := e.cache.Get(snap.Symbol)
		if !ok {
			return Series{}, ErrNoData
		}
		snap = cached
		fromCache = true
	} else {
		e.cache.Put(snap)
	}

	window, ref := e.selectReference(phase, snap.Bars)
	if len(window) == 0 || ref <= 0 {
		return Series{}, ErrNoData
	}

	points := make([]Point, 0, len(window))
	for _, b := range window {
		v := b.Close
		if unit == UnitPercent {
			v = (b.Close/ref - 1) * 100
		}
		points = append(points, Point{Time: b.Time, Value: v})
	}

	series := Series{
		Symbol:    snap.Symbol,
		Points:    points,
		Reference: ref,
		Unit:      unit,
		FromCache: fromCache,
		Levels: []Level{
			{Kind: LevelGuardUpper, Value: ref * 1.01},
			{Kind: LevelGuardLower, Value: ref * 0.99},
		},
	}
	if highlight > 0 {
		series.Levels = append(series.Levels,
			Level{Kind: LevelPurchase, Value: highlight},
			Level{Kind: LevelSellTarget, Value: highlight * 1.01},
		)
	}
	return series, nil
}

// selectReference picks the plotted window and its reference price.
//
// Regular hours with bars for the current calendar day: plot today, reference
// the previous trading day's last close when the series carries it (with a
// synthetic leading point one minute before today's first bar so the plot
// starts at the baseline), else today's first close. Outside regular hours, or
// when today has no bars yet, plot the most recent complete day in full with
// its first close as reference.
func (e *Engine) selectReference(phase session.Phase, bars []marketdata.Bar) ([]marketdata.Bar, float64) {
	if len(bars) == 0 {
		return nil, 0
	}

	if phase == session.RegularHours {
		today := e.now().In(e.loc)
		ty, tm, td := today.Date()
		firstToday := -1
		for i, b := range bars {
			y, m, d := b.Time.In(e.loc).Date()
			if y == ty && m == tm && d == td {
				firstToday = i
				break
			}
		}
		if firstToday >= 0 {
			window := bars[firstToday:]
			if firstToday > 0 {
				ref := bars[firstToday-1].Close
				lead := marketdata.Bar{Time: window[0].Time.Add(-time.Minute), Close: ref}
				return append([]marketdata.Bar{lead}, window...), ref
			}
			return window, window[0].Close
		}
	}

	// Most recent complete trading day, in full.
	last := bars[len(bars)-1].Time.In(e.loc)
	ly, lm, ld := last.Date()
	firstOfDay := 0
	for i := len(bars) - 1; i >= 0; i-- {
		y, m, d := bars[i].Time.In(e.loc).Date()
		if y != ly || m != lm || d != ld {
			firstOfDay = i + 1
			break
		}
	}
	window := bars[firstOfDay:]
	return window, window[0].Close
}
