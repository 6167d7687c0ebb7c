package marketdata

import (
	"context"
	"time"
)

// Resolution is the bar interval a provider is asked for.
type Resolution string

const (
	ResolutionMinute     Resolution = "1m"
	ResolutionFiveMinute Resolution = "5m"
)

// Bar is a single close observation. Timestamps are UTC instants and strictly
// increasing within a Snapshot.
type Bar struct {
	Time  time.Time `json:"time"`
	Close float64   `json:"close"`
}

// Snapshot is an immutable fetch result for one symbol. An empty Bars slice
// means the symbol had no data, which is not an error.
type Snapshot struct {
	Symbol     string     `json:"symbol"`
	Bars       []Bar      `json:"bars"`
	Resolution Resolution `json:"resolution"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// Empty reports whether the snapshot carries no bars.
func (s Snapshot) Empty() bool { return len(s.Bars) == 0 }

// LastClose returns the most recent close, or 0 if the snapshot is empty.
func (s Snapshot) LastClose() float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[len(s.Bars)-1].Close
}

// Provider supplies recent bars for a symbol. Implementations must tolerate
// unknown symbols by returning an empty Snapshot rather than an error.
type Provider interface {
	Fetch(ctx context.Context, symbol string, lookback time.Duration, res Resolution) (Snapshot, error)
}
