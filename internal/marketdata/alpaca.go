package marketdata

import (
	"context"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// AlpacaProvider fetches minute bars from the Alpaca market-data API. It is an
// alternate to YahooProvider for accounts with an Alpaca data subscription.
// Index symbols (^DJI etc.) are not available on this feed.
type AlpacaProvider struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials.
func NewAlpacaProvider(apiKey, apiSecret, baseURL string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		feed:   marketdata.IEX,
	}
}

func alpacaTimeFrame(res Resolution) marketdata.TimeFrame {
	if res == ResolutionFiveMinute {
		return marketdata.NewTimeFrame(5, marketdata.Min)
	}
	return marketdata.OneMin
}

// Fetch downloads recent bars for the symbol. Symbols Alpaca does not know
// come back as an empty Snapshot, not an error.
func (p *AlpacaProvider) Fetch(ctx context.Context, symbol string, lookback time.Duration, res Resolution) (Snapshot, error) {
	_ = ctx
	now := time.Now().UTC()
	alpacaBars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: alpacaTimeFrame(res),
		Start:     now.Add(-lookback),
		End:       now,
		Feed:      p.feed,
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Symbol: symbol, Resolution: res, FetchedAt: now}
	bars := make([]Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, Bar{Time: ab.Timestamp.UTC(), Close: ab.Close})
	}
	snap.Bars = dedupeBars(bars)
	return snap, nil
}
