package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// YahooProvider fetches minute bars from the Yahoo Finance public chart API.
// It is the default provider; index symbols like ^GSPC are supported natively.
type YahooProvider struct {
	Client  *http.Client
	BaseURL string
}

// NewYahooProvider creates a YahooProvider with a bounded HTTP client.
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		Client:  &http.Client{Timeout: 30 * time.Second},
		BaseURL: "https://query1.finance.yahoo.com",
	}
}

// yahooChart is the response structure from the Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []any `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func yahooRange(lookback time.Duration) string {
	switch {
	case lookback <= 24*time.Hour:
		return "1d"
	case lookback <= 5*24*time.Hour:
		return "5d"
	default:
		return "1mo"
	}
}

func yahooInterval(res Resolution) string {
	if res == ResolutionFiveMinute {
		return "5m"
	}
	return "1m"
}

// Fetch downloads recent bars for the symbol. Unknown symbols or null-only
// responses produce an empty Snapshot, not an error.
func (p *YahooProvider) Fetch(ctx context.Context, symbol string, lookback time.Duration, res Resolution) (Snapshot, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=%s&range=%s",
		p.BaseURL, url.PathEscape(symbol), yahooInterval(res), yahooRange(lookback))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Snapshot{Symbol: symbol, Resolution: res, FetchedAt: time.Now().UTC()}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return Snapshot{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		// "Not Found" style API errors mean no such symbol; empty snapshot.
		return Snapshot{Symbol: symbol, Resolution: res, FetchedAt: time.Now().UTC()}, nil
	}

	snap := Snapshot{Symbol: symbol, Resolution: res, FetchedAt: time.Now().UTC()}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return snap, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return snap, nil
	}
	quote := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue // null bars (halts, partial minutes)
		}
		c := toFloat(quote.Close[i])
		if c == 0 {
			continue
		}
		bars = append(bars, Bar{Time: time.Unix(ts, 0).UTC(), Close: c})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	snap.Bars = dedupeBars(bars)
	return snap, nil
}

// dedupeBars drops repeated timestamps, keeping the last observation.
func dedupeBars(bars []Bar) []Bar {
	if len(bars) < 2 {
		return bars
	}
	out := bars[:0]
	for _, b := range bars {
		if len(out) > 0 && out[len(out)-1].Time.Equal(b.Time) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
