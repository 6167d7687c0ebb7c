// Package notify pushes trade outcome messages to an NTFY endpoint so the
// operator hears about fills and failures away from the desk.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sendTimeout = 10 * time.Second

// Notifier posts plain-text messages to one NTFY topic endpoint. An empty
// endpoint disables it.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// NewNotifier builds a Notifier for the given endpoint. The client may be
// nil to use http.DefaultClient.
func NewNotifier(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: endpoint, client: client}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// TradeExecuted announces a completed buy or sell. Price zero means the
// post-trade quote was unavailable.
func (n *Notifier) TradeExecuted(ctx context.Context, action, symbol string, price float64) error {
	if price > 0 {
		return n.send(ctx, fmt.Sprintf("%s %s at $%.2f", action, symbol, price))
	}
	return n.send(ctx, fmt.Sprintf("%s %s, price unavailable", action, symbol))
}

// TradeFailed announces an aborted order-entry run.
func (n *Notifier) TradeFailed(ctx context.Context, action, symbol string, cause error) error {
	return n.send(ctx, fmt.Sprintf("%s %s FAILED: %v", action, symbol, cause))
}

func (n *Notifier) send(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return Send(ctx, n.client, n.endpoint, message)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
