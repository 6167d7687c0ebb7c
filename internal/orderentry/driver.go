// Package orderentry drives the brokerage order ticket up to, but never
// past, the submit button. The final submission is always a human action.
package orderentry

import (
	"context"

	"github.com/dgnsrekt/trade_desk/internal/snapshot"
)

// Action is the trade direction an automation run prepares.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Order is one prepared ticket.
type Order struct {
	Symbol    string
	Amount    string
	Action    Action
	TrackerID string
}

// PageDriver is the capability surface the automation needs from a browser
// page. Every call is a single attempt; waiting and retrying is the
// automation's job.
type PageDriver interface {
	// Open opens a fresh order tab and returns once the document is ready.
	Open(ctx context.Context) error
	// Close closes the order tab and returns focus to the primary tab.
	Close(ctx context.Context) error

	// FillByID clears the input with the given element id, types value into
	// it, and advances focus so the page commits the field.
	FillByID(ctx context.Context, id, value string) error
	// ClickByLabel clicks the control whose visible text or aria-label
	// matches label. Returns false without error when no such control exists.
	ClickByLabel(ctx context.Context, label string) (bool, error)
	// HasID reports whether an element with the given id exists.
	HasID(ctx context.Context, id string) (bool, error)
	// HasLabel reports whether a control with the given label exists.
	HasLabel(ctx context.Context, label string) (bool, error)
}

// Screenshotter is implemented by drivers that can capture the open tab.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// EvidenceSink stores a screenshot of an aborted run.
type EvidenceSink interface {
	SaveFailure(trackerID, symbol, action, reason string, image []byte) (snapshot.Meta, error)
}

// Acknowledger blocks until the human confirms they are done with the
// prepared ticket. The automation holds the tab open until then.
type Acknowledger interface {
	Await(ctx context.Context) error
}

// AuditRecorder is the slice of the audit log the automation writes to.
type AuditRecorder interface {
	Executed(action, symbol, quantity, orderType, settlement string) error
}

// Fixed element ids and control labels on the order-entry page. A change on
// the remote side is an external breaking change, not a bug here.
const (
	SymbolInputID   = "eq-ticket-dest-symbol"
	QuantityInputID = "eqt-shared-quantity"

	LabelSimplifiedTicket = "View simplified ticket"
	LabelExpandedTicket   = "View expanded ticket"
	LabelBuy              = "Buy"
	LabelSell             = "Sell"
	LabelDollars          = "Dollars"
	LabelShares           = "Shares"
	LabelMarket           = "Market"
	LabelCash             = "Cash"
)
