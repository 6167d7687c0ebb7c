package orderentry

import "context"

// ChanAcknowledger carries the human's "done with the ticket" signal from
// wherever it is raised (an API call) to the automation run waiting on it.
type ChanAcknowledger struct {
	ch chan struct{}
}

func NewChanAcknowledger() *ChanAcknowledger {
	return &ChanAcknowledger{ch: make(chan struct{}, 1)}
}

// Confirm raises the acknowledgment. A Confirm with no run waiting is
// remembered for the next Await, never lost.
func (a *ChanAcknowledger) Confirm() {
	select {
	case a.ch <- struct{}{}:
	default:
	}
}

// Await blocks until Confirm or context cancellation.
func (a *ChanAcknowledger) Await(ctx context.Context) error {
	select {
	case <-a.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
