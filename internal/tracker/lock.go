package tracker

import (
	"fmt"

	"github.com/dgnsrekt/trade_desk/internal/fault"
)

// Lock is the process-wide single-flight trading gate. At most one tracker
// holds it at a time; while held, every other registered tracker is disabled.
// Lock is not safe for concurrent use and must only be touched by the state
// owner goroutine, same as the trackers it gates.
type Lock struct {
	holder    string
	observers []lockObserver
}

type lockObserver struct {
	id      string
	disable func()
	enable  func()
}

func NewLock() *Lock { return &Lock{} }

// Register adds a tracker to the broadcast list. disable and enable are
// invoked synchronously from Acquire and Release.
func (l *Lock) Register(id string, disable, enable func()) {
	l.observers = append(l.observers, lockObserver{id: id, disable: disable, enable: enable})
}

// Acquire grants exclusive trading rights to id and disables every other
// registered tracker. A second Acquire by the current holder is a no-op.
// Any other caller is rejected immediately, never queued.
func (l *Lock) Acquire(id string) error {
	if l.holder == id {
		return nil
	}
	if l.holder != "" {
		return fault.New(fault.CodeTradeLocked, fmt.Sprintf("trade lock held by %s", l.holder), nil)
	}
	l.holder = id
	for _, o := range l.observers {
		if o.id != id {
			o.disable()
		}
	}
	return nil
}

// Release frees the lock held by id and re-enables every other tracker. The
// holder keeps whatever phase it reached. Releasing a lock id does not hold
// is a no-op.
func (l *Lock) Release(id string) {
	if l.holder != id {
		return
	}
	l.holder = ""
	for _, o := range l.observers {
		if o.id != id {
			o.enable()
		}
	}
}

// Holder returns the id of the current holder, or "" when the lock is free.
func (l *Lock) Holder() string { return l.holder }
