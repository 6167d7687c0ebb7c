// Package session resolves the current trading-session phase for US equities.
package session

import "time"

// Phase is the coarse trading-session state.
type Phase string

const (
	RegularHours Phase = "REGULAR_HOURS"
	OutsideHours Phase = "OUTSIDE_HOURS"
)

// Clock derives the session phase from wall-clock time against the fixed
// NYSE window (9:30-16:00 US/Eastern). Holidays are not modelled; a holiday
// weekday resolves like any other closed stretch once no fresh bars arrive.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock creates a Clock for US/Eastern. It falls back to a fixed UTC-5
// offset when the tz database is unavailable.
func NewClock() *Clock {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	return &Clock{loc: loc, now: time.Now}
}

// NewClockAt creates a Clock with a fixed now function, for tests.
func NewClockAt(loc *time.Location, now func() time.Time) *Clock {
	return &Clock{loc: loc, now: now}
}

// Phase returns the phase for the clock's current instant.
func (c *Clock) Phase() Phase {
	return c.PhaseAt(c.now())
}

// PhaseAt returns the phase for an arbitrary instant. Saturday and Sunday are
// OutsideHours regardless of the time of day.
func (c *Clock) PhaseAt(t time.Time) Phase {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return OutsideHours
	}

	minutes := local.Hour()*60 + local.Minute()
	const open = 9*60 + 30
	const close = 16 * 60
	if minutes >= open && minutes < close {
		return RegularHours
	}
	return OutsideHours
}

// Location exposes the exchange timezone for calendar-day bucketing.
func (c *Clock) Location() *time.Location { return c.loc }

// Now returns the clock's current instant.
func (c *Clock) Now() time.Time { return c.now() }
