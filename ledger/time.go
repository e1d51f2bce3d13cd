package ledger

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies "now". Scheduled tasks and overdue calculations read time
// only through a Clock so tests can simulate elapsed time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock { return &ManualClock{now: now.UTC()} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// =============================================================================
// CALENDAR ARITHMETIC
// =============================================================================

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// Today returns the clock's current calendar day.
func Today(c Clock) time.Time { return DateOf(c.Now()) }

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return Date(year, month+1, 1).AddDate(0, 0, -1).Day()
}

// EndOfMonth returns the last calendar day of the month.
func EndOfMonth(year int, month time.Month) time.Time {
	return Date(year, month, DaysIn(year, month))
}

// AddMonthsClamped adds n calendar months, clamping the day-of-month to the
// last valid day of the resulting month (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(start time.Time, n int) time.Time {
	start = DateOf(start)
	first := Date(start.Year(), start.Month()+time.Month(n), 1)
	return DayInMonth(first.Year(), first.Month(), start.Day())
}

// DayInMonth returns the given day of the month, clamped to the month end.
func DayInMonth(year int, month time.Month, day int) time.Time {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return Date(year, month, day)
}

// DaysBetween returns the whole days from -> to (floor for positive spans).
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}

// MonthsBetween returns the calendar month difference to - from, ignoring days.
func MonthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}
