package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		n     int
		want  time.Time
	}{
		{"plain", Date(2025, 3, 1), 1, Date(2025, 4, 1)},
		{"jan 31 to feb", Date(2025, 1, 31), 1, Date(2025, 2, 28)},
		{"jan 31 to leap feb", Date(2024, 1, 31), 1, Date(2024, 2, 29)},
		{"jan 31 to march keeps day", Date(2025, 1, 31), 2, Date(2025, 3, 31)},
		{"crosses year", Date(2025, 11, 30), 3, Date(2026, 2, 28)},
		{"negative", Date(2025, 3, 31), -1, Date(2025, 2, 28)},
		{"time of day dropped", time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC), 1, Date(2025, 4, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddMonthsClamped(tt.start, tt.n))
		})
	}
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 75, DaysBetween(Date(2025, 4, 1), Date(2025, 6, 15)))
	assert.Equal(t, -28, DaysBetween(Date(2025, 3, 1), Date(2025, 2, 1)))
	assert.Equal(t, 0, DaysBetween(time.Date(2025, 6, 15, 1, 0, 0, 0, time.UTC), time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)))
}

func TestMonthsBetween(t *testing.T) {
	assert.Equal(t, 0, MonthsBetween(Date(2025, 1, 31), Date(2025, 1, 1)))
	assert.Equal(t, 3, MonthsBetween(Date(2025, 1, 31), Date(2025, 4, 30)))
	assert.Equal(t, 13, MonthsBetween(Date(2024, 12, 1), Date(2026, 1, 1)))
}

func TestDayInMonth(t *testing.T) {
	assert.Equal(t, Date(2025, 2, 28), DayInMonth(2025, 2, 31))
	assert.Equal(t, Date(2025, 4, 30), DayInMonth(2025, 4, 31))
	assert.Equal(t, Date(2025, 4, 1), DayInMonth(2025, 4, 0))
	assert.Equal(t, 29, DaysIn(2024, 2))
	assert.Equal(t, Date(2025, 12, 31), EndOfMonth(2025, 12))
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(time.Date(2025, 6, 15, 23, 30, 0, 0, time.UTC))
	assert.Equal(t, Date(2025, 6, 15), Today(c))

	c.Advance(time.Hour)
	assert.Equal(t, Date(2025, 6, 16), Today(c))

	c.Set(Date(2025, 1, 1))
	assert.Equal(t, Date(2025, 1, 1), c.Now())
}
