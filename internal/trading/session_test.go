package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionCalendarTradingDay(t *testing.T) {
	c := NewSessionCalendar("Asia/Kolkata")

	// 20:00 UTC on the 2nd is 01:30 IST on the 3rd.
	ts := time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-03", c.TradingDay(ts))
}

func TestSessionCalendarNextTradingDay(t *testing.T) {
	c := NewSessionCalendar("UTC")
	c.AddHoliday(time.Date(2024, 1, 26, 0, 0, 0, 0, time.UTC))

	// Friday the 5th -> Monday the 8th.
	assert.Equal(t, "2024-01-08", c.NextTradingDay(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)))
	// Thursday the 25th, Friday the 26th is a holiday.
	assert.Equal(t, "2024-01-29", c.NextTradingDay(time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsTradingDay(time.Date(2024, 1, 27, 12, 0, 0, 0, time.UTC)))
}

func TestSessionCalendarUnknownTimezone(t *testing.T) {
	c := NewSessionCalendar("Nowhere/Invalid")
	assert.Equal(t, time.UTC, c.Location())
}
