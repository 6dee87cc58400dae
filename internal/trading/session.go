package trading

import (
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is the exchange timezone used to label trading days.
const DefaultTimezone = "Asia/Kolkata"

const dayLayout = "2006-01-02"

// SessionCalendar labels trading days in the exchange timezone. It never
// starts a new day by itself; day boundaries arrive as explicit session events.
type SessionCalendar struct {
	location *time.Location
	holidays map[string]bool
}

// NewSessionCalendar creates a calendar for the named timezone. An unknown
// timezone falls back to UTC.
func NewSessionCalendar(timezone string) *SessionCalendar {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &SessionCalendar{
		location: loc,
		holidays: make(map[string]bool),
	}
}

// Location returns the calendar timezone.
func (c *SessionCalendar) Location() *time.Location {
	return c.location
}

// AddHoliday marks date as a market holiday.
func (c *SessionCalendar) AddHoliday(date time.Time) {
	c.holidays[date.In(c.location).Format(dayLayout)] = true
}

// IsHoliday reports whether date is a market holiday.
func (c *SessionCalendar) IsHoliday(date time.Time) bool {
	return c.holidays[date.In(c.location).Format(dayLayout)]
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *SessionCalendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.location)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(t)
}

// TradingDay returns the YYYY-MM-DD label for t in the exchange timezone.
func (c *SessionCalendar) TradingDay(t time.Time) string {
	return t.In(c.location).Format(dayLayout)
}

// NextTradingDay returns the label of the first trading day after t.
func (c *SessionCalendar) NextTradingDay(t time.Time) string {
	next := t.In(c.location).AddDate(0, 0, 1)
	for !c.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Format(dayLayout)
}
