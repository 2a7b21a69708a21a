package scheduler

import (
	"fmt"
	"time"

	"tradeflow/internal/store"
)

// Calendar is the venue's trading week in its local timezone.
type Calendar struct {
	loc   *time.Location
	days  map[time.Weekday]bool
	open  time.Duration
	close time.Duration
}

func NewCalendar(loc *time.Location, days []time.Weekday, open, close time.Duration) *Calendar {
	c := &Calendar{loc: loc, days: make(map[time.Weekday]bool, len(days)), open: open, close: close}
	for _, d := range days {
		c.days[d] = true
	}
	return c
}

func CalendarFromConfig(cfg *store.Config) (*Calendar, error) {
	s := cfg.Schedule
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	days := make([]time.Weekday, 0, len(s.TradingDays))
	for _, name := range s.TradingDays {
		d, ok := store.ParseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("unknown trading day %q", name)
		}
		days = append(days, d)
	}
	open, err := store.ParseClock(s.SessionOpen)
	if err != nil {
		return nil, err
	}
	closeAt, err := store.ParseClock(s.SessionClose)
	if err != nil {
		return nil, err
	}
	return NewCalendar(loc, days, open, closeAt), nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// TradingDay reports whether t falls on a trading day in venue time.
func (c *Calendar) TradingDay(t time.Time) bool {
	return c.days[t.In(c.loc).Weekday()]
}

// Midnight is the start of t's day in venue time.
func (c *Calendar) Midnight(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// At is the instant of clock offset off on t's venue day.
func (c *Calendar) At(t time.Time, off time.Duration) time.Time {
	m := c.Midnight(t)
	return time.Date(m.Year(), m.Month(), m.Day(), int(off/time.Hour), int(off%time.Hour/time.Minute), 0, 0, c.loc)
}

func (c *Calendar) InSession(t time.Time) bool {
	if !c.TradingDay(t) {
		return false
	}
	return !t.Before(c.At(t, c.open)) && !t.After(c.At(t, c.close))
}
