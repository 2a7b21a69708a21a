package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/store"
)

func nyCalendar(t *testing.T) *Calendar {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	return NewCalendar(loc, weekdays, 9*time.Hour+30*time.Minute, 16*time.Hour)
}

func clock(loc *time.Location, day, hh, mm int) time.Time {
	// March 2025: the 3rd is a Monday, the 8th a Saturday.
	return time.Date(2025, 3, day, hh, mm, 0, 0, loc)
}

func TestCalendar(t *testing.T) {
	cal := nyCalendar(t)
	loc := cal.Location()

	assert.True(t, cal.TradingDay(clock(loc, 3, 12, 0)))
	assert.False(t, cal.TradingDay(clock(loc, 8, 12, 0)))
	assert.True(t, cal.InSession(clock(loc, 3, 9, 30)))
	assert.True(t, cal.InSession(clock(loc, 3, 16, 0)))
	assert.False(t, cal.InSession(clock(loc, 3, 16, 1)))
	assert.False(t, cal.InSession(clock(loc, 8, 11, 0)))

	// 14:45 UTC is 09:45 in New York before DST starts.
	utc := time.Date(2025, 3, 4, 14, 45, 0, 0, time.UTC)
	assert.Equal(t, clock(loc, 4, 9, 45), cal.At(utc, 9*time.Hour+45*time.Minute))
}

func TestCalendarFromConfig(t *testing.T) {
	cfg, err := store.ParseConfig([]byte("schedule:\n  timezone: Asia/Kolkata\n  session_open: \"09:15\"\n  session_close: \"15:30\"\n"))
	require.NoError(t, err)

	cal, err := CalendarFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", cal.Location().String())
	loc := cal.Location()
	assert.True(t, cal.InSession(time.Date(2025, 3, 3, 15, 30, 0, 0, loc)))
	assert.False(t, cal.InSession(time.Date(2025, 3, 3, 9, 0, 0, 0, loc)))
}

func TestSlots(t *testing.T) {
	cal := nyCalendar(t)
	loc := cal.Location()
	s := New(cal)

	monitor := Job{Name: "orders", Every: time.Hour, At: []time.Duration{18 * time.Hour}}
	slots := s.Slots(monitor, clock(loc, 3, 12, 0))
	require.Len(t, slots, 8)
	assert.Equal(t, clock(loc, 3, 9, 30), slots[0])
	assert.Equal(t, clock(loc, 3, 15, 30), slots[6])
	assert.Equal(t, clock(loc, 3, 18, 0), slots[7])

	assert.Empty(t, s.Slots(monitor, clock(loc, 8, 12, 0)))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func TestTickRunsEachSlotOnce(t *testing.T) {
	cal := nyCalendar(t)
	loc := cal.Location()
	fc := &fakeClock{t: clock(loc, 3, 9, 0)}
	s := New(cal, WithClock(fc.now))

	var runs atomic.Int32
	s.Add(Job{Name: "executor", At: []time.Duration{9*time.Hour + 45*time.Minute}, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	ctx := context.Background()

	assert.Empty(t, s.Tick(ctx))

	fc.set(clock(loc, 3, 9, 45))
	assert.Equal(t, []string{"executor"}, s.Tick(ctx))
	s.Wait()

	fc.set(clock(loc, 3, 10, 30))
	assert.Empty(t, s.Tick(ctx))
	s.Wait()
	assert.Equal(t, int32(1), runs.Load())

	// Next trading day.
	fc.set(clock(loc, 4, 9, 46))
	assert.Equal(t, []string{"executor"}, s.Tick(ctx))
	s.Wait()
	assert.Equal(t, int32(2), runs.Load())
}

func TestTickCollapsesMissedSlots(t *testing.T) {
	cal := nyCalendar(t)
	loc := cal.Location()
	fc := &fakeClock{t: clock(loc, 3, 13, 7)}
	s := New(cal, WithClock(fc.now))

	var runs atomic.Int32
	s.Add(Job{Name: "orders", Every: 5 * time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	s.Tick(context.Background())
	s.Wait()
	s.Tick(context.Background())
	s.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

func TestTickPassesOverStaleSlots(t *testing.T) {
	cal := nyCalendar(t)
	loc := cal.Location()
	// Started after the close: the morning executor slot is not replayed.
	fc := &fakeClock{t: clock(loc, 3, 16, 30)}
	s := New(cal, WithClock(fc.now))

	var exec, orders atomic.Int32
	s.Add(Job{Name: "executor", At: []time.Duration{9*time.Hour + 45*time.Minute}, Window: 6*time.Hour + 15*time.Minute,
		Run: func(context.Context) error {
			exec.Add(1)
			return nil
		}})
	s.Add(Job{Name: "orders", Every: 5 * time.Minute, At: []time.Duration{16*time.Hour + 15*time.Minute},
		Run: func(context.Context) error {
			orders.Add(1)
			return nil
		}})
	ctx := context.Background()

	assert.Equal(t, []string{"orders"}, s.Tick(ctx))
	s.Wait()
	assert.Empty(t, s.Tick(ctx))
	assert.Equal(t, int32(0), exec.Load())
	assert.Equal(t, int32(1), orders.Load())

	// Inside the window the slot is still caught up.
	fc.set(clock(loc, 4, 11, 0))
	assert.ElementsMatch(t, []string{"executor", "orders"}, s.Tick(ctx))
	s.Wait()
	assert.Equal(t, int32(1), exec.Load())
}

func TestTickSkipsOverlappingRun(t *testing.T) {
	cal := nyCalendar(t)
	loc := cal.Location()
	fc := &fakeClock{t: clock(loc, 3, 10, 0)}
	s := New(cal, WithClock(fc.now))

	release := make(chan struct{})
	var runs atomic.Int32
	s.Add(Job{Name: "positions", Every: 10 * time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}})
	ctx := context.Background()

	assert.Equal(t, []string{"positions"}, s.Tick(ctx))
	fc.set(clock(loc, 3, 10, 10))
	assert.Empty(t, s.Tick(ctx))

	close(release)
	s.Wait()
	assert.Equal(t, int32(1), runs.Load())

	fc.set(clock(loc, 3, 10, 20))
	assert.Equal(t, []string{"positions"}, s.Tick(ctx))
	s.Wait()
	assert.Equal(t, int32(2), runs.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	cal := nyCalendar(t)
	s := New(cal, WithClock(func() time.Time { return clock(cal.Location(), 8, 12, 0) }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx, time.Hour), context.Canceled)
}
