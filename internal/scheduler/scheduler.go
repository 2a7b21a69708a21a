// Package scheduler triggers the lifecycle stages on the venue's session
// calendar. A job that is still running when its next slot comes due is
// skipped for that slot, never run twice at once.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradeflow/internal/logger"
)

// Job is one scheduled stage. It is due at each clock time in At and, when
// Every is set, at every Every from session open through session close.
// A slot older than Window when first seen is passed over instead of
// caught up; zero catches up any slot of the day.
type Job struct {
	Name   string
	At     []time.Duration
	Every  time.Duration
	Window time.Duration
	Run    func(ctx context.Context) error
}

type jobState struct {
	Job
	last    time.Time
	running bool
}

type Scheduler struct {
	cal *Calendar
	now func() time.Time

	mu   sync.Mutex
	jobs []*jobState
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(cal *Calendar, opts ...Option) *Scheduler {
	s := &Scheduler{cal: cal, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Add(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &jobState{Job: j})
}

// Slots lists the instants on t's venue day at which j is due, in order.
// Non-trading days have none.
func (s *Scheduler) Slots(j Job, t time.Time) []time.Time {
	if !s.cal.TradingDay(t) {
		return nil
	}
	var out []time.Time
	for _, off := range j.At {
		out = append(out, s.cal.At(t, off))
	}
	if j.Every > 0 {
		end := s.cal.At(t, s.cal.close)
		for at := s.cal.At(t, s.cal.open); !at.After(end); at = at.Add(j.Every) {
			out = append(out, at)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Before(out[b]) })
	return out
}

// latestSlot is the most recent slot of j at or before now.
func (s *Scheduler) latestSlot(j Job, now time.Time) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)
	for _, at := range s.Slots(j, now) {
		if at.After(now) {
			break
		}
		latest, found = at, true
	}
	return latest, found
}

// Tick starts every job whose latest slot has not been served yet. Missed
// slots collapse into one run. It returns the names of the jobs started.
func (s *Scheduler) Tick(ctx context.Context) []string {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var started []string
	for _, js := range s.jobs {
		slot, ok := s.latestSlot(js.Job, now)
		if !ok || !js.last.Before(slot) {
			continue
		}
		if js.Window > 0 && now.Sub(slot) > js.Window {
			logger.Info(ctx, "Slot too old to catch up; skipped", "job", js.Name, "slot", slot.Format(time.RFC3339))
			js.last = slot
			continue
		}
		if js.running {
			logger.Warn(ctx, "Previous run still in progress; slot skipped", "job", js.Name, "slot", slot.Format(time.RFC3339))
			js.last = slot
			continue
		}
		js.last = slot
		js.running = true
		started = append(started, js.Name)

		s.wg.Add(1)
		go s.run(ctx, js, slot)
	}
	return started
}

func (s *Scheduler) run(ctx context.Context, js *jobState, slot time.Time) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		js.running = false
		s.mu.Unlock()
	}()

	op := logger.StartOperation(ctx, "scheduler."+js.Name, "job", js.Name, "slot", slot.Format(time.RFC3339))
	if err := js.Run(op.Context()); err != nil {
		op.EndWithError(err)
		return
	}
	op.End()
}

// Run ticks every interval until ctx ends, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info(ctx, "Scheduler started", "timezone", s.cal.Location().String(), "tick", interval.String())
	s.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			logger.Info(ctx, "Scheduler stopping; waiting for running jobs")
			s.Wait()
			return ctx.Err()
		}
	}
}

// Wait blocks until every started job has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }
