// Package schedule fires jobs on fixed periods. It is only the trigger: the
// jobs themselves must tolerate duplicate and overlapping runs.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/victornm/quizxp/internal/errors"
	"github.com/victornm/quizxp/internal/telemetry"
)

// Schedule fires at Anchor + k*Every for every integer k.
type Schedule struct {
	Every  time.Duration
	Anchor time.Time
}

// Monday 2024-01-01 00:00 UTC, the start of an ISO week.
var weekAnchor = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Weekly fires every Monday at 00:00 UTC.
func Weekly() Schedule {
	return Schedule{Every: 7 * 24 * time.Hour, Anchor: weekAnchor}
}

// Daily fires every day at 00:00 UTC.
func Daily() Schedule {
	return Schedule{Every: 24 * time.Hour, Anchor: weekAnchor}
}

func (s Schedule) Validate() error {
	if s.Every <= 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("schedule period must be positive, got %s", s.Every))
	}

	return nil
}

// Next returns the first firing strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	d := t.Sub(s.Anchor)
	k := d / s.Every
	if d >= 0 || d%s.Every == 0 {
		k++
	}

	return s.Anchor.Add(k * s.Every)
}

// Timer is what the scheduler waits on. It matches *time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type Config struct {
	Now      func() time.Time
	NewTimer func(d time.Duration) Timer
}

// Job is a unit fired by the scheduler.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context, at time.Time) error
}

type Scheduler struct {
	now      func() time.Time
	newTimer func(d time.Duration) Timer

	mu   sync.Mutex
	jobs []Job
	wg   sync.WaitGroup
}

func New(c Config) *Scheduler {
	s := &Scheduler{
		now:      c.Now,
		newTimer: c.NewTimer,
	}

	if s.now == nil {
		s.now = time.Now
	}

	if s.newTimer == nil {
		s.newTimer = func(d time.Duration) Timer { return stdTimer{time.NewTimer(d)} }
	}

	return s
}

func (s *Scheduler) Add(j Job) error {
	if err := j.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: job %s: %w", j.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, j)
	return nil
}

// Run blocks until ctx is done, firing every job at its schedule. A run is
// never awaited by the next firing, so a slow run may overlap the next one.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var loops sync.WaitGroup
	for _, j := range jobs {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.loop(ctx, j)
		}()
	}

	loops.Wait()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	for {
		next := j.Schedule.Next(s.now())
		t := s.newTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C():
		}

		s.fire(ctx, j, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, j Job, at time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.failed(ctx, j, fmt.Errorf("panic: %v, stack: %s", r, debug.Stack()))
			}
		}()

		slog.InfoContext(ctx, "schedule: firing", "job", j.Name, "at", at)
		if err := j.Run(context.WithoutCancel(ctx), at); err != nil {
			s.failed(ctx, j, err)
		}
	}()
}

func (s *Scheduler) failed(ctx context.Context, j Job, err error) {
	telemetry.ScheduledFailures.WithLabelValues(j.Name).Inc()
	slog.ErrorContext(ctx, "schedule: job failed", "job", j.Name, "error", err)
}

type stdTimer struct {
	t *time.Timer
}

func (t stdTimer) C() <-chan time.Time { return t.t.C }
func (t stdTimer) Stop() bool          { return t.t.Stop() }
