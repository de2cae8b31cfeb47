// Package scheduler runs the backup cycle periodically, one execution at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"fbagent/internal/agent"
)

// Task is the body executed on every run.
type Task func(ctx context.Context) error

// Config configures a Scheduler.
type Config struct {
	Interval time.Duration
	// RunOnce stops the scheduler after the first execution.
	RunOnce bool
	Clock   clock.Clock
	// LastSuccess seeds the schedule so that a restart honours the interval.
	LastSuccess time.Time
	Logger      agent.Logger
}

// Scheduler is a single-flight periodic task. At most one run executes at a
// time; a run reschedules the next one before it releases the guard.
type Scheduler struct {
	cfg  Config
	task Task

	guard sync.Mutex // held for the duration of a run

	mu          sync.Mutex
	pending     bool
	stop        chan struct{}
	timer       clock.Timer
	cancelled   bool
	lastSuccess time.Time
	lastAttempt time.Time
	nextRun     time.Time

	done     chan struct{}
	doneOnce sync.Once
}

func New(cfg Config, task Task) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = agent.NewNopLogger()
	}
	return &Scheduler{
		cfg:         cfg,
		task:        task,
		lastSuccess: cfg.LastSuccess,
		done:        make(chan struct{}),
	}
}

// Run executes the task now, waiting for an in-flight run to finish first.
// Unless in run-once mode the next run is scheduled before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		return nil
	}

	start := s.cfg.Clock.Now()
	s.cfg.Logger.Debug("scheduled run starting")
	err := s.task(ctx)

	s.mu.Lock()
	s.lastAttempt = start
	if err == nil {
		s.lastSuccess = start
	}
	s.mu.Unlock()
	if err != nil {
		s.cfg.Logger.Error("scheduled run failed", "error", err)
	}

	if s.cfg.RunOnce {
		s.finish()
		return err
	}
	s.ScheduleTask(ctx, false)
	return err
}

// NextRun returns when the pending run fires, or the zero time.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return time.Time{}
	}
	return s.nextRun
}

// next returns the earliest time a run is allowed: an interval after both the
// last success and the last attempt, and never in the past.
func (s *Scheduler) next(now time.Time) time.Time {
	at := now
	for _, last := range []time.Time{s.lastSuccess, s.lastAttempt} {
		if last.IsZero() {
			continue
		}
		if t := last.Add(s.cfg.Interval); t.After(at) {
			at = t
		}
	}
	return at
}

// ScheduleTask arms the timer for the next run, immediately when forceNow is
// set. It does nothing while a timer is already pending or after Cancel.
func (s *Scheduler) ScheduleTask(ctx context.Context, forceNow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.pending {
		return
	}

	now := s.cfg.Clock.Now()
	at := now
	if !forceNow {
		at = s.next(now)
	}

	var fire <-chan time.Time
	s.timer = nil
	if delay := at.Sub(now); delay > 0 {
		s.timer = s.cfg.Clock.NewTimer(delay)
		fire = s.timer.Chan()
	} else {
		ch := make(chan time.Time, 1)
		ch <- now
		fire = ch
	}
	stop := make(chan struct{})
	s.stop = stop
	s.pending = true
	s.nextRun = at
	s.cfg.Logger.Debug("next run scheduled", "at", at)

	go func() {
		select {
		case <-fire:
			s.mu.Lock()
			current := s.stop == stop
			if current {
				s.pending = false
			}
			s.mu.Unlock()
			if current {
				s.Run(ctx)
			}
		case <-stop:
		case <-ctx.Done():
			s.mu.Lock()
			if s.stop == stop {
				s.pending = false
			}
			s.mu.Unlock()
		}
	}()
}

// disarm stops a pending timer. s.mu must be held.
func (s *Scheduler) disarm() {
	if !s.pending {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.stop)
	s.pending = false
}

// Trigger replaces a pending timer with an immediate run. A run already in
// progress finishes first.
func (s *Scheduler) Trigger(ctx context.Context) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.disarm()
	s.mu.Unlock()
	s.ScheduleTask(ctx, true)
}

// Cancel stops the pending timer and blocks until no run is in flight.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.disarm()
	s.mu.Unlock()

	s.guard.Lock()
	s.guard.Unlock()
	s.finish()
}

// Done is closed after a run-once execution or Cancel.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}
