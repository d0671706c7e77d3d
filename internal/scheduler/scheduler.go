// Package scheduler owns the recurring triggers for discovery, backup, and
// monitoring. At most one instance of a named job runs at a time; a trigger
// firing mid-run is coalesced, never queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gearshed/camsync/internal/catalog"
	"github.com/gearshed/camsync/internal/progress"
)

// JobFunc is one unit of scheduled work. It must honor ctx cancellation.
type JobFunc func(ctx context.Context) error

// Spec describes when a registered job fires. Exactly one of Every or
// AtTimeOfDay must be set. AtTimeOfDay is a pointer so that a zero offset,
// meaning midnight, stays distinguishable from "no daily schedule".
type Spec struct {
	// Every fires the job on a fixed interval.
	Every time.Duration
	// AtTimeOfDay fires the job once a day at the given offset from local
	// midnight.
	AtTimeOfDay *time.Duration
	// RunOnStart fires the job immediately when the scheduler starts.
	RunOnStart bool
}

// At is a convenience for daily Specs.
func At(offset time.Duration) *time.Duration {
	return &offset
}

func (s Spec) validate() error {
	if s.Every > 0 && s.AtTimeOfDay != nil {
		return fmt.Errorf("interval and time-of-day are mutually exclusive")
	}
	if s.AtTimeOfDay != nil && (*s.AtTimeOfDay < 0 || *s.AtTimeOfDay >= 24*time.Hour) {
		return fmt.Errorf("time of day must be in [0h, 24h)")
	}
	if s.Every <= 0 && s.AtTimeOfDay == nil && !s.RunOnStart {
		return fmt.Errorf("job needs an interval, a time of day, or run-on-start")
	}
	return nil
}

type job struct {
	name    string
	spec    Spec
	fn      JobFunc
	running atomic.Bool
}

// Scheduler drives registered jobs from one timer loop per job. Stop waits
// for in-flight runs up to the grace period, then cancels them.
type Scheduler struct {
	clock   catalog.Clock
	emitter progress.Emitter
	logger  *zap.Logger
	grace   time.Duration

	mu       sync.Mutex
	jobs     map[string]*job
	started  bool
	stopping bool

	// stopTriggers ends timer delivery the moment Stop is entered; runCtx
	// stays live until the grace period has run out so in-flight jobs can
	// reach a safe checkpoint.
	stopTriggers chan struct{}
	cancel       context.CancelFunc
	runCtx       context.Context
	wg           sync.WaitGroup
	inFlight     sync.WaitGroup
}

// Options configures a Scheduler.
type Options struct {
	Clock   catalog.Clock
	Emitter progress.Emitter
	Logger  *zap.Logger
	// GracePeriod bounds how long Stop waits for in-flight jobs
	// (default 30s).
	GracePeriod time.Duration
}

// New builds an empty Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Scheduler{
		clock:   opts.Clock,
		emitter: opts.Emitter,
		logger:  logger.Named("scheduler"),
		grace:   grace,
		jobs:    make(map[string]*job),
	}, nil
}

// Register adds a named job. Registration is rejected once Start has run.
func (s *Scheduler) Register(name string, spec Spec, fn JobFunc) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if fn == nil {
		return fmt.Errorf("job %s: func is required", name)
	}
	if err := spec.validate(); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", name)
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s: already registered", name)
	}
	s.jobs[name] = &job{name: name, spec: spec, fn: fn}
	return nil
}

// Start launches one timer loop per registered job. It returns immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if len(s.jobs) == 0 {
		return fmt.Errorf("no jobs registered")
	}
	s.started = true
	s.stopTriggers = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	for _, jb := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(jb)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop ends trigger delivery and waits for in-flight jobs up to the grace
// period; past that the run contexts are canceled and Stop waits for exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	if !s.stopping {
		s.stopping = true
		close(s.stopTriggers)
	}
	s.mu.Unlock()

	// Trigger delivery is off at this point; let in-flight runs finish
	// within the grace period before pulling the run context.
	finished := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(finished)
	}()

	graceTimer := time.NewTimer(s.grace)
	defer graceTimer.Stop()
	select {
	case <-finished:
	case <-graceTimer.C:
		s.logger.Warn("grace period elapsed, canceling in-flight jobs",
			zap.Duration("grace", s.grace))
	case <-ctx.Done():
	}

	cancel()
	loopsDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) runLoop(jb *job) {
	defer s.wg.Done()

	if jb.spec.RunOnStart {
		s.dispatch(jb)
	}

	for {
		wait := s.nextWait(jb.spec)
		if wait <= 0 {
			// Pure run-on-start job with no recurrence.
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			s.dispatch(jb)
		case <-s.stopTriggers:
			timer.Stop()
			return
		}
	}
}

// nextWait computes the delay before the job's next firing.
func (s *Scheduler) nextWait(spec Spec) time.Duration {
	switch {
	case spec.Every > 0:
		return spec.Every
	case spec.AtTimeOfDay != nil:
		return untilTimeOfDay(s.clock.Now(), *spec.AtTimeOfDay)
	default:
		return 0
	}
}

// untilTimeOfDay returns the wait from now until the next local occurrence of
// the given offset from midnight.
func untilTimeOfDay(now time.Time, offset time.Duration) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := midnight.Add(offset)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// dispatch runs the job unless its previous invocation is still active, in
// which case the trigger is dropped.
func (s *Scheduler) dispatch(jb *job) {
	if !jb.running.CompareAndSwap(false, true) {
		s.logger.Warn("trigger coalesced, previous run still active",
			zap.String("job", jb.name))
		if s.emitter != nil {
			s.emitter.Emit(progress.Event{
				CycleID: [16]byte(uuid.New()),
				Job:     jb.name,
				TS:      s.clock.Now(),
				Stage:   progress.StageTriggerCoalesced,
			})
		}
		return
	}

	// The stopping check and the Add are one critical section so a late
	// timer firing cannot race Stop's inFlight.Wait.
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		jb.running.Store(false)
		return
	}
	s.inFlight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inFlight.Done()
		defer jb.running.Store(false)

		start := s.clock.Now()
		err := jb.fn(s.runCtx)
		dur := s.clock.Now().Sub(start)
		if err != nil {
			s.logger.Error("job run failed",
				zap.String("job", jb.name),
				zap.Duration("dur", dur),
				zap.Error(err))
			return
		}
		s.logger.Debug("job run finished",
			zap.String("job", jb.name),
			zap.Duration("dur", dur))
	}()
}
