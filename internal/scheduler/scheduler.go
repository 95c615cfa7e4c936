// Package scheduler runs named recurring jobs so that, across every
// replica sharing a lock store, at most one instance executes a job at a
// time and consecutive runs are at least lockAtLeastFor apart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auth-go/internal/metrics"
	"auth-go/internal/store"
)

const (
	tracerName = "auth-go/internal/scheduler"

	// unlockTimeout bounds the release call, which runs detached from
	// the scheduler context so a shutdown still releases held locks.
	unlockTimeout = 5 * time.Second
)

// Errors returned by the scheduler.
var (
	ErrDuplicateJob             = errors.New("job already registered")
	ErrSchedulerStarted         = errors.New("scheduler already started")
	ErrInvalidLockConfiguration = store.ErrInvalidLockConfiguration
	ErrTaskPanic                = errors.New("task panicked")
)

// State is the lifecycle state of one job.
type State string

const (
	StateIdle          State = "IDLE"
	StateAcquiringLock State = "ACQUIRING_LOCK"
	StateRunning       State = "RUNNING"
	StateSkipped       State = "SKIPPED"
	StateStopped       State = "STOPPED"
)

// Task is the unit of work of a job. It runs only while the job's lock is held.
type Task func(ctx context.Context) error

// JobStatus is a snapshot of one job.
type JobStatus struct {
	Name           string        `json:"name"`
	State          State         `json:"state"`
	LockAtMostFor  time.Duration `json:"lock_at_most_for"`
	LockAtLeastFor time.Duration `json:"lock_at_least_for"`
	Runs           uint64        `json:"runs"`
	Skips          uint64        `json:"skips"`
	Failures       uint64        `json:"failures"`
	LastRunAt      time.Time     `json:"last_run_at,omitempty"`
	LastDuration   time.Duration `json:"last_duration"`
	LastError      string        `json:"last_error,omitempty"`
}

type job struct {
	cfg  store.LockConfiguration
	task Task

	mu     sync.Mutex
	status JobStatus
}

func (j *job) setState(s State) {
	j.mu.Lock()
	j.status.State = s
	j.mu.Unlock()
}

func (j *job) snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Scheduler owns a set of jobs and one goroutine per job.
type Scheduler struct {
	locks  store.LockProvider
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler that coordinates through locks.
func New(locks store.LockProvider, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		locks:  locks,
		logger: logger.With("component", "scheduler"),
		tracer: otel.Tracer(tracerName),
		jobs:   make(map[string]*job),
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(cfg store.LockConfiguration, task Task) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("job %s: task is required", cfg.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerStarted
	}
	if _, exists := s.jobs[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, cfg.Name)
	}

	s.jobs[cfg.Name] = &job{
		cfg:  cfg,
		task: task,
		status: JobStatus{
			Name:           cfg.Name,
			State:          StateIdle,
			LockAtMostFor:  cfg.LockAtMostFor,
			LockAtLeastFor: cfg.LockAtLeastFor,
		},
	}
	return nil
}

// Start launches every registered job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.run(runCtx, j)
	}

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels every job and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Jobs returns the status of every job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()
	defer j.setState(StateStopped)

	logger := s.logger.With("job", j.cfg.Name)
	logger.Info("job scheduled",
		"lock_at_most_for", j.cfg.LockAtMostFor,
		"lock_at_least_for", j.cfg.LockAtLeastFor,
	)

	for {
		wait := s.tick(ctx, j, logger)
		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick makes one attempt at the job and returns how long to sleep
// before the next one.
func (s *Scheduler) tick(ctx context.Context, j *job, logger *slog.Logger) time.Duration {
	start := time.Now()
	cfg := j.cfg
	cfg.CreatedAt = start

	j.setState(StateAcquiringLock)
	lock, acquired, err := s.locks.TryLock(ctx, cfg)

	switch {
	case err != nil:
		if ctx.Err() == nil {
			logger.Warn("failed to acquire lock, skipping run", "error", err)
		}
		s.skip(j, err)
	case !acquired:
		logger.Debug("lock held elsewhere, skipping run")
		s.skip(j, nil)
	default:
		s.execute(ctx, j, logger)
		s.release(ctx, lock, logger)
	}

	j.setState(StateIdle)

	wait := cfg.LockAtLeastFor - time.Since(start)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *Scheduler) skip(j *job, err error) {
	metrics.SchedulerTicksTotal.WithLabelValues(j.cfg.Name, "skipped").Inc()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.State = StateSkipped
	j.status.Skips++
	if err != nil {
		j.status.LastError = err.Error()
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job, logger *slog.Logger) {
	j.setState(StateRunning)

	ctx, span := s.tracer.Start(ctx, j.cfg.Name,
		trace.WithAttributes(attribute.String("scheduler.job", j.cfg.Name)),
	)
	defer span.End()

	start := time.Now()
	err := invoke(ctx, j.task)
	elapsed := time.Since(start)

	metrics.SchedulerTaskLatency.WithLabelValues(j.cfg.Name).Observe(elapsed.Seconds())

	j.mu.Lock()
	j.status.Runs++
	j.status.LastRunAt = start
	j.status.LastDuration = elapsed
	if err != nil {
		j.status.Failures++
		j.status.LastError = err.Error()
	} else {
		j.status.LastError = ""
	}
	j.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		metrics.SchedulerTicksTotal.WithLabelValues(j.cfg.Name, "failure").Inc()
		logger.Error("scheduled task failed", "error", err, "duration", elapsed)
		return
	}

	metrics.SchedulerTicksTotal.WithLabelValues(j.cfg.Name, "success").Inc()
	logger.Debug("scheduled task completed", "duration", elapsed)
}

// invoke runs task, converting a panic into an error.
func invoke(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return task(ctx)
}

func (s *Scheduler) release(ctx context.Context, lock store.Lock, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
	defer cancel()

	if err := lock.Unlock(ctx); err != nil {
		logger.Warn("failed to release lock, it expires with its lease", "error", err)
	}
}
