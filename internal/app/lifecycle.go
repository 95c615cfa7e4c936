// Package app wires the long-running background parts of authd, the
// consumers and the scheduler, into one start/stop lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"auth-go/internal/messaging"
	"auth-go/internal/scheduler"
)

// Consumer is a background consumer managed by the lifecycle.
// *messaging.Consumer[T] and *messaging.RetryConsumer satisfy it.
type Consumer interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Done() <-chan struct{}
	Err() error
	Status() messaging.Status
}

// Lifecycle starts and stops consumers and the scheduler in order.
type Lifecycle struct {
	consumers []Consumer
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	fatal chan error

	mu      sync.Mutex
	started []Consumer
	watch   sync.WaitGroup
	stop    chan struct{}
}

// New creates a lifecycle. scheduler may be nil.
func New(sched *scheduler.Scheduler, logger *slog.Logger, consumers ...Consumer) *Lifecycle {
	return &Lifecycle{
		consumers: consumers,
		scheduler: sched,
		logger:    logger.With("component", "lifecycle"),
		fatal:     make(chan error, len(consumers)),
		stop:      make(chan struct{}),
	}
}

// OnReady starts every consumer, then the scheduler. If anything fails
// to start, whatever was started is stopped again.
func (l *Lifecycle) OnReady(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.consumers {
		if err := c.Start(ctx); err != nil {
			l.stopConsumersLocked()
			return fmt.Errorf("failed to start consumer %s: %w", c.Name(), err)
		}
		l.started = append(l.started, c)

		l.watch.Add(1)
		go l.watchConsumer(c)
	}

	if l.scheduler != nil {
		if err := l.scheduler.Start(ctx); err != nil {
			l.stopConsumersLocked()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	l.logger.Info("background workers started", "consumers", len(l.started))
	return nil
}

// OnShutdown stops the scheduler, then every consumer.
func (l *Lifecycle) OnShutdown() error {
	if l.scheduler != nil {
		l.scheduler.Stop()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.stopConsumersLocked()
	l.logger.Info("background workers stopped")
	return err
}

// Fatal delivers the error of a consumer that terminated on its own.
// The process is expected to shut down when it fires.
func (l *Lifecycle) Fatal() <-chan error {
	return l.fatal
}

// Consumers returns the status of every managed consumer.
func (l *Lifecycle) Consumers() []messaging.Status {
	out := make([]messaging.Status, 0, len(l.consumers))
	for _, c := range l.consumers {
		out = append(out, c.Status())
	}
	return out
}

// Jobs returns the status of every scheduled job.
func (l *Lifecycle) Jobs() []scheduler.JobStatus {
	if l.scheduler == nil {
		return []scheduler.JobStatus{}
	}
	return l.scheduler.Jobs()
}

func (l *Lifecycle) watchConsumer(c Consumer) {
	defer l.watch.Done()

	select {
	case <-l.stop:
		return
	case <-c.Done():
	}

	if err := c.Err(); err != nil {
		l.logger.Error("consumer terminated unexpectedly", "consumer", c.Name(), "error", err)
		select {
		case l.fatal <- err:
		default:
		}
	}
}

func (l *Lifecycle) stopConsumersLocked() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}

	var g errgroup.Group
	for _, c := range l.started {
		g.Go(func() error {
			if err := c.Stop(); err != nil {
				return fmt.Errorf("failed to stop consumer %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	l.started = nil
	l.watch.Wait()
	return err
}
