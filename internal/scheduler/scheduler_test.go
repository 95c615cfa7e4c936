package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"auth-go/internal/scheduler"
	"auth-go/internal/store"
	"auth-go/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func lockConfig(name string, atMost, atLeast time.Duration) store.LockConfiguration {
	return store.LockConfiguration{Name: name, LockAtMostFor: atMost, LockAtLeastFor: atLeast}
}

// failingLocks is a lock provider whose store is unreachable.
type failingLocks struct {
	calls atomic.Int32
}

func (f *failingLocks) TryLock(context.Context, store.LockConfiguration) (store.Lock, bool, error) {
	f.calls.Add(1)
	return nil, false, errors.New("lock store unavailable")
}

// overlapTracker records how many task invocations overlap.
type overlapTracker struct {
	active atomic.Int32
	peak   atomic.Int32
	runs   atomic.Int32
}

func (p *overlapTracker) task(hold time.Duration) scheduler.Task {
	return func(ctx context.Context) error {
		n := p.active.Add(1)
		for {
			old := p.peak.Load()
			if n <= old || p.peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(hold)
		p.active.Add(-1)
		p.runs.Add(1)
		return nil
	}
}

func findJob(s *scheduler.Scheduler, name string) scheduler.JobStatus {
	for _, j := range s.Jobs() {
		if j.Name == name {
			return j
		}
	}
	Fail("job not found: " + name)
	return scheduler.JobStatus{}
}

var _ = Describe("Scheduler", func() {
	var (
		locks *memory.LockProvider
		sched *scheduler.Scheduler
	)

	BeforeEach(func() {
		locks = memory.NewLockProvider()
		sched = scheduler.New(locks, testLogger())
	})

	AfterEach(func() {
		sched.Stop()
	})

	Describe("Register", func() {
		It("rejects an invalid lock configuration", func() {
			err := sched.Register(lockConfig("job", time.Second, 2*time.Second), func(context.Context) error { return nil })
			Expect(err).To(MatchError(scheduler.ErrInvalidLockConfiguration))

			err = sched.Register(lockConfig("job", time.Second, 0), func(context.Context) error { return nil })
			Expect(err).To(MatchError(scheduler.ErrInvalidLockConfiguration))
		})

		It("rejects duplicate names", func() {
			noop := func(context.Context) error { return nil }
			Expect(sched.Register(lockConfig("job", time.Minute, time.Second), noop)).To(Succeed())
			Expect(sched.Register(lockConfig("job", time.Minute, time.Second), noop)).To(MatchError(scheduler.ErrDuplicateJob))
		})

		It("rejects registration after start", func() {
			Expect(sched.Start(context.Background())).To(Succeed())
			err := sched.Register(lockConfig("late", time.Minute, time.Second), func(context.Context) error { return nil })
			Expect(err).To(MatchError(scheduler.ErrSchedulerStarted))
			Expect(sched.Start(context.Background())).To(MatchError(scheduler.ErrSchedulerStarted))
		})

		It("reports registered jobs as idle", func() {
			Expect(sched.Register(lockConfig("b", time.Minute, time.Second), func(context.Context) error { return nil })).To(Succeed())
			Expect(sched.Register(lockConfig("a", time.Minute, time.Second), func(context.Context) error { return nil })).To(Succeed())

			jobs := sched.Jobs()
			Expect(jobs).To(HaveLen(2))
			Expect(jobs[0].Name).To(Equal("a"))
			Expect(jobs[1].State).To(Equal(scheduler.StateIdle))
		})
	})

	Describe("cadence", func() {
		It("runs a job repeatedly no more often than lockAtLeastFor", func() {
			var runs atomic.Int32
			Expect(sched.Register(lockConfig("tick", time.Second, 40*time.Millisecond), func(context.Context) error {
				runs.Add(1)
				return nil
			})).To(Succeed())

			Expect(sched.Start(context.Background())).To(Succeed())
			time.Sleep(210 * time.Millisecond)
			sched.Stop()

			// Runs at roughly 0, 40, 80, 120, 160, 200ms.
			Expect(runs.Load()).To(BeNumerically(">=", 3))
			Expect(runs.Load()).To(BeNumerically("<=", 6))
			Expect(findJob(sched, "tick").Runs).To(BeEquivalentTo(runs.Load()))
		})

		It("starts the next run immediately when a task outlasts lockAtLeastFor", func() {
			var runs atomic.Int32
			Expect(sched.Register(lockConfig("slow", time.Second, 5*time.Millisecond), func(context.Context) error {
				runs.Add(1)
				time.Sleep(20 * time.Millisecond)
				return nil
			})).To(Succeed())

			Expect(sched.Start(context.Background())).To(Succeed())
			Eventually(runs.Load).WithTimeout(time.Second).Should(BeNumerically(">=", 3))
		})
	})

	Describe("exclusivity", func() {
		It("never runs a job on two instances at once", func() {
			tracker := &overlapTracker{}
			other := scheduler.New(locks, testLogger())
			DeferCleanup(other.Stop)

			cfg := lockConfig("shared", time.Second, 15*time.Millisecond)
			Expect(sched.Register(cfg, tracker.task(10*time.Millisecond))).To(Succeed())
			Expect(other.Register(cfg, tracker.task(10*time.Millisecond))).To(Succeed())

			Expect(sched.Start(context.Background())).To(Succeed())
			Expect(other.Start(context.Background())).To(Succeed())

			Eventually(tracker.runs.Load).WithTimeout(2 * time.Second).Should(BeNumerically(">=", 6))
			Expect(tracker.peak.Load()).To(BeEquivalentTo(1))

			skips := findJob(sched, "shared").Skips + findJob(other, "shared").Skips
			Expect(skips).To(BeNumerically(">", 0))
		})
	})

	Describe("failures", func() {
		It("skips the tick when the lock store fails", func() {
			failing := &failingLocks{}
			s := scheduler.New(failing, testLogger())
			DeferCleanup(s.Stop)

			var runs atomic.Int32
			Expect(s.Register(lockConfig("job", time.Second, 5*time.Millisecond), func(context.Context) error {
				runs.Add(1)
				return nil
			})).To(Succeed())
			Expect(s.Start(context.Background())).To(Succeed())

			Eventually(failing.calls.Load).Should(BeNumerically(">=", 3))
			Expect(runs.Load()).To(BeZero())

			status := findJob(s, "job")
			Expect(status.Skips).To(BeNumerically(">=", 3))
			Expect(status.LastError).To(ContainSubstring("lock store unavailable"))
		})

		It("recovers from a panicking task and keeps scheduling", func() {
			var runs atomic.Int32
			Expect(sched.Register(lockConfig("boom", time.Second, 5*time.Millisecond), func(context.Context) error {
				runs.Add(1)
				panic("task exploded")
			})).To(Succeed())
			Expect(sched.Start(context.Background())).To(Succeed())

			Eventually(runs.Load).Should(BeNumerically(">=", 2))

			status := findJob(sched, "boom")
			Expect(status.Failures).To(BeNumerically(">=", 1))
			Expect(status.LastError).To(ContainSubstring("task exploded"))
		})

		It("records task errors", func() {
			Expect(sched.Register(lockConfig("err", time.Second, 5*time.Millisecond), func(context.Context) error {
				return errors.New("downstream failed")
			})).To(Succeed())
			Expect(sched.Start(context.Background())).To(Succeed())

			Eventually(func() uint64 { return findJob(sched, "err").Failures }).Should(BeNumerically(">=", 1))
			Expect(findJob(sched, "err").LastError).To(Equal("downstream failed"))
		})
	})

	Describe("Stop", func() {
		It("waits for the running task and stops every job", func() {
			started := make(chan struct{})
			var finished atomic.Bool
			Expect(sched.Register(lockConfig("long", time.Second, 10*time.Millisecond), func(ctx context.Context) error {
				select {
				case <-started:
				default:
					close(started)
				}
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				finished.Store(true)
				return ctx.Err()
			})).To(Succeed())

			Expect(sched.Start(context.Background())).To(Succeed())
			Eventually(started).Should(BeClosed())

			sched.Stop()
			Expect(finished.Load()).To(BeTrue())
			Expect(findJob(sched, "long").State).To(Equal(scheduler.StateStopped))
		})

		It("releases the lock on shutdown with the minimum hold", func() {
			Expect(sched.Register(lockConfig("held", time.Minute, 50*time.Millisecond), func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			})).To(Succeed())
			Expect(sched.Start(context.Background())).To(Succeed())

			Eventually(func() scheduler.State { return findJob(sched, "held").State }).Should(Equal(scheduler.StateRunning))
			sched.Stop()

			until, ok := locks.LockedUntil("held")
			Expect(ok).To(BeTrue())
			Expect(until).To(BeTemporally("<", time.Now().Add(time.Second)))
		})
	})
})
