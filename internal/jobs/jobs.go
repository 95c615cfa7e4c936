// Package jobs contains the recurring maintenance tasks run by the
// scheduler and the wiring that registers them from configuration.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"auth-go/internal/config"
	"auth-go/internal/metrics"
	"auth-go/internal/scheduler"
	"auth-go/internal/store"
)

// Job names as they appear in scheduler.jobs[].name.
const (
	RevokedAuthorizationCleanup = "revoked-authorization-cleanup"
	ClientAudit                 = "client-audit"
)

// ErrUnknownJob is returned for a configured job without a task.
var ErrUnknownJob = errors.New("unknown job")

// CleanupRevokedAuthorizations returns a task that deletes revoked
// authorizations whose token has already expired.
func CleanupRevokedAuthorizations(repo store.RevokedAuthorizationRepository, logger *slog.Logger) scheduler.Task {
	return cleanupAt(repo, logger, time.Now)
}

func cleanupAt(repo store.RevokedAuthorizationRepository, logger *slog.Logger, now func() time.Time) scheduler.Task {
	return func(ctx context.Context) error {
		n, err := repo.DeleteExpired(ctx, now().UTC())
		if err != nil {
			return fmt.Errorf("failed to delete expired revoked authorizations: %w", err)
		}
		metrics.RevokedAuthorizationsPurgedTotal.Add(float64(n))
		if n > 0 {
			logger.Info("purged expired revoked authorizations", "count", n)
		}
		return nil
	}
}

// AuditClients returns a task that logs every registered client and
// publishes the client count.
func AuditClients(repo store.ClientRepository, logger *slog.Logger) scheduler.Task {
	return func(ctx context.Context) error {
		clients, err := repo.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list clients: %w", err)
		}
		for _, c := range clients {
			logger.Debug("registered client", "client_id", c.ID, "created_at", c.CreatedAt)
		}
		metrics.RegisteredClients.Set(float64(len(clients)))
		logger.Info("client audit finished", "clients", len(clients))
		return nil
	}
}

// Register adds every enabled job in cfgs to sched, taking its task from
// tasks by name.
func Register(sched *scheduler.Scheduler, cfgs []config.JobConfig, tasks map[string]scheduler.Task) error {
	for _, jc := range cfgs {
		if !jc.IsEnabled() {
			continue
		}
		task, ok := tasks[jc.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownJob, jc.Name)
		}
		lock := store.NewLockConfiguration(jc.Name, jc.LockAtMostFor, jc.LockAtLeastFor)
		if err := sched.Register(lock, task); err != nil {
			return fmt.Errorf("failed to register job %s: %w", jc.Name, err)
		}
	}
	return nil
}
