// Package mail provides the welcome-mail consumer logic.
// It turns registration broadcasts into welcome mails, deduplicating
// redeliveries through an idempotency store.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"auth-go/internal/domain"
	"auth-go/internal/messaging"
	"auth-go/internal/metrics"
	"auth-go/internal/notification"
	"auth-go/internal/store"
)

const welcomeSubject = "Welcome to authd"

// Service handles registration broadcasts.
type Service struct {
	mailer notification.Mailer
	seen   store.IdempotencyStore
	from   string
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a new mail service. ttl bounds how long a handled
// message key is remembered.
func NewService(
	mailer notification.Mailer,
	seen store.IdempotencyStore,
	from string,
	ttl time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		mailer: mailer,
		seen:   seen,
		from:   from,
		ttl:    ttl,
		logger: logger,
	}
}

// Handle sends the welcome mail for one broadcast.
//
// Records are acknowledged before handling, so the same broadcast can
// arrive again after a restart or through the retry topic. The message
// key is claimed first; a key that was already claimed is a duplicate
// and is skipped. When sending fails the claim is released so the retry
// can claim it again.
func (s *Service) Handle(ctx context.Context, b domain.RegistrationBroadcast, md messaging.Metadata) (messaging.Result, error) {
	key := md.Key
	if key == "" {
		key = b.ID
	}

	fresh, err := s.seen.MarkProcessed(ctx, key, s.ttl)
	if err != nil {
		return messaging.ResultFailed, fmt.Errorf("failed to check message key: %w", err)
	}
	if !fresh {
		metrics.MailsSentTotal.WithLabelValues("duplicate").Inc()
		s.logger.Debug("skipping duplicate registration broadcast", "key", key, "attempt", md.Attempt)
		return messaging.ResultOK, nil
	}

	mail := notification.Mail{
		To:      b.Email,
		From:    s.from,
		Subject: welcomeSubject,
		Body:    welcomeBody(b),
	}

	if err := s.mailer.Send(ctx, mail); err != nil {
		metrics.MailsSentTotal.WithLabelValues("failure").Inc()
		if ferr := s.seen.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			s.logger.Warn("failed to release message key", "key", key, "error", ferr)
		}
		s.logger.Warn("failed to send welcome mail",
			"client_id", b.ID,
			"key", key,
			"attempt", md.Attempt,
			"error", err,
		)
		return messaging.ResultFailed, err
	}

	metrics.MailsSentTotal.WithLabelValues("success").Inc()
	s.logger.Info("welcome mail sent", "client_id", b.ID, "attempt", md.Attempt)
	return messaging.ResultOK, nil
}

// Handler returns the consumer handler. Failures are escalated through router.
func (s *Service) Handler(router *messaging.FailureRouter, codec messaging.Codec) messaging.Handler[domain.RegistrationBroadcast] {
	return messaging.Handler[domain.RegistrationBroadcast]{
		Handle:   s.Handle,
		OnFailed: messaging.OnFailed[domain.RegistrationBroadcast](router, codec),
	}
}

func welcomeBody(b domain.RegistrationBroadcast) string {
	return fmt.Sprintf("Hello %s,\n\nyour client %s was registered on %s.\n",
		b.Name, b.ID, b.Time.UTC().Format(time.RFC1123))
}
