// Package notification provides outbound mail delivery.
// The stub implementation logs mails instead of delivering them; an SMTP
// or provider-backed Mailer plugs in behind the same interface.
package notification

import (
	"context"
	"log/slog"
	"sync"
)

// Mail is one outbound message.
type Mail struct {
	To      string
	From    string
	Subject string
	Body    string
}

// Mailer defines the interface for sending mails.
type Mailer interface {
	// Send delivers mail. An error means the mail was not accepted and
	// may be retried.
	Send(ctx context.Context, mail Mail) error
}

// StubMailer is a Mailer that logs mails and keeps them for inspection.
type StubMailer struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Mail
}

// NewStubMailer creates a new stub mailer.
func NewStubMailer(logger *slog.Logger) *StubMailer {
	return &StubMailer{
		logger: logger,
	}
}

// Send logs the mail.
func (m *StubMailer) Send(ctx context.Context, mail Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.logger.Info("STUB: would send mail",
		"to", mail.To,
		"from", mail.From,
		"subject", mail.Subject,
	)

	m.mu.Lock()
	m.sent = append(m.sent, mail)
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of every mail sent so far. Useful for testing.
func (m *StubMailer) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}
