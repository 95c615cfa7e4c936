// Package registration provides the client registration service.
// It handles validating registration requests, persisting clients,
// and broadcasting the new client on the registration topic so that
// downstream consumers (welcome mail) can react asynchronously.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"auth-go/internal/domain"
	"auth-go/internal/messaging"
	"auth-go/internal/metrics"
	"auth-go/internal/store"
)

// Broadcaster publishes registration broadcasts.
// *messaging.Producer[domain.RegistrationBroadcast] satisfies it.
type Broadcaster interface {
	Send(ctx context.Context, payload domain.RegistrationBroadcast, md messaging.Metadata) error
}

// Errors returned by the registration service.
var (
	// ErrBroadcastFailed is returned together with the stored client when
	// the client was persisted but its broadcast could not be published.
	ErrBroadcastFailed = errors.New("failed to broadcast registration")
)

// Service handles client registration.
type Service struct {
	clients     store.ClientRepository
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewService creates a new registration service.
func NewService(clients store.ClientRepository, broadcaster Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		clients:     clients,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Register validates req, stores a new client and broadcasts it.
//
// The processing flow:
// 1. Normalize and validate the request
// 2. Reject an email that is already registered
// 3. Persist the client
// 4. Publish the registration broadcast keyed by client ID
//
// A broadcast failure does not undo the registration: the client is
// returned along with an error wrapping ErrBroadcastFailed.
func (s *Service) Register(ctx context.Context, req domain.RegistrationRequest) (*domain.Client, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if _, err := s.clients.GetByEmail(ctx, req.Email); err == nil {
		metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
		return nil, domain.ErrClientAlreadyExists
	} else if !errors.Is(err, domain.ErrClientNotFound) {
		metrics.RegistrationsTotal.WithLabelValues("failure").Inc()
		s.logger.Error("failed to look up client", "error", err)
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	client := domain.NewClient(req)
	if err := s.clients.Create(ctx, client); err != nil {
		if errors.Is(err, domain.ErrClientAlreadyExists) {
			metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		metrics.RegistrationsTotal.WithLabelValues("failure").Inc()
		s.logger.Error("failed to store client", "error", err)
		return nil, fmt.Errorf("failed to store client: %w", err)
	}

	md := messaging.NewMetadata(client.ID)
	err := s.broadcaster.Send(ctx, domain.NewRegistrationBroadcast(client), md)
	switch {
	case err == nil:
	case errors.Is(err, messaging.ErrProducerDisabled):
		s.logger.Debug("registration broadcast disabled", "client_id", client.ID)
	default:
		metrics.RegistrationsTotal.WithLabelValues("broadcast_failure").Inc()
		s.logger.Error("failed to broadcast registration", "client_id", client.ID, "error", err)
		return client, fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	s.logger.Info("client registered", "client_id", client.ID)
	return client, nil
}

// Get returns a client by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Client, error) {
	return s.clients.GetByID(ctx, id)
}
