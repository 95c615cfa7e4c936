package store

import (
	"context"
	"time"

	"auth-go/internal/domain"
)

// ClientRepository defines the interface for persistent client storage.
// This is typically backed by PostgreSQL for production use.
type ClientRepository interface {
	// Create stores a new client. It fails with domain.ErrClientAlreadyExists
	// when the email is taken.
	Create(ctx context.Context, client *domain.Client) error

	// GetByID retrieves a client by its ID.
	GetByID(ctx context.Context, id string) (*domain.Client, error)

	// GetByEmail retrieves a client by its email address.
	GetByEmail(ctx context.Context, email string) (*domain.Client, error)

	// List retrieves all clients, oldest first.
	List(ctx context.Context) ([]*domain.Client, error)

	// Count returns the number of registered clients.
	Count(ctx context.Context) (int, error)
}

// RevokedAuthorizationRepository defines the interface for revoked token storage.
type RevokedAuthorizationRepository interface {
	// Create records a revoked authorization.
	Create(ctx context.Context, auth *domain.RevokedAuthorization) error

	// List retrieves all revoked authorizations.
	List(ctx context.Context) ([]*domain.RevokedAuthorization, error)

	// DeleteExpired removes every record whose token expired at or before
	// before, returning the number removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
