package memory

import (
	"context"
	"sync"
	"time"

	"auth-go/internal/domain"
)

// RevokedAuthorizationRepository is an in-memory implementation of
// store.RevokedAuthorizationRepository, keyed by token.
type RevokedAuthorizationRepository struct {
	mu      sync.RWMutex
	byToken map[string]*domain.RevokedAuthorization
}

// NewRevokedAuthorizationRepository creates a new in-memory repository.
func NewRevokedAuthorizationRepository() *RevokedAuthorizationRepository {
	return &RevokedAuthorizationRepository{
		byToken: make(map[string]*domain.RevokedAuthorization),
	}
}

// Create records a revoked authorization.
func (r *RevokedAuthorizationRepository) Create(ctx context.Context, auth *domain.RevokedAuthorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byToken[auth.Token]; exists {
		return domain.ErrRevokedAuthorizationExists
	}

	authCopy := *auth
	r.byToken[auth.Token] = &authCopy
	return nil
}

// List retrieves all revoked authorizations.
func (r *RevokedAuthorizationRepository) List(ctx context.Context) ([]*domain.RevokedAuthorization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*domain.RevokedAuthorization, 0, len(r.byToken))
	for _, a := range r.byToken {
		authCopy := *a
		results = append(results, &authCopy)
	}
	return results, nil
}

// DeleteExpired removes every record whose token expired at or before before.
func (r *RevokedAuthorizationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, a := range r.byToken {
		if a.IsExpired(before) {
			delete(r.byToken, token)
			n++
		}
	}
	return n, nil
}
