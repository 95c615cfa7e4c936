package memory

import (
	"context"
	"sort"
	"sync"

	"auth-go/internal/domain"
)

// ClientRepository is an in-memory implementation of store.ClientRepository.
type ClientRepository struct {
	mu sync.RWMutex

	// clients stores all clients by their ID
	clients map[string]*domain.Client

	// byEmail provides lookup by email and enforces its uniqueness
	byEmail map[string]string
}

// NewClientRepository creates a new in-memory client repository.
func NewClientRepository() *ClientRepository {
	return &ClientRepository{
		clients: make(map[string]*domain.Client),
		byEmail: make(map[string]string),
	}
}

// Create stores a new client.
func (r *ClientRepository) Create(ctx context.Context, c *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.ID]; exists {
		return domain.ErrClientAlreadyExists
	}
	if _, exists := r.byEmail[c.Email]; exists {
		return domain.ErrClientAlreadyExists
	}

	// Store a copy
	clientCopy := *c
	r.clients[c.ID] = &clientCopy
	r.byEmail[c.Email] = c.ID
	return nil
}

// GetByID retrieves a client by its ID.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists {
		return nil, domain.ErrClientNotFound
	}

	// Return a copy
	result := *c
	return &result, nil
}

// GetByEmail retrieves a client by its email address.
func (r *ClientRepository) GetByEmail(ctx context.Context, email string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmail[email]
	if !exists {
		return nil, domain.ErrClientNotFound
	}

	result := *r.clients[id]
	return &result, nil
}

// List retrieves all clients, oldest first.
func (r *ClientRepository) List(ctx context.Context) ([]*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		clientCopy := *c
		results = append(results, &clientCopy)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})

	return results, nil
}

// Count returns the number of registered clients.
func (r *ClientRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients), nil
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *ClientRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients = make(map[string]*domain.Client)
	r.byEmail = make(map[string]string)
}
