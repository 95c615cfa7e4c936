package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"auth-go/internal/domain"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// ClientRepository implements store.ClientRepository using PostgreSQL.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new PostgreSQL-backed client repository.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create stores a new client.
func (r *ClientRepository) Create(ctx context.Context, c *domain.Client) (err error) {
	defer func(start time.Time) { observe("client_create", start, err) }(time.Now())

	query := `
		INSERT INTO clients (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err = r.db.pool.Exec(ctx, query, c.ID, c.Email, c.Name, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrClientAlreadyExists
		}
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

// GetByID retrieves a client by its ID.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	query := `
		SELECT id, email, name, created_at
		FROM clients
		WHERE id = $1
	`
	return r.getOne(ctx, "client_get", query, id)
}

// GetByEmail retrieves a client by its email address.
func (r *ClientRepository) GetByEmail(ctx context.Context, email string) (*domain.Client, error) {
	query := `
		SELECT id, email, name, created_at
		FROM clients
		WHERE email = $1
	`
	return r.getOne(ctx, "client_get_by_email", query, email)
}

func (r *ClientRepository) getOne(ctx context.Context, operation, query string, arg string) (c *domain.Client, err error) {
	defer func(start time.Time) { observe(operation, start, err) }(time.Now())

	c, err = scanClient(r.db.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return c, nil
}

// List retrieves all clients, oldest first.
func (r *ClientRepository) List(ctx context.Context) (clients []*domain.Client, err error) {
	defer func(start time.Time) { observe("client_list", start, err) }(time.Now())

	query := `
		SELECT id, email, name, created_at
		FROM clients
		ORDER BY created_at ASC
	`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}

	return clients, nil
}

// Count returns the number of registered clients.
func (r *ClientRepository) Count(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { observe("client_count", start, err) }(time.Now())

	if err = r.db.pool.QueryRow(ctx, `SELECT count(*) FROM clients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count clients: %w", err)
	}
	return n, nil
}

// scanClient scans a single row into a Client. pgx.Rows satisfies pgx.Row.
func scanClient(row pgx.Row) (*domain.Client, error) {
	var c domain.Client

	err := row.Scan(
		&c.ID,
		&c.Email,
		&c.Name,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &c, nil
}
