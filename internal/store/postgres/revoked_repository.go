package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"auth-go/internal/domain"
)

// RevokedAuthorizationRepository implements store.RevokedAuthorizationRepository
// using PostgreSQL.
type RevokedAuthorizationRepository struct {
	db *DB
}

// NewRevokedAuthorizationRepository creates a new PostgreSQL-backed repository.
func NewRevokedAuthorizationRepository(db *DB) *RevokedAuthorizationRepository {
	return &RevokedAuthorizationRepository{db: db}
}

// Create records a revoked authorization.
func (r *RevokedAuthorizationRepository) Create(ctx context.Context, a *domain.RevokedAuthorization) (err error) {
	defer func(start time.Time) { observe("revoked_create", start, err) }(time.Now())

	query := `
		INSERT INTO revoked_authorizations (id, client_id, token, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.pool.Exec(ctx, query, a.ID, a.ClientID, a.Token, a.ExpiresAt, a.RevokedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrRevokedAuthorizationExists
		}
		return fmt.Errorf("failed to create revoked authorization: %w", err)
	}

	return nil
}

// List retrieves all revoked authorizations.
func (r *RevokedAuthorizationRepository) List(ctx context.Context) (out []*domain.RevokedAuthorization, err error) {
	defer func(start time.Time) { observe("revoked_list", start, err) }(time.Now())

	query := `
		SELECT id, client_id, token, expires_at, revoked_at
		FROM revoked_authorizations
		ORDER BY revoked_at DESC
	`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list revoked authorizations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.RevokedAuthorization
		if err := rows.Scan(&a.ID, &a.ClientID, &a.Token, &a.ExpiresAt, &a.RevokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revoked authorization: %w", err)
		}
		out = append(out, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revoked authorizations: %w", err)
	}

	return out, nil
}

// DeleteExpired removes every record whose token expired at or before before.
func (r *RevokedAuthorizationRepository) DeleteExpired(ctx context.Context, before time.Time) (n int64, err error) {
	defer func(start time.Time) { observe("revoked_delete_expired", start, err) }(time.Now())

	result, err := r.db.pool.Exec(ctx, `DELETE FROM revoked_authorizations WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorizations: %w", err)
	}

	return result.RowsAffected(), nil
}
