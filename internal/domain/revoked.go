package domain

import (
	"errors"
	"time"
)

// RevokedAuthorization records a token that was revoked before it expired.
// Once ExpiresAt has passed the record serves no purpose and is purged.
type RevokedAuthorization struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}

// ErrRevokedAuthorizationExists is returned when the token is already revoked.
var ErrRevokedAuthorizationExists = errors.New("authorization already revoked")

// IsExpired reports whether the revoked token can no longer be presented at now.
func (r *RevokedAuthorization) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
