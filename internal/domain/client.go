// Package domain contains the core business entities of the auth service
// that the event pipeline and scheduled jobs operate on.
package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a registered party of the authorization server.
type Client struct {
	// ID is the unique identifier of the client.
	ID string `json:"id"`

	// Email is the contact address, unique across clients.
	Email string `json:"email"`

	// Name is a human-readable display name.
	Name string `json:"name"`

	// CreatedAt is when the client registered.
	CreatedAt time.Time `json:"created_at"`
}

// RegistrationRequest is the input payload of the registration endpoint.
type RegistrationRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Validation and lookup errors for Client.
var (
	ErrEmptyEmail          = errors.New("email is required")
	ErrInvalidEmail        = errors.New("email is not a valid address")
	ErrEmptyClientName     = errors.New("name is required")
	ErrClientNotFound      = errors.New("client not found")
	ErrClientAlreadyExists = errors.New("client already exists")
)

// Normalize trims whitespace and lowercases the email.
func (r *RegistrationRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
}

// Validate checks if the request has all required fields with valid values.
// Returns an error describing the first validation failure, or nil if valid.
func (r *RegistrationRequest) Validate() error {
	if r.Email == "" {
		return ErrEmptyEmail
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return ErrInvalidEmail
	}
	if r.Name == "" {
		return ErrEmptyClientName
	}
	return nil
}

// NewClient creates a client from a validated registration request.
func NewClient(req RegistrationRequest) *Client {
	return &Client{
		ID:        uuid.New().String(),
		Email:     req.Email,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
}
