package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"auth-go/internal/domain"
	"auth-go/internal/registration"
)

// Registrar registers clients. *registration.Service satisfies it.
type Registrar interface {
	Register(ctx context.Context, req domain.RegistrationRequest) (*domain.Client, error)
	Get(ctx context.Context, id string) (*domain.Client, error)
}

// RegistrationHandler handles HTTP requests for client registration.
type RegistrationHandler struct {
	service Registrar
	logger  *slog.Logger
}

// NewRegistrationHandler creates a new registration handler.
func NewRegistrationHandler(service Registrar, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		service: service,
		logger:  logger,
	}
}

// Register handles POST /v1/registrations
// Stores the client and broadcasts it. The welcome mail is sent
// asynchronously by the mail consumer.
func (h *RegistrationHandler) Register(c *fiber.Ctx) error {
	var req domain.RegistrationRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse registration body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	client, err := h.service.Register(c.Context(), req)
	switch {
	case err == nil:
		return Created(c, client)
	case errors.Is(err, registration.ErrBroadcastFailed) && client != nil:
		// The client exists; only the welcome mail is delayed.
		h.logger.Warn("client registered without broadcast", "client_id", client.ID, "error", err)
		return Created(c, client, WarnMailDelayed)
	case invalidField(err) != "":
		return ValidationError(c, err)
	case errors.Is(err, domain.ErrClientAlreadyExists):
		return Conflict(c, "client already exists")
	default:
		h.logger.Error("failed to register client", "error", err)
		return InternalError(c, "failed to register client")
	}
}

// GetByID handles GET /v1/registrations/:id
// Returns a single client by ID.
func (h *RegistrationHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return BadRequest(c, "id is required")
	}

	client, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrClientNotFound) {
			return NotFound(c, "client not found")
		}
		h.logger.Error("failed to get client", "error", err, "id", id)
		return InternalError(c, "failed to get client")
	}

	return Success(c, client)
}
