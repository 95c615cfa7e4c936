package api

import (
	"github.com/gofiber/fiber/v2"

	"auth-go/internal/messaging"
	"auth-go/internal/scheduler"
)

// PipelineStatus reports the state of the background workers.
// *app.Lifecycle satisfies it.
type PipelineStatus interface {
	Consumers() []messaging.Status
	Jobs() []scheduler.JobStatus
}

// PipelineHandler exposes consumer and scheduler state to operators.
type PipelineHandler struct {
	status PipelineStatus
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(status PipelineStatus) *PipelineHandler {
	return &PipelineHandler{status: status}
}

// Consumers handles GET /v1/pipeline/consumers
func (h *PipelineHandler) Consumers(c *fiber.Ctx) error {
	return Success(c, h.status.Consumers())
}

// Jobs handles GET /v1/pipeline/jobs
func (h *PipelineHandler) Jobs(c *fiber.Ctx) error {
	return Success(c, h.status.Jobs())
}
