// Package api provides HTTP handlers and routing for the authd REST API.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"auth-go/internal/domain"
)

// Response is the envelope of every authd API response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	// Warnings report side effects that did not complete, such as a
	// registration whose welcome mail could not be scheduled.
	Warnings []string       `json:"warnings,omitempty"`
	Error    *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request. Field names the request
// attribute that failed validation.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Error codes returned in ResponseError.Code.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// WarnMailDelayed is attached to a registration stored without a broadcast.
const WarnMailDelayed = "welcome mail delayed: registration broadcast failed"

// Success sends a 200 response with data.
func Success(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

// Created sends a 201 response with data and optional warnings.
func Created(c *fiber.Ctx, data any, warnings ...string) error {
	return c.Status(fiber.StatusCreated).JSON(Response{
		Success:  true,
		Data:     data,
		Warnings: warnings,
	})
}

// Error sends an error response with the given status code.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Response{
		Error: &ResponseError{Code: code, Message: message},
	})
}

// BadRequest sends a 400 for a request that cannot be parsed.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeBadRequest, message)
}

// ValidationError sends a 400 naming the registration field that err
// rejects.
func ValidationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(Response{
		Error: &ResponseError{
			Code:    ErrCodeValidationFailed,
			Message: err.Error(),
			Field:   invalidField(err),
		},
	})
}

// invalidField maps domain validation errors to request fields.
func invalidField(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyEmail), errors.Is(err, domain.ErrInvalidEmail):
		return "email"
	case errors.Is(err, domain.ErrEmptyClientName):
		return "name"
	default:
		return ""
	}
}

// NotFound sends a 404.
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict sends a 409.
func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, ErrCodeConflict, message)
}

// InternalError sends a 500.
func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, ErrCodeInternalError, message)
}

// codeForStatus picks the error code for a fiber error status.
func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return ErrCodeNotFound
	case fiber.StatusConflict:
		return ErrCodeConflict
	case fiber.StatusUnprocessableEntity:
		return ErrCodeValidationFailed
	}
	if status >= 400 && status < 500 {
		return ErrCodeBadRequest
	}
	return ErrCodeInternalError
}
