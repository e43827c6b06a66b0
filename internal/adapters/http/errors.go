package http

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/usecases"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, internal_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: RequestIDFromCtx(c.UserContext()),
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

// errUnavailable returns a 503 error.
func errUnavailable(c *fiber.Ctx, msg string) error {
	return newError(c, 503, "unavailable", msg)
}

// errFromDomain maps service errors onto responses.
func errFromDomain(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return errBadRequest(c, validationMessage(verrs))
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case usecases.IsClientError(err):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrStoreFailure):
		LoggerFromCtx(c.UserContext()).Error("store failure", "error", err)
		return errUnavailable(c, "point of interest store unavailable")
	default:
		LoggerFromCtx(c.UserContext()).Error("request failed", "error", err)
		return errInternal(c, "internal error")
	}
}
