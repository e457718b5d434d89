package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, not_found, insufficient_batch, metadata_missing, internal_error
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`

	// Set when an upload batch fails after some images were dropped.
	Skipped   []domain.SkippedImage `json:"skipped,omitempty"`
	Truncated bool                  `json:"truncated,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, "internal_error", msg)
}

// errFromUpload is errFromDomain for upload batches: the images that were
// skipped or cut off are reported alongside the error.
func errFromUpload(c *fiber.Ctx, err error, res *domain.SurveyResult) error {
	if res == nil || !domain.IsInsufficientBatch(err) {
		return errFromDomain(c, err)
	}
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(fiber.StatusUnprocessableEntity).JSON(APIError{
		Status:    fiber.StatusUnprocessableEntity,
		Code:      "insufficient_batch",
		Message:   err.Error(),
		RequestID: reqID,
		Skipped:   res.Skipped,
		Truncated: res.Truncated,
	})
}

// errFromDomain maps service errors onto the API error envelope.
func errFromDomain(c *fiber.Ctx, err error) error {
	switch {
	case domain.IsInsufficientBatch(err):
		return newError(c, fiber.StatusUnprocessableEntity, "insufficient_batch", err.Error())
	case domain.IsMetadataMissing(err):
		return newError(c, fiber.StatusUnprocessableEntity, "metadata_missing", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, usecases.ErrInvalidQuery):
		return errBadRequest(c, err.Error())
	}
	LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
	return errInternal(c, err.Error())
}
