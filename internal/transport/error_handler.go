package transport

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"go.uber.org/zap"
)

const unexpectedErrorMessage = "an unexpected error occurred"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler maps domain errors to HTTP responses. Unclassified errors are
// reported as 500 without detail.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status, body := Classify(err)

		log := observability.WithContextLogger(logger, c.UserContext())
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= fiber.StatusInternalServerError {
			log.Error("request error", fields...)
		} else {
			log.Warn("request rejected", fields...)
		}

		return c.Status(status).JSON(body)
	}
}

// Classify returns the HTTP status and body reported for err.
func Classify(err error) (int, ErrorResponse) {
	var processingErr *domain.ProcessingError
	if errors.As(err, &processingErr) {
		return fiber.StatusBadRequest, ErrorResponse{Code: processingErr.Code, Message: processingErr.Message}
	}

	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnsupportedChannel):
		return fiber.StatusBadRequest, ErrorResponse{Code: strconv.Itoa(fiber.StatusBadRequest), Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, ErrorResponse{Code: domain.CodeNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict, ErrorResponse{Code: domain.CodeConflict, Message: err.Error()}
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) && fiberErr.Code < fiber.StatusInternalServerError {
		return fiberErr.Code, ErrorResponse{Code: strconv.Itoa(fiberErr.Code), Message: fiberErr.Message}
	}

	return fiber.StatusInternalServerError, ErrorResponse{Code: domain.CodeUnexpected, Message: unexpectedErrorMessage}
}
