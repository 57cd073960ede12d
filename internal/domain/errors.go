package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUnsupportedChannel = errors.New("channel not supported")
)

// Stable error codes exposed to API clients.
const (
	CodeInvalidPayload = "VLP048"
	CodeNotFound       = "400"
	CodeConflict       = "409"
	CodeUnexpected     = "999"
)

// ProcessingError is a typed disbursement failure carrying a machine-readable
// code and a message that is safe to show to clients.
type ProcessingError struct {
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("processing error %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("processing error %s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewProcessingError(code, message string, retryable bool, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// IsPermanent reports whether redelivering the message that produced err can
// never succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedChannel) {
		return true
	}

	var processingErr *ProcessingError
	if errors.As(err, &processingErr) {
		return !processingErr.Retryable
	}
	return false
}
