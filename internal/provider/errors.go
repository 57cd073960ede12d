package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
)

// Error codes reported when a settlement provider call fails.
const (
	CodeProviderUnavailable = "PRV001"
	CodeProviderRejected    = "PRV002"
)

// ProviderError classifies settlement provider failures as transient or
// permanent.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	return false
}

// ToProcessingError converts a provider failure into the domain error the
// processing pipeline understands. Transient failures stay retryable.
func ToProcessingError(err error) error {
	if err == nil {
		return nil
	}

	var processingErr *domain.ProcessingError
	if errors.As(err, &processingErr) {
		return err
	}

	if IsTransient(err) {
		return domain.NewProcessingError(CodeProviderUnavailable, "settlement provider unavailable", true, err)
	}
	return domain.NewProcessingError(CodeProviderRejected, "settlement provider rejected the transfer", false, err)
}
