package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

type DeadLetterHandler struct {
	deadLetters DeadLetterLister
}

func NewDeadLetterHandler(deadLetters DeadLetterLister) (*DeadLetterHandler, error) {
	if deadLetters == nil {
		return nil, fmt.Errorf("dead letter lister is required")
	}
	return &DeadLetterHandler{deadLetters: deadLetters}, nil
}

type deadLetterResponse struct {
	ID       string    `json:"id"`
	Key      string    `json:"key"`
	Topic    string    `json:"topic"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	Payload  string    `json:"payload,omitempty"`
	FailedAt time.Time `json:"failedAt"`
}

type listDeadLettersResponse struct {
	Data []deadLetterResponse `json:"data"`
}

func (h *DeadLetterHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultDeadLetterLimit)
	if limit < 1 || limit > maxDeadLetterLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxDeadLetterLimit)
	}

	entries, err := h.deadLetters.List(c.UserContext(), limit)
	if err != nil {
		return err
	}

	data := make([]deadLetterResponse, 0, len(entries))
	for _, e := range entries {
		data = append(data, deadLetterResponse{
			ID:       e.ID,
			Key:      e.Key,
			Topic:    e.Topic,
			Error:    e.Error,
			Attempts: e.Attempts,
			Payload:  e.Payload,
			FailedAt: e.FailedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listDeadLettersResponse{Data: data})
}
