package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
)

// MessagingHandler publishes provider responses onto a response topic, so
// asynchronous reconciliation can be driven without a live provider.
type MessagingHandler struct {
	publisher queue.Publisher
}

func NewMessagingHandler(publisher queue.Publisher) (*MessagingHandler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &MessagingHandler{publisher: publisher}, nil
}

type messagingResponse struct {
	Topic      string `json:"topic"`
	ExternalID string `json:"externalId"`
}

func (h *MessagingHandler) Send(c *fiber.Ctx) error {
	topic := c.Params("topic")
	if _, ok := queue.ResponseChannel(topic); !ok {
		return fmt.Errorf("%w: unknown response topic %q", domain.ErrValidation, topic)
	}

	var msg queue.ResponseMessage
	if err := c.BodyParser(&msg); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := h.publisher.Publish(c.UserContext(), topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(messagingResponse{
		Topic:      topic,
		ExternalID: msg.ExternalID,
	})
}
