package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
)

// ResponseReconciler applies settlement provider verdicts synchronously.
type ResponseReconciler interface {
	ProcessPixResponse(ctx context.Context, response domain.ExternalResponse) error
	ProcessTedResponse(ctx context.Context, response domain.ExternalResponse) error
}

type NotificationHandler struct {
	reconciler ResponseReconciler
}

func NewNotificationHandler(reconciler ResponseReconciler) (*NotificationHandler, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("response reconciler is required")
	}
	return &NotificationHandler{reconciler: reconciler}, nil
}

type notificationResponse struct {
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
}

func (h *NotificationHandler) Pix(c *fiber.Ctx) error {
	return h.handle(c, h.reconciler.ProcessPixResponse)
}

func (h *NotificationHandler) Ted(c *fiber.Ctx) error {
	return h.handle(c, h.reconciler.ProcessTedResponse)
}

func (h *NotificationHandler) handle(c *fiber.Ctx, process func(context.Context, domain.ExternalResponse) error) error {
	response, err := parseExternalResponse(c)
	if err != nil {
		return err
	}

	if err := process(c.UserContext(), response); err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(notificationResponse{
		ExternalID: response.ExternalID,
		Status:     response.Status.String(),
	})
}

func parseExternalResponse(c *fiber.Ctx) (domain.ExternalResponse, error) {
	var msg queue.ResponseMessage
	if err := c.BodyParser(&msg); err != nil {
		return domain.ExternalResponse{}, fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return msg.ToExternalResponse()
}
