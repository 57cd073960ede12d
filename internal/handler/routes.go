package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/queue"
)

// Services bundles what the disbursement API depends on.
type Services struct {
	Disbursements DisbursementService
	Reconciler    ResponseReconciler
	Publisher     queue.Publisher
	DeadLetters   DeadLetterLister
}

func RegisterRoutes(router fiber.Router, services Services) error {
	disbursements, err := NewDisbursementHandler(services.Disbursements)
	if err != nil {
		return err
	}
	notifications, err := NewNotificationHandler(services.Reconciler)
	if err != nil {
		return err
	}
	messaging, err := NewMessagingHandler(services.Publisher)
	if err != nil {
		return err
	}
	deadLetters, err := NewDeadLetterHandler(services.DeadLetters)
	if err != nil {
		return err
	}

	router.Post("/disbursements", disbursements.Create)
	router.Get("/disbursements/:clientCode/status", disbursements.GetStatus)
	router.Post("/notifications/pix", notifications.Pix)
	router.Post("/notifications/ted", notifications.Ted)
	router.Post("/messaging/send/:topic", messaging.Send)
	router.Get("/dead-letters", deadLetters.List)

	return nil
}
