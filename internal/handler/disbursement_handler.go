package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/service"
	"github.com/shopspring/decimal"
)

type DisbursementService interface {
	Create(ctx context.Context, req service.CreateBatchRequest) (*domain.Batch, error)
	GetStatus(ctx context.Context, clientCode string) (*domain.Batch, error)
}

type DisbursementHandler struct {
	service DisbursementService
}

func NewDisbursementHandler(service DisbursementService) (*DisbursementHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("disbursement service is required")
	}
	return &DisbursementHandler{service: service}, nil
}

type scheduleRequest struct {
	Type       string  `json:"type"`
	Date       *string `json:"date"`
	Recurrency *string `json:"recurrency"`
}

type disbursementStepRequest struct {
	Amount         decimal.Decimal    `json:"amount"`
	CreditParty    domain.CreditParty `json:"creditParty"`
	InitiationType string             `json:"initiationType"`
}

type disbursementRequest struct {
	Type             string                  `json:"type"`
	DisbursementStep disbursementStepRequest `json:"disbursementStep"`
}

type createDisbursementRequest struct {
	ClientCode    string                `json:"clientCode"`
	Schedule      scheduleRequest       `json:"schedule"`
	Disbursements []disbursementRequest `json:"disbursements"`
}

type createDisbursementResponse struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

type stepStatusResponse struct {
	StepID        string          `json:"stepId"`
	ChannelType   string          `json:"channelType"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	ExternalID    *string         `json:"externalId"`
	FailureReason *string         `json:"failureReason,omitempty"`
	CycleKey      *string         `json:"cycleKey,omitempty"`
}

type batchStatusResponse struct {
	BatchID    string               `json:"batchId"`
	Status     string               `json:"status"`
	ClientCode string               `json:"clientCode"`
	Steps      []stepStatusResponse `json:"steps"`
}

func (h *DisbursementHandler) Create(c *fiber.Ctx) error {
	var req createDisbursementRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}

	cmd, err := toCreateBatchRequest(req)
	if err != nil {
		return err
	}

	batch, err := h.service.Create(c.UserContext(), cmd)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(createDisbursementResponse{
		BatchID: batch.ID,
		Status:  batch.Status.String(),
	})
}

func (h *DisbursementHandler) GetStatus(c *fiber.Ctx) error {
	batch, err := h.service.GetStatus(c.UserContext(), c.Params("clientCode"))
	if err != nil {
		return err
	}

	steps := make([]stepStatusResponse, 0, len(batch.Steps))
	for _, step := range batch.Steps {
		steps = append(steps, stepStatusResponse{
			StepID:        step.ID,
			ChannelType:   step.ChannelType.String(),
			Amount:        step.Amount,
			Status:        step.Status.String(),
			ExternalID:    step.ExternalID,
			FailureReason: step.FailureReason,
			CycleKey:      step.CycleKey,
		})
	}

	return c.Status(fiber.StatusOK).JSON(batchStatusResponse{
		BatchID:    batch.ID,
		Status:     batch.Status.String(),
		ClientCode: batch.ClientCode,
		Steps:      steps,
	})
}

func toCreateBatchRequest(req createDisbursementRequest) (service.CreateBatchRequest, error) {
	scheduleType, err := domain.ParseScheduleTypeFromString(req.Schedule.Type)
	if err != nil {
		return service.CreateBatchRequest{}, err
	}

	cmd := service.CreateBatchRequest{
		ClientCode:   strings.TrimSpace(req.ClientCode),
		ScheduleType: scheduleType,
	}

	if req.Schedule.Date != nil && strings.TrimSpace(*req.Schedule.Date) != "" {
		date, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.Schedule.Date))
		if err != nil {
			return service.CreateBatchRequest{}, fmt.Errorf("%w: schedule.date must be RFC3339", domain.ErrValidation)
		}
		cmd.ScheduleDate = &date
	}
	if req.Schedule.Recurrency != nil && strings.TrimSpace(*req.Schedule.Recurrency) != "" {
		recurrency, err := domain.ParseRecurrencyFromString(*req.Schedule.Recurrency)
		if err != nil {
			return service.CreateBatchRequest{}, err
		}
		cmd.Recurrency = &recurrency
	}

	cmd.Disbursements = make([]service.DisbursementRequest, 0, len(req.Disbursements))
	for i, d := range req.Disbursements {
		channel, err := domain.ParseChannelTypeFromString(d.Type)
		if err != nil {
			return service.CreateBatchRequest{}, fmt.Errorf("disbursement %d: %w", i, err)
		}
		cmd.Disbursements = append(cmd.Disbursements, service.DisbursementRequest{
			ChannelType: channel,
			Request: domain.StepRequest{
				Amount:         d.DisbursementStep.Amount,
				CreditParty:    d.DisbursementStep.CreditParty,
				InitiationType: strings.TrimSpace(d.DisbursementStep.InitiationType),
			},
		})
	}

	return cmd, nil
}
