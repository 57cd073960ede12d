package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
)

// ErrMalformedMessage marks a delivery whose body can never be handled.
var ErrMalformedMessage = errors.New("malformed message")

// Message is a broker payload.
type Message interface {
	Validate() error
}

// DispatchMessage asks the processing pipeline to execute one step.
type DispatchMessage struct {
	StepID string `json:"stepId"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.StepID) == "" {
		return fmt.Errorf("stepId is required")
	}
	return nil
}

// ResponseMessage is a settlement provider's verdict for one step.
type ResponseMessage struct {
	ClientRequestID *string `json:"clientRequestId,omitempty"`
	ExternalID      string  `json:"externalId"`
	Status          string  `json:"status"`
	FailureReason   *string `json:"failureReason,omitempty"`
}

func (m ResponseMessage) Validate() error {
	_, err := m.ToExternalResponse()
	return err
}

func (m ResponseMessage) ToExternalResponse() (domain.ExternalResponse, error) {
	status, err := domain.ParseStepStatusFromString(m.Status)
	if err != nil {
		return domain.ExternalResponse{}, err
	}

	response := domain.ExternalResponse{
		ClientRequestID: m.ClientRequestID,
		ExternalID:      strings.TrimSpace(m.ExternalID),
		Status:          status,
		FailureReason:   m.FailureReason,
	}
	if err := response.Validate(); err != nil {
		return domain.ExternalResponse{}, err
	}
	return response, nil
}

// DeadLetterMessage describes a delivery that exhausted its retry budget.
type DeadLetterMessage struct {
	Key      string    `json:"key"`
	Topic    string    `json:"topic"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	Payload  string    `json:"payload,omitempty"`
	FailedAt time.Time `json:"failedAt"`
}

func (m DeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if m.Attempts < 1 {
		return fmt.Errorf("attempts must be at least 1")
	}
	return nil
}

// Decode unmarshals body into msg and validates it. Any failure wraps
// ErrMalformedMessage.
func Decode(body []byte, msg Message) error {
	if err := json.Unmarshal(body, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}
