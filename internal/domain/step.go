package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StepStatus represents the lifecycle state of a single disbursement step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusProcessing StepStatus = "PROCESSING"
	StepStatusSuccess    StepStatus = "SUCCESS"
	StepStatusFailed     StepStatus = "FAILED"
)

func (s StepStatus) String() string { return string(s) }

func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusProcessing, StepStatusSuccess, StepStatusFailed:
		return true
	}
	return false
}

func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSuccess || s == StepStatusFailed
}

func ParseStepStatusFromString(s string) (StepStatus, error) {
	st := StepStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid step status %q", ErrValidation, s)
	}
	return st, nil
}

// ChannelType identifies the settlement rail a step is executed on.
type ChannelType string

const (
	ChannelInstantTransfer ChannelType = "PIX"
	ChannelWireTransfer    ChannelType = "TED"
)

func (c ChannelType) String() string { return string(c) }

func (c ChannelType) IsValid() bool {
	switch c {
	case ChannelInstantTransfer, ChannelWireTransfer:
		return true
	}
	return false
}

func ParseChannelTypeFromString(s string) (ChannelType, error) {
	ch := ChannelType(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel type %q", ErrValidation, s)
	}
	return ch, nil
}

// SupportedChannels lists every settlement rail known to the engine.
func SupportedChannels() []ChannelType {
	return []ChannelType{ChannelInstantTransfer, ChannelWireTransfer}
}

// Step is one channel-specific money movement inside a batch.
type Step struct {
	ID            string
	BatchID       string
	ChannelType   ChannelType
	Amount        decimal.Decimal
	Payload       string
	Status        StepStatus
	ExternalID    *string
	FailureReason *string
	// CycleKey is set on steps materialised for one recurrence cycle.
	CycleKey  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Step) Validate() error {
	if !s.ChannelType.IsValid() {
		return fmt.Errorf("%w: invalid channel type %q", ErrValidation, s.ChannelType)
	}
	if !s.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if strings.TrimSpace(s.Payload) == "" {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	return nil
}

// CreditParty identifies the beneficiary of a disbursement.
type CreditParty struct {
	Key         string `json:"key,omitempty"`
	Account     string `json:"account,omitempty"`
	AccountType string `json:"accountType,omitempty"`
	Bank        string `json:"bank,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Name        string `json:"name,omitempty"`
	TaxID       string `json:"taxId,omitempty"`
}

// StepRequest is the serialized payload stored on a step.
type StepRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	CreditParty    CreditParty     `json:"creditParty"`
	InitiationType string          `json:"initiationType,omitempty"`
}

func (r StepRequest) Encode() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode step payload: %w", err)
	}
	return string(raw), nil
}

// DecodeStepRequest parses a step payload. Malformed payloads are reported as
// a permanent ProcessingError.
func DecodeStepRequest(payload string) (StepRequest, error) {
	var req StepRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return StepRequest{}, NewProcessingError(
			CodeInvalidPayload,
			"transaction not completed, check your information",
			false,
			err,
		)
	}
	return req, nil
}

// ExternalResponse is a settlement provider's verdict for one step.
type ExternalResponse struct {
	ClientRequestID *string
	ExternalID      string
	Status          StepStatus
	FailureReason   *string
}

func (r ExternalResponse) Validate() error {
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("%w: externalId is required", ErrValidation)
	}
	if !r.Status.IsTerminal() {
		return fmt.Errorf("%w: response status must be SUCCESS or FAILED, got %q", ErrValidation, r.Status)
	}
	return nil
}
