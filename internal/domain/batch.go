package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a disbursement batch.
type BatchStatus string

const (
	BatchStatusNotExecuted        BatchStatus = "NOT_EXECUTED"
	BatchStatusProcessing         BatchStatus = "PROCESSING"
	BatchStatusExecutedCompletely BatchStatus = "EXECUTED_COMPLETELY"
	BatchStatusPartiallyExecuted  BatchStatus = "PARTIALLY_EXECUTED"
	BatchStatusFailed             BatchStatus = "FAILED"
	BatchStatusRecurrent          BatchStatus = "RECURRENT"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusNotExecuted, BatchStatusProcessing, BatchStatusExecutedCompletely,
		BatchStatusPartiallyExecuted, BatchStatusFailed, BatchStatusRecurrent:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusExecutedCompletely, BatchStatusPartiallyExecuted, BatchStatusFailed:
		return true
	}
	return false
}

// IsActive reports whether a batch in this status still holds its client code.
func (s BatchStatus) IsActive() bool {
	switch s {
	case BatchStatusNotExecuted, BatchStatusProcessing, BatchStatusRecurrent:
		return true
	}
	return false
}

// ActiveBatchStatuses lists the statuses that reserve a client code.
func ActiveBatchStatuses() []BatchStatus {
	return []BatchStatus{BatchStatusNotExecuted, BatchStatusProcessing, BatchStatusRecurrent}
}

// ScheduleType selects when a batch is dispatched.
type ScheduleType string

const (
	ScheduleImmediate ScheduleType = "IMMEDIATE"
	ScheduleScheduled ScheduleType = "SCHEDULED"
	ScheduleRecurrent ScheduleType = "RECURRENT"
)

func (t ScheduleType) String() string { return string(t) }

func (t ScheduleType) IsValid() bool {
	switch t {
	case ScheduleImmediate, ScheduleScheduled, ScheduleRecurrent:
		return true
	}
	return false
}

func ParseScheduleTypeFromString(s string) (ScheduleType, error) {
	st := ScheduleType(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid schedule type %q", ErrValidation, s)
	}
	return st, nil
}

// InitialStatus is the batch status assigned at intake.
func (t ScheduleType) InitialStatus() BatchStatus {
	switch t {
	case ScheduleScheduled:
		return BatchStatusNotExecuted
	case ScheduleRecurrent:
		return BatchStatusRecurrent
	default:
		return BatchStatusProcessing
	}
}

// Recurrency is the period of a recurrent batch.
type Recurrency string

const (
	RecurrencyDaily    Recurrency = "DAILY"
	RecurrencyWeekly   Recurrency = "WEEKLY"
	RecurrencyMonthly  Recurrency = "MONTHLY"
	RecurrencyAnnually Recurrency = "ANNUALLY"
)

func (r Recurrency) String() string { return string(r) }

func (r Recurrency) IsValid() bool {
	switch r {
	case RecurrencyDaily, RecurrencyWeekly, RecurrencyMonthly, RecurrencyAnnually:
		return true
	}
	return false
}

func ParseRecurrencyFromString(s string) (Recurrency, error) {
	r := Recurrency(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: invalid recurrency %q", ErrValidation, s)
	}
	return r, nil
}

// Batch is one client's disbursement request, composed of one or more steps.
type Batch struct {
	ID           string
	ClientCode   string
	ScheduleType ScheduleType
	ScheduleDate *time.Time
	Recurrency   *Recurrency
	Status       BatchStatus
	Steps        []Step
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (b *Batch) Validate() error {
	if strings.TrimSpace(b.ClientCode) == "" {
		return fmt.Errorf("%w: clientCode is required", ErrValidation)
	}
	if !b.ScheduleType.IsValid() {
		return fmt.Errorf("%w: invalid schedule type %q", ErrValidation, b.ScheduleType)
	}

	switch b.ScheduleType {
	case ScheduleScheduled:
		if b.ScheduleDate == nil {
			return fmt.Errorf("%w: schedule date is required for scheduled batches", ErrValidation)
		}
		if b.Recurrency != nil {
			return fmt.Errorf("%w: recurrency is only allowed for recurrent batches", ErrValidation)
		}
	case ScheduleRecurrent:
		if b.ScheduleDate == nil {
			return fmt.Errorf("%w: schedule date is required for recurrent batches", ErrValidation)
		}
		if b.Recurrency == nil || !b.Recurrency.IsValid() {
			return fmt.Errorf("%w: a valid recurrency is required for recurrent batches", ErrValidation)
		}
	default:
		if b.Recurrency != nil {
			return fmt.Errorf("%w: recurrency is only allowed for recurrent batches", ErrValidation)
		}
	}

	if len(b.Steps) == 0 {
		return fmt.Errorf("%w: at least one disbursement is required", ErrValidation)
	}
	for i := range b.Steps {
		if err := b.Steps[i].Validate(); err != nil {
			return fmt.Errorf("disbursement %d: %w", i, err)
		}
	}

	return nil
}

// StepCounts is the aggregate used for completion detection.
type StepCounts struct {
	Total     int64
	Succeeded int64
	Failed    int64
}

// CompletionStatus derives the terminal status for a batch from its step
// counts. It returns false while steps are still in flight or when the batch
// has no steps.
func CompletionStatus(counts StepCounts) (BatchStatus, bool) {
	if counts.Total <= 0 {
		return "", false
	}

	switch {
	case counts.Total == counts.Succeeded:
		return BatchStatusExecutedCompletely, true
	case counts.Total == counts.Failed:
		return BatchStatusFailed, true
	case counts.Total == counts.Succeeded+counts.Failed:
		return BatchStatusPartiallyExecuted, true
	}
	return "", false
}
