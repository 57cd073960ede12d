package repository

import (
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// BatchModel is the persistence model for disbursement_batches.
type BatchModel struct {
	ID           string              `gorm:"type:uuid;primaryKey"`
	ClientCode   string              `gorm:"type:varchar(100);not null"`
	ScheduleType domain.ScheduleType `gorm:"type:varchar(20);not null"`
	ScheduleDate *time.Time
	Recurrency   *domain.Recurrency `gorm:"type:varchar(20)"`
	Status       domain.BatchStatus `gorm:"type:varchar(30);not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (BatchModel) TableName() string {
	return "disbursement_batches"
}

// StepModel is the persistence model for disbursement_steps.
type StepModel struct {
	ID            string             `gorm:"type:uuid;primaryKey"`
	BatchID       string             `gorm:"type:uuid;not null"`
	ChannelType   domain.ChannelType `gorm:"type:varchar(10);not null"`
	Amount        decimal.Decimal    `gorm:"type:numeric(19,2);not null"`
	Payload       string             `gorm:"type:text;not null"`
	Status        domain.StepStatus  `gorm:"type:varchar(20);not null"`
	ExternalID    *string            `gorm:"type:varchar(100)"`
	FailureReason *string            `gorm:"type:text"`
	CycleKey      *string            `gorm:"type:varchar(150)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (StepModel) TableName() string {
	return "disbursement_steps"
}

// ProcessedEventModel is the idempotency ledger row, unique per key and
// consumer group.
type ProcessedEventModel struct {
	Key           string `gorm:"type:varchar(255);primaryKey"`
	ConsumerGroup string `gorm:"type:varchar(100);primaryKey"`
	ProcessedAt   time.Time
}

func (ProcessedEventModel) TableName() string {
	return "processed_events"
}

// DeadLetterModel is the persistence model for dead_letters.
type DeadLetterModel struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	Key      string `gorm:"type:varchar(255);not null"`
	Topic    string `gorm:"type:varchar(100);not null"`
	Error    string `gorm:"type:text;not null"`
	Attempts int    `gorm:"not null"`
	Payload  string `gorm:"type:text"`
	FailedAt time.Time
}

func (DeadLetterModel) TableName() string {
	return "dead_letters"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:           b.ID,
		ClientCode:   b.ClientCode,
		ScheduleType: b.ScheduleType,
		ScheduleDate: utcPtr(b.ScheduleDate),
		Recurrency:   b.Recurrency,
		Status:       b.Status,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:           m.ID,
		ClientCode:   m.ClientCode,
		ScheduleType: m.ScheduleType,
		ScheduleDate: utcPtr(m.ScheduleDate),
		Recurrency:   m.Recurrency,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func stepModelFromDomain(s *domain.Step) *StepModel {
	if s == nil {
		return nil
	}

	return &StepModel{
		ID:            s.ID,
		BatchID:       s.BatchID,
		ChannelType:   s.ChannelType,
		Amount:        s.Amount,
		Payload:       s.Payload,
		Status:        s.Status,
		ExternalID:    s.ExternalID,
		FailureReason: s.FailureReason,
		CycleKey:      s.CycleKey,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func stepModelToDomain(m *StepModel) *domain.Step {
	if m == nil {
		return nil
	}

	return &domain.Step{
		ID:            m.ID,
		BatchID:       m.BatchID,
		ChannelType:   m.ChannelType,
		Amount:        m.Amount,
		Payload:       m.Payload,
		Status:        m.Status,
		ExternalID:    m.ExternalID,
		FailureReason: m.FailureReason,
		CycleKey:      m.CycleKey,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func deadLetterModelFromDomain(d *domain.DeadLetter) *DeadLetterModel {
	if d == nil {
		return nil
	}

	return &DeadLetterModel{
		ID:       d.ID,
		Key:      d.Key,
		Topic:    d.Topic,
		Error:    d.Error,
		Attempts: d.Attempts,
		Payload:  d.Payload,
		FailedAt: d.FailedAt,
	}
}

func deadLetterModelToDomain(m *DeadLetterModel) *domain.DeadLetter {
	if m == nil {
		return nil
	}

	return &domain.DeadLetter{
		ID:       m.ID,
		Key:      m.Key,
		Topic:    m.Topic,
		Error:    m.Error,
		Attempts: m.Attempts,
		Payload:  m.Payload,
		FailedAt: m.FailedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
