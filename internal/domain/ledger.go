package domain

import "time"

// Idempotency domains.
const (
	ConsumerGroupProcessor  = "disbursement-processor"
	ConsumerGroupRecurrence = "RECURRENT_SCHEDULER"
)

// ProcessedEvent records that a key was handled within a consumer group.
type ProcessedEvent struct {
	Key           string
	ConsumerGroup string
	ProcessedAt   time.Time
}

// DeadLetter records a message that exhausted its delivery budget.
type DeadLetter struct {
	ID       string
	Key      string
	Topic    string
	Error    string
	Attempts int
	Payload  string
	FailedAt time.Time
}
