package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
)

// Topic names shared by publishers and consumers.
const (
	TopicRequestsPix  = "disbursement-requests-pix"
	TopicRequestsTed  = "disbursement-requests-ted"
	TopicResponsesPix = "disbursement-responses-pix"
	TopicResponsesTed = "disbursement-responses-ted"
	TopicDeadLetter   = "disbursement-requests.DLT"

	// parkingQueueName receives deliveries the consumer rejects outright.
	parkingQueueName = "disbursement-parking"
)

// Publisher publishes messages onto a topic with at-least-once semantics.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

// Delivery is one consumed broker message.
type Delivery struct {
	MessageID     string
	CorrelationID string
	Topic         string
	Body          []byte
	Redelivered   bool
}

// Handler handles a consumed delivery. A nil return acknowledges it.
type Handler func(ctx context.Context, d Delivery) error

// Consumer consumes deliveries from a topic.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// RequestTopic returns the dispatch topic for a channel.
func RequestTopic(channel domain.ChannelType) (string, error) {
	switch channel {
	case domain.ChannelInstantTransfer:
		return TopicRequestsPix, nil
	case domain.ChannelWireTransfer:
		return TopicRequestsTed, nil
	}
	return "", fmt.Errorf("%w: no request topic for channel %q", domain.ErrUnsupportedChannel, channel)
}

// ResponseTopic returns the provider response topic for a channel.
func ResponseTopic(channel domain.ChannelType) (string, error) {
	switch channel {
	case domain.ChannelInstantTransfer:
		return TopicResponsesPix, nil
	case domain.ChannelWireTransfer:
		return TopicResponsesTed, nil
	}
	return "", fmt.Errorf("%w: no response topic for channel %q", domain.ErrUnsupportedChannel, channel)
}

// ResponseChannel maps a response topic back to its channel.
func ResponseChannel(topic string) (domain.ChannelType, bool) {
	switch topic {
	case TopicResponsesPix:
		return domain.ChannelInstantTransfer, true
	case TopicResponsesTed:
		return domain.ChannelWireTransfer, true
	}
	return "", false
}

// RequestTopics returns every dispatch topic.
func RequestTopics() []string {
	return []string{TopicRequestsPix, TopicRequestsTed}
}

// ResponseTopics returns every provider response topic.
func ResponseTopics() []string {
	return []string{TopicResponsesPix, TopicResponsesTed}
}

// AllTopics returns every topic declared on the broker.
func AllTopics() []string {
	topics := append(RequestTopics(), ResponseTopics()...)
	return append(topics, TopicDeadLetter)
}
