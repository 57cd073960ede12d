package channel

import (
	"context"
	"fmt"
	"sort"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
)

// Registry maps each channel to its adapter. It is built once at startup and
// read-only afterwards.
type Registry struct {
	adapters map[domain.ChannelType]Adapter
}

// NewRegistry registers adapters in order. Registering the same channel twice
// is an error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.ChannelType]Adapter, len(adapters))}

	for i, adapter := range adapters {
		if adapter == nil {
			return nil, fmt.Errorf("adapter %d is nil", i)
		}

		channel := adapter.Channel()
		if !channel.IsValid() {
			return nil, fmt.Errorf("%w: adapter %d has invalid channel %q", domain.ErrValidation, i, channel)
		}
		if _, exists := r.adapters[channel]; exists {
			return nil, fmt.Errorf("duplicate adapter for channel %s", channel)
		}
		r.adapters[channel] = adapter
	}

	return r, nil
}

func (r *Registry) Lookup(channel domain.ChannelType) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[channel]
	return adapter, ok
}

// Process routes step to the adapter of its channel.
func (r *Registry) Process(ctx context.Context, batch *domain.Batch, step domain.Step) (string, error) {
	adapter, ok := r.Lookup(step.ChannelType)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedChannel, step.ChannelType)
	}
	return adapter.Send(ctx, batch, step)
}

// Channels lists the registered channels in lexical order.
func (r *Registry) Channels() []domain.ChannelType {
	if r == nil {
		return nil
	}

	channels := make([]domain.ChannelType, 0, len(r.adapters))
	for channel := range r.adapters {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}
