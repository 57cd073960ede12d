package ratelimit

import (
	"context"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
)

// Limiter throttles settlement provider calls per channel.
type Limiter interface {
	Allow(ctx context.Context, channel domain.ChannelType) (bool, error)
	Wait(ctx context.Context, channel domain.ChannelType) error
}

// Unlimited admits every call.
type Unlimited struct{}

var _ Limiter = Unlimited{}

func (Unlimited) Allow(context.Context, domain.ChannelType) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ domain.ChannelType) error { return ctx.Err() }
