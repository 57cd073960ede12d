package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/provider"
	"github.com/kursadbilgin/disbursement-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// Adapter executes a step on one settlement rail and returns the provider
// external id it stored on the step.
type Adapter interface {
	Channel() domain.ChannelType
	Send(ctx context.Context, batch *domain.Batch, step domain.Step) (string, error)
}

// StepWriter persists the provider reference of a step.
type StepWriter interface {
	SetExternalID(ctx context.Context, stepID string, externalID string) error
}

type transferBuilder func(step domain.Step, req domain.StepRequest) provider.Transfer

// transferAdapter holds the flow shared by every rail: decode, throttle,
// submit, persist.
type transferAdapter struct {
	channel  domain.ChannelType
	provider provider.SettlementProvider
	limiter  ratelimit.Limiter
	steps    StepWriter
	build    transferBuilder
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func newTransferAdapter(
	channel domain.ChannelType,
	settlement provider.SettlementProvider,
	limiter ratelimit.Limiter,
	steps StepWriter,
	build transferBuilder,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (transferAdapter, error) {
	if settlement == nil {
		return transferAdapter{}, fmt.Errorf("settlement provider is required for %s", channel)
	}
	if steps == nil {
		return transferAdapter{}, fmt.Errorf("step writer is required for %s", channel)
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return transferAdapter{
		channel:  channel,
		provider: settlement,
		limiter:  limiter,
		steps:    steps,
		build:    build,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

func (a *transferAdapter) Channel() domain.ChannelType {
	return a.channel
}

func (a *transferAdapter) Send(ctx context.Context, batch *domain.Batch, step domain.Step) (string, error) {
	if step.ChannelType != a.channel {
		return "", fmt.Errorf("%w: %s adapter cannot send %s step", domain.ErrUnsupportedChannel, a.channel, step.ChannelType)
	}

	req, err := domain.DecodeStepRequest(step.Payload)
	if err != nil {
		a.metrics.IncStepDispatchFailed(a.channel.String(), domain.CodeInvalidPayload)
		return "", err
	}
	transfer := a.build(step, req)

	if err := a.limiter.Wait(ctx, a.channel); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := a.now()
	receipt, err := a.provider.Submit(ctx, transfer)
	a.metrics.ObserveProviderCallDuration(a.channel.String(), a.now().Sub(start))
	if err != nil {
		processingErr := provider.ToProcessingError(err)
		var typed *domain.ProcessingError
		if errors.As(processingErr, &typed) {
			a.metrics.IncStepDispatchFailed(a.channel.String(), typed.Code)
		}
		return "", processingErr
	}

	if err := a.steps.SetExternalID(ctx, step.ID, receipt.ExternalID); err != nil {
		return "", fmt.Errorf("failed to store external id for step %s: %w", step.ID, err)
	}

	a.metrics.IncStepDispatched(a.channel.String())

	fields := []zap.Field{
		zap.String("externalId", receipt.ExternalID),
		zap.String("channel", a.channel.String()),
	}
	if batch != nil {
		fields = append(fields, zap.String("batchId", batch.ID), zap.String("clientCode", batch.ClientCode))
	}
	observability.WithContextLogger(a.logger, ctx).Info("step submitted to settlement provider", fields...)

	return receipt.ExternalID, nil
}
