package channel

import (
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/provider"
	"github.com/kursadbilgin/disbursement-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// PixAdapter sends instant transfers.
type PixAdapter struct {
	transferAdapter
}

var _ Adapter = (*PixAdapter)(nil)

func NewPixAdapter(
	settlement provider.SettlementProvider,
	limiter ratelimit.Limiter,
	steps StepWriter,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*PixAdapter, error) {
	base, err := newTransferAdapter(domain.ChannelInstantTransfer, settlement, limiter, steps, pixTransfer, logger, metrics)
	if err != nil {
		return nil, err
	}
	return &PixAdapter{transferAdapter: base}, nil
}

func pixTransfer(step domain.Step, req domain.StepRequest) provider.Transfer {
	return provider.Transfer{
		Amount:          step.Amount,
		ClientRequestID: step.ID,
		CreditParty:     req.CreditParty,
		InitiationType:  req.InitiationType,
	}
}
