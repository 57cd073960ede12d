package channel

import (
	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/kursadbilgin/disbursement-engine/internal/observability"
	"github.com/kursadbilgin/disbursement-engine/internal/provider"
	"github.com/kursadbilgin/disbursement-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// TedAdapter sends wire transfers. Wire transfers carry no initiation type.
type TedAdapter struct {
	transferAdapter
}

var _ Adapter = (*TedAdapter)(nil)

func NewTedAdapter(
	settlement provider.SettlementProvider,
	limiter ratelimit.Limiter,
	steps StepWriter,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*TedAdapter, error) {
	base, err := newTransferAdapter(domain.ChannelWireTransfer, settlement, limiter, steps, tedTransfer, logger, metrics)
	if err != nil {
		return nil, err
	}
	return &TedAdapter{transferAdapter: base}, nil
}

func tedTransfer(step domain.Step, req domain.StepRequest) provider.Transfer {
	return provider.Transfer{
		Amount:          step.Amount,
		ClientRequestID: step.ID,
		CreditParty:     req.CreditParty,
	}
}
