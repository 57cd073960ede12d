package provider

import (
	"context"

	"github.com/kursadbilgin/disbursement-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// SettlementProvider is the outbound port to a settlement network.
type SettlementProvider interface {
	Submit(ctx context.Context, transfer Transfer) (*Receipt, error)
}

// Transfer is the instruction sent to a settlement provider. InitiationType is
// only used on the instant transfer rail.
type Transfer struct {
	Amount          decimal.Decimal    `json:"amount"`
	ClientRequestID string             `json:"clientRequestId"`
	CreditParty     domain.CreditParty `json:"creditParty"`
	InitiationType  string             `json:"initiationType,omitempty"`
}

// Receipt is the provider acknowledgement of an accepted transfer.
type Receipt struct {
	ExternalID string
	StatusCode int
}
