package provider

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// SimulatedProvider accepts every transfer and issues a random external id.
// It stands in for a settlement network when no endpoint is configured.
type SimulatedProvider struct{}

func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{}
}

func (p *SimulatedProvider) Submit(ctx context.Context, _ Transfer) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Message: "provider request canceled", Cause: err}
	}
	return &Receipt{
		ExternalID: uuid.NewString(),
		StatusCode: http.StatusAccepted,
	}, nil
}
