package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 10 * time.Second

type submitResponse struct {
	ExternalID string `json:"externalId"`
}

// HTTPProvider submits transfers as JSON to a settlement provider endpoint.
type HTTPProvider struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPProvider(endpoint string) (*HTTPProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultHTTPTimeout)
	client.SetRetryCount(0)

	return NewHTTPProviderWithClient(endpoint, client)
}

func NewHTTPProviderWithClient(endpoint string, client *resty.Client) (*HTTPProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid provider endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	// Redelivery is owned by the broker consumer.
	client.SetRetryCount(0)

	return &HTTPProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPProvider) Submit(ctx context.Context, transfer Transfer) (*Receipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if !transfer.Amount.IsPositive() {
		return nil, &ProviderError{Message: "transfer amount must be greater than zero"}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", transfer.ClientRequestID).
		SetBody(transfer).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    providerErrorMessage(statusCode, responseBody),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	externalID := externalIDFromResponse(response)
	if externalID == "" {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "provider response has no externalId",
		}
	}

	return &Receipt{
		ExternalID: externalID,
		StatusCode: statusCode,
	}, nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// externalIDFromResponse reads externalId from the JSON body and falls back to
// the provider request id header.
func externalIDFromResponse(response *resty.Response) string {
	var body submitResponse
	if err := json.Unmarshal(response.Body(), &body); err == nil {
		if id := strings.TrimSpace(body.ExternalID); id != "" {
			return id
		}
	}

	for _, key := range []string{"X-External-ID", "X-Request-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}
	return ""
}
