package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/internal/request"
	"github.com/shopspring/decimal"
)

type ReleaseInput struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	SellerID  string          `json:"seller_id"`
	Provider  string          `json:"provider"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type ReleaseResult struct {
	Success         bool            `json:"success"`
	ProviderEventID string          `json:"provider_event_id"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// PayoutProvider releases held funds for an order at the payment provider.
// Implementations must treat "release:<orderId>" as an idempotency key.
type PayoutProvider interface {
	Release(ctx context.Context, input ReleaseInput) (*ReleaseResult, error)
}

// ReleaseIdempotencyKey is the key sent to the provider for an order release.
func ReleaseIdempotencyKey(orderID string) string {
	return "release:" + orderID
}

type HTTPPayoutProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPPayoutProvider(cfg config.ProviderEndpoint) *HTTPPayoutProvider {
	return &HTTPPayoutProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  request.NewClient(cfg.Timeout()),
	}
}

// Release posts the release to the provider. A 2xx answer with success=false
// is a transient provider failure, since nothing was released.
func (p *HTTPPayoutProvider) Release(ctx context.Context, input ReleaseInput) (*ReleaseResult, error) {
	req, err := request.NewJSONRequest(ctx, http.MethodPost, p.baseURL+"/releases", input)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build release request", err)
	}
	setAuth(req, p.apiKey)
	req.Header.Set("Idempotency-Key", ReleaseIdempotencyKey(input.OrderID))

	var raw json.RawMessage
	if _, err := request.Call(p.client, req, &raw); err != nil {
		return nil, classify(err, "payout release")
	}

	result := &ReleaseResult{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrProviderFailure, "Malformed release response", err)
		}
	}
	result.RawPayload = raw
	if !result.Success || result.ProviderEventID == "" {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "provider did not confirm the release"
		}
		return result, apierror.NewAPIError(apierror.ErrProviderFailure, msg, nil)
	}
	return result, nil
}
