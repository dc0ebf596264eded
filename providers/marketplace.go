package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/blnkfinance/payline/config"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/blnkfinance/payline/internal/request"
	"github.com/blnkfinance/payline/model"
)

const (
	ActionStatusSuccess = "SUCCESS"
	ActionStatusFailed  = "FAILED"
)

type ActionInput struct {
	CompanyID      string             `json:"company_id"`
	Marketplace    string             `json:"marketplace"`
	OrderID        string             `json:"order_id"`
	ActionKey      model.ActionKey    `json:"action_key"`
	IdempotencyKey string             `json:"idempotency_key"`
	Params         model.ActionParams `json:"params"`
}

// ActionResult is the provider's answer. Retryable is only meaningful when
// Status is FAILED.
type ActionResult struct {
	Status       string          `json:"status"`
	AuditID      string          `json:"audit_id,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
}

type MarketplaceProvider interface {
	ExecuteAction(ctx context.Context, input ActionInput) (*ActionResult, error)
}

// ActionInputFromRequest maps a queued request onto the provider input.
func ActionInputFromRequest(r model.ActionRequest) ActionInput {
	return ActionInput{
		CompanyID:      r.CompanyID,
		Marketplace:    r.Marketplace,
		OrderID:        r.OrderID,
		ActionKey:      r.ActionKey,
		IdempotencyKey: r.IdempotencyKey,
		Params:         r.Params,
	}
}

type HTTPMarketplaceProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPMarketplaceProvider(cfg config.ProviderEndpoint) *HTTPMarketplaceProvider {
	return &HTTPMarketplaceProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  request.NewClient(cfg.Timeout()),
	}
}

func (p *HTTPMarketplaceProvider) ExecuteAction(ctx context.Context, input ActionInput) (*ActionResult, error) {
	endpoint := p.baseURL + "/marketplaces/" + url.PathEscape(input.Marketplace) + "/actions"
	req, err := request.NewJSONRequest(ctx, http.MethodPost, endpoint, input)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build action request", err)
	}
	setAuth(req, p.apiKey)
	req.Header.Set("Idempotency-Key", input.IdempotencyKey)
	req.Header.Set("X-Company-ID", input.CompanyID)

	result := &ActionResult{}
	if _, err := request.Call(p.client, req, result); err != nil {
		return nil, classify(err, "marketplace action")
	}

	switch result.Status {
	case ActionStatusSuccess:
		return result, nil
	case ActionStatusFailed:
		msg := result.ErrorMessage
		if msg == "" {
			msg = "marketplace action failed"
		}
		if result.Retryable {
			return result, apierror.NewAPIError(apierror.ErrProviderFailure, msg, nil)
		}
		return result, apierror.NewAPIError(apierror.ErrInvalidInput, msg, nil)
	default:
		return result, apierror.NewAPIError(apierror.ErrProviderFailure, "Unknown action status "+result.Status, nil)
	}
}
