// Package payments adapts the external payment processor: customer credit capture
// and provider payouts. Nothing outside this package talks to the processor.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vidcall-platform/internal/ledger"
)

const maxResponseBytes = 1 << 20

const (
	chargesPath = "/v1/charges"
	payoutsPath = "/v1/payouts"
)

// HTTPGateway talks to the processor's REST API. It implements ledger.PaymentGateway.
type HTTPGateway struct {
	BaseURL        string
	APIKey         string
	Currency       string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

type chargeBody struct {
	AccountID    string `json:"account_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	PaymentNonce string `json:"payment_nonce"`
}

type payoutBody struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Email     string `json:"email"`
	Reference string `json:"reference"`
}

type gatewayResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (g HTTPGateway) Charge(ctx context.Context, req ledger.ChargeRequest) (string, error) {
	if req.AccountID == "" || req.PaymentNonce == "" || !req.Amount.IsPositive() {
		return "", ledger.ErrInvalidArgument
	}
	resp, err := g.post(ctx, chargesPath, req.PaymentNonce, chargeBody{
		AccountID:    req.AccountID,
		Amount:       req.Amount.String(),
		Currency:     g.currency(),
		PaymentNonce: req.PaymentNonce,
	})
	if err != nil {
		return "", err
	}
	if resp.Status != "succeeded" {
		return "", fmt.Errorf("%w: %s", ledger.ErrPaymentDeclined, resp.describe())
	}
	return resp.ID, nil
}

func (g HTTPGateway) Payout(ctx context.Context, req ledger.PayoutRequest) (string, error) {
	if req.AccountID == "" || req.Reference == "" || !req.Amount.IsPositive() {
		return "", ledger.ErrInvalidArgument
	}
	resp, err := g.post(ctx, payoutsPath, req.Reference, payoutBody{
		AccountID: req.AccountID,
		Amount:    req.Amount.String(),
		Currency:  g.currency(),
		Email:     req.Email,
		Reference: req.Reference,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrPayoutFailed, err)
	}
	switch resp.Status {
	case "succeeded", "pending":
		return resp.ID, nil
	default:
		return "", fmt.Errorf("%w: %s", ledger.ErrPayoutFailed, resp.describe())
	}
}

// post sends body with an idempotency key so a retried request is not applied twice.
func (g HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body any) (gatewayResponse, error) {
	endpoint, err := buildURL(g.BaseURL, path)
	if err != nil {
		return gatewayResponse{}, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("encode request: %w", err)
	}

	reqCtx, cancel := g.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.httpClient().Do(req)
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("call payment gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out gatewayResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		if out.Status == "" {
			out.Status = "declined"
		}
		return out, nil
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return gatewayResponse{}, fmt.Errorf("payment gateway: status %d", resp.StatusCode)
	case decodeErr != nil:
		return gatewayResponse{}, fmt.Errorf("decode gateway response: %w", decodeErr)
	case out.ID == "" && (out.Status == "succeeded" || out.Status == "pending"):
		return gatewayResponse{}, errors.New("gateway response missing id")
	}
	return out, nil
}

func (r gatewayResponse) describe() string {
	if r.Message != "" {
		return r.Status + ": " + r.Message
	}
	return r.Status
}

func (g HTTPGateway) currency() string {
	if g.Currency == "" {
		return "USD"
	}
	return g.Currency
}

func (g HTTPGateway) httpClient() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

func (g HTTPGateway) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func buildURL(base, path string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("payments: base url is required")
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("payments: parse url: %w", err)
	}
	return u.String(), nil
}
