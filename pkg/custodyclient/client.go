// pkg/custodyclient/client.go
package custodyclient

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

	"custody-ledger/internal/domain"
	"custody-ledger/internal/util"

	"github.com/shopspring/decimal"
)

// Client talks to the custody gateway that signs and broadcasts chain transfers.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new custody gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ErrorResponse is the gateway's error body.
type ErrorResponse struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("custody gateway error (%d): %s %s", e.Status, e.Code, e.Message)
}

type feeRequest struct {
	Blockchain string          `json:"blockchain"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

type feeResponse struct {
	GasLimit decimal.Decimal `json:"gas_limit"`
	GasPrice decimal.Decimal `json:"gas_price"`
}

type transferRequest struct {
	feeRequest
	SigningSecret string          `json:"signing_secret"`
	GasLimit      decimal.Decimal `json:"gas_limit"`
	GasPrice      decimal.Decimal `json:"gas_price"`
}

type transferResponse struct {
	TxHash string `json:"tx_hash"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *Client) EstimateFee(ctx context.Context, req domain.FeeRequest) (domain.FeeEstimate, error) {
	var out feeResponse
	body := feeRequest{Blockchain: req.Blockchain, From: req.From, To: req.To, Amount: req.Amount, Currency: req.Currency}
	if err := c.do(ctx, http.MethodPost, "/v1/fees/estimate", body, nil, &out); err != nil {
		return domain.FeeEstimate{}, err
	}
	return domain.FeeEstimate{Limit: out.GasLimit, Price: out.GasPrice}, nil
}

// Send submits a signed transfer. A gateway-reported lack of funds is wrapped in
// util.ErrProviderInsufficientFunds.
func (c *Client) Send(ctx context.Context, req domain.TransferRequest) (string, error) {
	body := transferRequest{
		feeRequest:    feeRequest{Blockchain: req.Blockchain, From: req.From, To: req.To, Amount: req.Amount, Currency: req.Currency},
		SigningSecret: req.SigningSecret,
		GasLimit:      req.Fee.Limit,
		GasPrice:      req.Fee.Price,
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	var out transferResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, headers, &out); err != nil {
		var apiErr *ErrorResponse
		if errors.As(err, &apiErr) && (apiErr.Code == "INSUFFICIENT_FUNDS" || apiErr.Status == http.StatusPaymentRequired) {
			return "", fmt.Errorf("%w: %v", util.ErrProviderInsufficientFunds, err)
		}
		return "", err
	}
	return out.TxHash, nil
}

func (c *Client) GetBalance(ctx context.Context, blockchain, address, currency string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/v1/balances/%s/%s?currency=%s", url.PathEscape(blockchain), url.PathEscape(address), url.QueryEscape(currency))
	var out balanceResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

func (c *Client) TransferStatus(ctx context.Context, blockchain, txHash string) (domain.TransferStatus, error) {
	path := fmt.Sprintf("/v1/transfers/%s/%s", url.PathEscape(blockchain), url.PathEscape(txHash))
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return "", err
	}
	switch strings.ToUpper(out.Status) {
	case "CONFIRMED", "SUCCESS":
		return domain.TransferConfirmed, nil
	case "FAILED", "REVERTED":
		return domain.TransferFailed, nil
	default:
		return domain.TransferPending, nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.APIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &ErrorResponse{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == "" && apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
