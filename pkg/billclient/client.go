// pkg/billclient/client.go
package billclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custody-ledger/internal/domain"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Client places and queries bill, utility and airtime orders on the bill gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	Provider   string
	HTTPClient *http.Client
}

// NewClient creates a new bill gateway client. provider names the gateway on stored records.
func NewClient(baseURL, apiKey, provider string) *Client {
	if provider == "" {
		provider = "billgateway"
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		Provider: provider,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type orderRequest struct {
	SceneCode       string          `json:"scene_code"`
	BillerID        string          `json:"biller_id"`
	ItemID          string          `json:"item_id,omitempty"`
	RechargeAccount string          `json:"recharge_account"`
	Amount          decimal.Decimal `json:"amount"`
	OutOrderNo      string          `json:"out_order_no"`
}

type orderResponse struct {
	OrderNo       string `json:"order_no"`
	Status        string `json:"status"`
	BillReference string `json:"bill_reference"`
	ErrorMessage  string `json:"error_message"`
}

func (c *Client) Name() string { return c.Provider }

func (c *Client) PlaceOrder(ctx context.Context, order domain.BillOrder) (*domain.BillOrderResult, error) {
	body, err := json.Marshal(orderRequest{
		SceneCode:       order.SceneCode,
		BillerID:        order.BillerID,
		ItemID:          order.ItemID,
		RechargeAccount: order.RechargeAccount,
		Amount:          order.Amount,
		OutOrderNo:      order.OutOrderNo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(body))
}

func (c *Client) QueryOrder(ctx context.Context, outOrderNo string) (*domain.BillOrderResult, error) {
	return c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(outOrderNo), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*domain.BillOrderResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("bill gateway error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	result := &domain.BillOrderResult{
		OrderNo:       out.OrderNo,
		Status:        orderStatus(out.Status),
		BillReference: out.BillReference,
		ErrorMessage:  out.ErrorMessage,
		Raw:           types.JSONText(raw),
	}
	// A 4xx is a definitive rejection of the order.
	if resp.StatusCode >= 400 {
		result.Status = domain.BillOrderFailed
		if result.ErrorMessage == "" {
			result.ErrorMessage = http.StatusText(resp.StatusCode)
		}
	}
	return result, nil
}

func orderStatus(s string) domain.BillOrderStatus {
	switch strings.ToUpper(s) {
	case "SUCCESS", "COMPLETED":
		return domain.BillOrderSuccess
	case "FAILED", "REJECTED", "CANCELLED":
		return domain.BillOrderFailed
	default:
		return domain.BillOrderPending
	}
}
