package billclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"custody-ledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BILL-1-7-ABC", body["out_order_no"])
		assert.Equal(t, "1500", body["amount"])
		_, _ = w.Write([]byte(`{"order_no":"P-99","status":"success","bill_reference":"TOKEN-1234"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "")
	assert.Equal(t, "billgateway", c.Name())
	res, err := c.PlaceOrder(context.Background(), domain.BillOrder{
		SceneCode: "airtime", BillerID: "MTN", RechargeAccount: "08030000000",
		Amount: decimal.NewFromInt(1500), OutOrderNo: "BILL-1-7-ABC",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BillOrderSuccess, res.Status)
	assert.Equal(t, "P-99", res.OrderNo)
	assert.Equal(t, "TOKEN-1234", res.BillReference)
	assert.Contains(t, string(res.Raw), "TOKEN-1234")
}

func TestRejectedOrderIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_message":"invalid meter number"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "key", "vtpass").PlaceOrder(context.Background(), domain.BillOrder{OutOrderNo: "BILL-2"})
	require.NoError(t, err)
	assert.Equal(t, domain.BillOrderFailed, res.Status)
	assert.Equal(t, "invalid meter number", res.ErrorMessage)
}

func TestServerErrorIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "key", "").QueryOrder(context.Background(), "BILL-3")
	assert.Error(t, err)
}

func TestQueryOrderPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders/BILL-4", r.URL.Path)
		_, _ = w.Write([]byte(`{"order_no":"P-1","status":"PROCESSING"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "key", "").QueryOrder(context.Background(), "BILL-4")
	require.NoError(t, err)
	assert.Equal(t, domain.BillOrderPending, res.Status)
}
