package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	c := NewClient(Config{AccessToken: "test-token", BaseURL: serverURL})
	c.retryDelay = time.Millisecond
	return c
}

func TestGetPaymentRetriesOn5xx(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "pay-77", "status": "approved", "transaction_amount": 2500,
		})
	}))
	defer server.Close()

	snap, err := newTestClient(server.URL).GetPayment(context.Background(), "pay-77")
	require.NoError(t, err)
	assert.Equal(t, 3, requests)
	assert.Equal(t, "approved", snap.Status)
	assert.Equal(t, int64(2500), snap.Amount)
}

func TestGetPaymentExhaustsRetries(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetPayment(context.Background(), "pay-77")
	assert.ErrorIs(t, err, models.ErrGatewayUnavailable)
	assert.Equal(t, 3, requests)
}

func TestGetPaymentNotFound(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetPayment(context.Background(), "pay-77")
	assert.ErrorIs(t, err, models.ErrPaymentNotFound)
	assert.Equal(t, 1, requests, "4xx responses are not retried")
}

func TestGetPaymentBadRequestNotRetried(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetPayment(context.Background(), "pay-77")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	assert.Equal(t, 1, requests)
}

func TestCreateAuthorizationPreference(t *testing.T) {
	var got struct {
		ExternalReference string `json:"external_reference"`
		Capture           bool   `json:"capture"`
		Items             []struct {
			ID        string `json:"id"`
			Quantity  int    `json:"quantity"`
			UnitPrice int64  `json:"unit_price"`
		} `json:"items"`
		BackURLs struct {
			Success string `json:"success"`
		} `json:"back_urls"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{
			"id": "pref-1", "init_point": "https://pay.example/pref-1",
		})
	}))
	defer server.Close()

	order := &models.Order{
		ID: "ord-1",
		Items: []models.LineItem{
			{ItemID: "item-a", Quantity: 2, UnitPrice: 1000},
		},
	}
	prefID, checkoutURL, err := newTestClient(server.URL).CreateAuthorizationPreference(
		context.Background(), order, ReturnURLs{Success: "https://shop.example/paid"})
	require.NoError(t, err)

	assert.Equal(t, "pref-1", prefID)
	assert.Equal(t, "https://pay.example/pref-1", checkoutURL)
	assert.Equal(t, "ord-1", got.ExternalReference)
	assert.False(t, got.Capture, "the preference must authorize without capturing")
	require.Len(t, got.Items, 1)
	assert.Equal(t, "item-a", got.Items[0].ID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, int64(1000), got.Items[0].UnitPrice)
	assert.Equal(t, "https://shop.example/paid", got.BackURLs.Success)
}

func TestCapturePayment(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/payments/pay-77", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "pay-77", "status": "approved", "transaction_amount": 2000,
		})
	}))
	defer server.Close()

	snap, err := newTestClient(server.URL).CapturePayment(context.Background(), "pay-77", 2000)
	require.NoError(t, err)
	assert.Equal(t, "approved", snap.Status)
	assert.Equal(t, true, got["capture"])
	assert.Equal(t, float64(2000), got["transaction_amount"])
}

func TestCapturePaymentStateConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"payment not authorized"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CapturePayment(context.Background(), "pay-77", 2000)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestCapturePaymentMalformedRequestKeepsIdentity(t *testing.T) {
	// A 400 describing a bad request, not a payment-state conflict, must
	// surface as ErrInvalidRequest so it maps to 400 rather than 409.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"transaction_amount must be positive"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CapturePayment(context.Background(), "pay-77", -1)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	assert.NotErrorIs(t, err, models.ErrInvalidState)
}

func TestCapturePaymentConflictStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"concurrent modification"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CapturePayment(context.Background(), "pay-77", 2000)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestCancelPayment(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"id": "pay-77", "status": "cancelled"})
	}))
	defer server.Close()

	snap, err := newTestClient(server.URL).CancelPayment(context.Background(), "pay-77")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", snap.Status)
	assert.Equal(t, "cancelled", got["status"])
}

func TestRefundPaymentPartial(t *testing.T) {
	var got map[string]int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments/pay-77/refunds", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "ref-1", "payment_id": "pay-77", "amount": 1000, "status": "approved",
		})
	}))
	defer server.Close()

	refund, err := newTestClient(server.URL).RefundPayment(context.Background(), "pay-77", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), refund.Amount)
	assert.Equal(t, int64(1000), got["amount"])
}

func TestRefundPaymentFullOmitsAmount(t *testing.T) {
	var got map[string]int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "ref-1", "payment_id": "pay-77", "amount": 2500, "status": "approved",
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).RefundPayment(context.Background(), "pay-77", 0)
	require.NoError(t, err)
	assert.NotContains(t, got, "amount")
}
