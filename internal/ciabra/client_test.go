package ciabra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string, clk clock.Clock) *Client {
	t.Helper()
	return NewClient(config.CiabraConfig{
		BaseURL:      baseURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "https://portal.example/webhook",
	}, zaptest.NewLogger(t), clk)
}

func TestAuthenticateCachesToken(t *testing.T) {
	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "client_credentials", body["grant_type"])
		tokenCalls++
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	}))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	client := newTestClient(t, srv.URL, clk)

	tok, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	_, err = client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tokenCalls, "cached token should be reused")

	// past expiry minus skew the token must be re-fetched
	clk.Advance(time.Hour)
	_, err = client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, tokenCalls)
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	client := NewClient(config.CiabraConfig{BaseURL: "http://localhost"}, zaptest.NewLogger(t), nil)

	_, err := client.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestCreateChargeWireFormat(t *testing.T) {
	var captured createChargeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
			return
		}
		require.Equal(t, "/charges", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"id": "ch_123", "status": "pending", "boleto_url": "https://b"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	charge, err := client.CreateCharge(context.Background(), CreateChargeRequest{
		ExternalID:  "1234567890",
		Amount:      150.00,
		DueDate:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Description: "Contribuição mensal 03/2026",
		Customer: Customer{
			Name:     " Ana Souza ",
			Email:    "ana@example.com",
			Document: "123.456.789-09",
			Phone:    "+55 (11) 91234-5678",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "ch_123", charge.ID)
	assert.Equal(t, "pending", charge.Status)
	assert.Equal(t, "1234567890", captured.ExternalID)
	assert.Equal(t, int64(15000), captured.Amount, "amount travels as centavos")
	assert.Equal(t, "2026-03-10", captured.DueDate)
	assert.Equal(t, "Ana Souza", captured.Customer.Name)
	assert.Equal(t, "12345678909", captured.Customer.Document)
	assert.Equal(t, "5511912345678", captured.Customer.Phone)
	assert.Equal(t, "https://portal.example/webhook", captured.WebhookURL)
}

func TestCreateChargeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid document"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.CreateCharge(context.Background(), CreateChargeRequest{Amount: 10, DueDate: time.Now()})

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnprocessableEntity, provErr.StatusCode)
	assert.Contains(t, provErr.Body, "invalid document")
}

func TestGetCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
			return
		}
		require.Equal(t, "/charges/ch_9", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"id": "ch_9", "status": "paid", "paid_at": "2026-03-11T09:30:00Z"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	charge, err := client.GetCharge(context.Background(), "ch_9")
	require.NoError(t, err)
	assert.Equal(t, "paid", charge.Status)
	assert.Equal(t, "2026-03-11T09:30:00Z", charge.PaidAt)
}

func TestToCentavosRounding(t *testing.T) {
	assert.Equal(t, int64(15000), toCentavos(150.00))
	assert.Equal(t, int64(9999), toCentavos(99.99))
	assert.Equal(t, int64(10), toCentavos(0.1))
	assert.Equal(t, int64(29), toCentavos(0.29))
}
