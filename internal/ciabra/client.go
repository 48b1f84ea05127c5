package ciabra

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	"go.uber.org/zap"
)

// tokenExpirySkew is subtracted from the provider's stated expiry so a cached
// token is never used while racing against the remote clock.
const tokenExpirySkew = 5 * time.Minute

// Client talks to the Ciabra billing API. The bearer token cache lives on the
// instance, not in package state, so tests construct isolated clients.
type Client struct {
	cfg   config.CiabraConfig
	http  *http.Client
	log   *zap.Logger
	clock clock.Clock

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg config.CiabraConfig, log *zap.Logger, clk clock.Clock) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if cfg.WebhookSecret == "" {
		log.Warn("ciabra webhook secret not configured, accepting unsigned webhooks")
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: timeout},
		log:   log.Named("ciabra.client"),
		clock: clk,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate exchanges the client credentials for a bearer token, reusing
// the cached token until it nears expiry. Concurrent refreshes may issue a
// redundant exchange; that is accepted, not serialized.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", ErrNotConfigured
	}

	c.mu.Lock()
	if c.token != "" && c.clock.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("ciabra auth rejected", zap.Int("status", resp.StatusCode))
		return "", ErrAuthRejected
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", ErrAuthRejected
	}

	expiry := c.clock.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	if token.ExpiresIn > 0 {
		expiry = expiry.Add(-tokenExpirySkew)
	}

	c.mu.Lock()
	c.token = token.AccessToken
	c.tokenExpiry = expiry
	c.mu.Unlock()

	return token.AccessToken, nil
}

type createChargeBody struct {
	ExternalID    string   `json:"external_id"`
	Amount        int64    `json:"amount"`
	DueDate       string   `json:"due_date"`
	Description   string   `json:"description"`
	Customer      Customer `json:"customer"`
	PaymentMethod string   `json:"payment_method,omitempty"`
	WebhookURL    string   `json:"webhook_url,omitempty"`
}

// CreateCharge submits a new charge. Amount is converted to integer centavos
// and document/phone are stripped to digits before hitting the wire.
func (c *Client) CreateCharge(ctx context.Context, req CreateChargeRequest) (*Charge, error) {
	body := createChargeBody{
		ExternalID:  req.ExternalID,
		Amount:      toCentavos(req.Amount),
		DueDate:     req.DueDate.Format("2006-01-02"),
		Description: req.Description,
		Customer: Customer{
			Name:     strings.TrimSpace(req.Customer.Name),
			Email:    strings.TrimSpace(req.Customer.Email),
			Document: digitsOnly(req.Customer.Document),
			Phone:    digitsOnly(req.Customer.Phone),
		},
		PaymentMethod: req.PaymentMethod,
		WebhookURL:    c.cfg.CallbackURL,
	}

	var charge Charge
	if err := c.doJSON(ctx, http.MethodPost, "/charges", body, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// GetCharge fetches the current remote state for a charge.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := c.doJSON(ctx, http.MethodGet, "/charges/"+chargeID, nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func toCentavos(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
