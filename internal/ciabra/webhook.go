package ciabra

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// SignatureRequired reports whether inbound webhooks must carry a valid
// signature. When no secret is configured all payloads are accepted; this
// permissive fallback is documented provider behavior, not a default we chose.
func (c *Client) SignatureRequired() bool {
	return c.cfg.WebhookSecret != ""
}

// VerifySignature checks the HMAC-SHA256 hex digest of the raw payload
// against the pre-shared secret.
func (c *Client) VerifySignature(signature string, payload []byte) bool {
	if c.cfg.WebhookSecret == "" {
		return true
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// NormalizeWebhook maps the provider's heterogeneous payload shapes into one
// canonical WebhookEvent. Every value is resolved through a named fallback
// chain because the provider is inconsistent about where it puts fields.
func (c *Client) NormalizeWebhook(payload []byte) (*WebhookEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	event := &WebhookEvent{
		EventType: readString(raw, "event", "event_type", "type"),

		// charge id: top-level, snake_case alias, or nested under data/charge
		ChargeID: firstNonEmpty(
			readString(raw, "charge_id"),
			readNestedString(raw, "data", "id"),
			readNestedString(raw, "charge", "id"),
			readString(raw, "id"),
		),

		// the identifier we embedded at charge creation, echoed back
		ExternalID: firstNonEmpty(
			readString(raw, "external_id", "external_reference"),
			readNestedString(raw, "data", "external_id"),
			readNestedString(raw, "charge", "external_id"),
		),

		Status: firstNonEmpty(
			readString(raw, "status"),
			readNestedString(raw, "data", "status"),
			readNestedString(raw, "charge", "status"),
		),

		Amount: firstNonZero(
			readFloat(raw, "amount"),
			readNestedFloat(raw, "data", "amount"),
			readNestedFloat(raw, "charge", "amount"),
		),

		PixQRCode: firstNonEmpty(
			readString(raw, "pix_qr_code"),
			readNestedString(raw, "pix", "qr_code"),
			readNestedString(raw, "data", "pix_qr_code"),
		),
		PixQRCodeURL: firstNonEmpty(
			readString(raw, "pix_qr_code_url"),
			readNestedString(raw, "pix", "qr_code_url"),
			readNestedString(raw, "data", "pix_qr_code_url"),
		),
		BoletoURL: firstNonEmpty(
			readString(raw, "boleto_url"),
			readNestedString(raw, "boleto", "url"),
			readNestedString(raw, "data", "boleto_url"),
		),
	}

	paidRaw := firstNonEmpty(
		readString(raw, "paid_at", "payment_date"),
		readNestedString(raw, "data", "paid_at"),
		readNestedString(raw, "charge", "paid_at"),
	)
	if ts := parseTimestamp(paidRaw); ts != nil {
		event.PaidAt = ts
	}

	if event.ChargeID == "" && event.ExternalID == "" {
		return nil, ErrNoChargeReference
	}
	return event, nil
}

// ParsePaidAt converts a provider timestamp string from a Charge payload.
func ParsePaidAt(value string) *time.Time {
	return parseTimestamp(value)
}

func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

func readString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := raw[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
		// providers sometimes send numeric ids
		if value, ok := raw[key].(float64); ok && value != 0 {
			return strconv.FormatFloat(value, 'f', -1, 64)
		}
	}
	return ""
}

func readNestedString(raw map[string]any, parent string, keys ...string) string {
	nested, ok := raw[parent].(map[string]any)
	if !ok {
		return ""
	}
	return readString(nested, keys...)
}

func readFloat(raw map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch value := raw[key].(type) {
		case float64:
			return value
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && parsed != 0 {
				return parsed
			}
		}
	}
	return 0
}

func readNestedFloat(raw map[string]any, parent string, keys ...string) float64 {
	nested, ok := raw[parent].(map[string]any)
	if !ok {
		return 0
	}
	return readFloat(nested, keys...)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func firstNonZero(values ...float64) float64 {
	for _, value := range values {
		if value != 0 {
			return value
		}
	}
	return 0
}
