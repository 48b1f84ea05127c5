package ciabra

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means the provider credentials are absent; the
	// operation cannot proceed and retrying will not help.
	ErrNotConfigured = errors.New("ciabra_not_configured")

	// ErrAuthRejected means the provider refused the credential exchange.
	ErrAuthRejected = errors.New("ciabra_auth_rejected")

	// ErrNoChargeReference means a webhook payload carried no identifying
	// field at all.
	ErrNoChargeReference = errors.New("ciabra_no_charge_reference")
)

// ProviderError preserves the raw provider error body for diagnostics.
// Callers log it; it is never forwarded to portal users.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ciabra request failed: status=%d body=%s", e.StatusCode, e.Body)
}
