package ciabra

import (
	"context"
	"time"
)

// Customer is the payer profile attached to an outbound charge.
type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"`
	Phone    string `json:"phone"`
}

// CreateChargeRequest describes a new charge. Amount is in BRL; the client
// converts to centavos on the wire.
type CreateChargeRequest struct {
	// ExternalID is our payment id, echoed back by webhooks so charges can
	// be matched even when the provider omits its own id.
	ExternalID    string
	Amount        float64
	DueDate       time.Time
	Description   string
	Customer      Customer
	PaymentMethod string
}

// Charge is the provider's representation of a request for payment. Only the
// fields the reconciliation logic needs are decoded.
type Charge struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	PaidAt       string `json:"paid_at"`
	PixQRCode    string `json:"pix_qr_code"`
	PixQRCodeURL string `json:"pix_qr_code_url"`
	BoletoURL    string `json:"boleto_url"`
}

// WebhookEvent is the canonical record extracted from an inbound webhook
// payload, after normalizing the provider's alternate field names.
type WebhookEvent struct {
	EventType    string
	ChargeID     string
	ExternalID   string
	Status       string
	PaidAt       *time.Time
	Amount       float64
	PixQRCode    string
	PixQRCodeURL string
	BoletoURL    string
}

// Event types observed from the provider.
const (
	EventInvoiceCreated   = "invoice.created"
	EventPaymentGenerated = "payment.generated"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentReceived  = "payment.received"
	EventPaymentRefunded  = "payment.refunded"
	EventInvoiceDeleted   = "invoice.deleted"
)

// Provider charge statuses the reconciliation logic maps onto the local
// lifecycle.
const (
	ChargeStatusPending   = "pending"
	ChargeStatusPaid      = "paid"
	ChargeStatusConfirmed = "confirmed"
	ChargeStatusReceived  = "received"
	ChargeStatusOverdue   = "overdue"
	ChargeStatusCancelled = "cancelled"
	ChargeStatusRefunded  = "refunded"
)

// Gateway is the surface the payment core consumes. *Client implements it;
// tests substitute fakes.
type Gateway interface {
	CreateCharge(ctx context.Context, req CreateChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	VerifySignature(signature string, payload []byte) bool
	NormalizeWebhook(payload []byte) (*WebhookEvent, error)
	SignatureRequired() bool
}
