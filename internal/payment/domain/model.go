package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound   = errors.New("payment_not_found")
	ErrInvalidTransition = errors.New("payment_invalid_transition")
	ErrInvalidAmount     = errors.New("payment_invalid_amount")
	ErrInvalidPayload    = errors.New("payment_invalid_payload")
	ErrInvalidSignature  = errors.New("payment_invalid_signature")
)

// Payment lifecycle states. Paid and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusOverdue   = "overdue"
	StatusCancelled = "cancelled"
)

// Payment is one monthly contribution charge for a member. The pair
// (member_id, due_date) is unique so cycle generation can never double-bill.
type Payment struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	MemberID snowflake.ID `gorm:"not null;index;uniqueIndex:idx_member_due,priority:1" json:"member_id"`

	// Amount is the contribution in BRL. The provider client converts to
	// centavos at the wire.
	Amount   float64 `gorm:"not null" json:"amount"`
	Currency string  `gorm:"not null;default:BRL" json:"currency"`

	DueDate     time.Time `gorm:"not null;uniqueIndex:idx_member_due,priority:2" json:"due_date"`
	Status      string    `gorm:"not null;default:pending;index" json:"status"`
	Description string    `json:"description,omitempty"`

	ProviderChargeID string     `gorm:"index" json:"provider_charge_id,omitempty"`
	PixQRCode        string     `json:"pix_qr_code,omitempty"`
	PixQRCodeURL     string     `json:"pix_qr_code_url,omitempty"`
	BoletoURL        string     `json:"boleto_url,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// IsTerminal reports whether a status can never change again.
func IsTerminal(status string) bool {
	return status == StatusPaid || status == StatusCancelled
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Same-status moves are allowed and treated as no-ops so webhook
// replays stay harmless.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusPaid || to == StatusOverdue || to == StatusCancelled
	case StatusOverdue:
		return to == StatusPaid || to == StatusCancelled
	default:
		return false
	}
}

// WebhookEventRecord stores every accepted provider webhook once. Fingerprint
// is the SHA-256 hex of the raw body; the unique constraint on it makes
// replays insert-idempotent.
type WebhookEventRecord struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider    string         `gorm:"not null" json:"provider"`
	Fingerprint string         `gorm:"not null;uniqueIndex" json:"fingerprint"`
	EventType   string         `gorm:"not null" json:"event_type"`
	ChargeID    string         `gorm:"index" json:"charge_id"`
	Payload     datatypes.JSON `json:"payload"`
	ReceivedAt  time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

func (WebhookEventRecord) TableName() string { return "payment_webhook_events" }

// ProviderRefs are the artifacts handed back by the billing provider after a
// charge is created or updated.
type ProviderRefs struct {
	ChargeID     string
	PixQRCode    string
	PixQRCodeURL string
	BoletoURL    string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByMemberAndDueDate(ctx context.Context, db *gorm.DB, memberID snowflake.ID, dueDate time.Time) (*Payment, error)
	FindByProviderChargeID(ctx context.Context, db *gorm.DB, chargeID string) (*Payment, error)
	ListByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]*Payment, error)
	// ListForReconciliation returns non-terminal payments with a provider
	// charge whose due date falls inside the window.
	ListForReconciliation(ctx context.Context, db *gorm.DB, from, to time.Time) ([]*Payment, error)
	// ListMissingProviderCharge returns pending payments that never made it
	// to the provider, so charge creation can be retried.
	ListMissingProviderCharge(ctx context.Context, db *gorm.DB, limit int) ([]*Payment, error)
	AttachProviderRefs(ctx context.Context, db *gorm.DB, id snowflake.ID, refs ProviderRefs, now time.Time) error
	// TransitionStatus applies a guarded update and reports whether a row
	// actually changed.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to string, paidAt *time.Time, now time.Time) (bool, error)
	// MarkOverdueBefore flips pending payments past their due date and
	// returns how many rows changed.
	MarkOverdueBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error)
	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEventRecord) (bool, error)
	FindWebhookEventByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*WebhookEventRecord, error)
	MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
