package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert creates the payment row, relying on the (member_id, due_date) unique
// constraint to absorb concurrent generation. Returns false when the row
// already existed.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, member_id, amount, currency, due_date, status, description,
			provider_charge_id, pix_qr_code, pix_qr_code_url, boleto_url, paid_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (member_id, due_date) DO NOTHING`,
		payment.ID,
		payment.MemberID,
		payment.Amount,
		payment.Currency,
		payment.DueDate,
		payment.Status,
		payment.Description,
		payment.ProviderChargeID,
		payment.PixQRCode,
		payment.PixQRCodeURL,
		payment.BoletoURL,
		payment.PaidAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

const paymentColumns = `id, member_id, amount, currency, due_date, status, description,
	provider_charge_id, pix_qr_code, pix_qr_code_url, boleto_url, paid_at, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, domain.ErrPaymentNotFound
	}
	return &payment, nil
}

func (r *repo) FindByMemberAndDueDate(ctx context.Context, db *gorm.DB, memberID snowflake.ID, dueDate time.Time) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE member_id = ? AND due_date = ? LIMIT 1`,
		memberID,
		dueDate,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByProviderChargeID(ctx context.Context, db *gorm.DB, chargeID string) (*domain.Payment, error) {
	if chargeID == "" {
		return nil, nil
	}
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE provider_charge_id = ? LIMIT 1`,
		chargeID,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListByMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE member_id = ? ORDER BY due_date DESC, id DESC`,
		memberID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) ListForReconciliation(ctx context.Context, db *gorm.DB, from, to time.Time) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status IN (?, ?)
		   AND provider_charge_id <> ''
		   AND due_date >= ? AND due_date <= ?
		 ORDER BY due_date, id`,
		domain.StatusPending,
		domain.StatusOverdue,
		from,
		to,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) ListMissingProviderCharge(ctx context.Context, db *gorm.DB, limit int) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = ? AND provider_charge_id = ''
		 ORDER BY due_date, id
		 LIMIT ?`,
		domain.StatusPending,
		limit,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// AttachProviderRefs fills provider artifacts without clobbering values a
// concurrent webhook already wrote. COALESCE(NULLIF(...)) keeps the first
// non-empty value.
func (r *repo) AttachProviderRefs(ctx context.Context, db *gorm.DB, id snowflake.ID, refs domain.ProviderRefs, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments SET
			provider_charge_id = COALESCE(NULLIF(provider_charge_id, ''), ?),
			pix_qr_code = COALESCE(NULLIF(pix_qr_code, ''), ?),
			pix_qr_code_url = COALESCE(NULLIF(pix_qr_code_url, ''), ?),
			boleto_url = COALESCE(NULLIF(boleto_url, ''), ?),
			updated_at = ?
		 WHERE id = ?`,
		refs.ChargeID,
		refs.PixQRCode,
		refs.PixQRCodeURL,
		refs.BoletoURL,
		now,
		id,
	).Error
}

// TransitionStatus moves a payment between lifecycle states with the prior
// state as a predicate, so lost races surface as zero rows affected instead
// of an overwrite.
func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to string, paidAt *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET
			status = ?,
			paid_at = COALESCE(?, paid_at),
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		paidAt,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkOverdueBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, updated_at = ?
		 WHERE status = ? AND due_date < ?`,
		domain.StatusOverdue,
		now,
		domain.StatusPending,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhook_events (
			id, provider, fingerprint, event_type, charge_id, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`,
		event.ID,
		event.Provider,
		event.Fingerprint,
		event.EventType,
		event.ChargeID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindWebhookEventByFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.WebhookEventRecord, error) {
	var event domain.WebhookEventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, fingerprint, event_type, charge_id, payload, received_at, processed_at
		 FROM payment_webhook_events WHERE fingerprint = ? LIMIT 1`,
		fingerprint,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events SET processed_at = ? WHERE id = ?`,
		processedAt,
		id,
	).Error
}
