package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/ciabra"
	"github.com/moradacoop/morada/internal/clock"
	obsmetrics "github.com/moradacoop/morada/internal/observability/metrics"
	paymentdomain "github.com/moradacoop/morada/internal/payment/domain"
	paymentservice "github.com/moradacoop/morada/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const providerName = "ciabra"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	PaymentSvc *paymentservice.Service
	Gateway    ciabra.Gateway
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	paymentSvc *paymentservice.Service
	gateway    ciabra.Gateway
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		gateway:    p.Gateway,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest processes one provider webhook delivery. Replays and already-applied
// transitions are absorbed silently so the provider can redeliver freely; the
// only hard failures are bad signatures, unparseable payloads, and storage
// errors.
func (s *Service) Ingest(ctx context.Context, signature string, payload []byte) error {
	if !json.Valid(payload) {
		s.recordOutcome("invalid_payload")
		return paymentdomain.ErrInvalidPayload
	}
	if !s.gateway.VerifySignature(signature, payload) {
		s.recordOutcome("invalid_signature")
		return paymentdomain.ErrInvalidSignature
	}

	event, err := s.gateway.NormalizeWebhook(payload)
	if err != nil {
		s.recordOutcome("invalid_payload")
		return err
	}

	sum := sha256.Sum256(payload)
	record := &paymentdomain.WebhookEventRecord{
		ID:          s.genID.Generate(),
		Provider:    providerName,
		Fingerprint: hex.EncodeToString(sum[:]),
		EventType:   event.EventType,
		ChargeID:    event.ChargeID,
		Payload:     datatypes.JSON(payload),
		ReceivedAt:  s.clock.Now(),
	}
	inserted, err := s.repo.InsertWebhookEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindWebhookEventByFingerprint(ctx, s.db, record.Fingerprint)
		if err != nil {
			return err
		}
		if existing == nil || existing.ProcessedAt != nil {
			s.log.Debug("webhook replay ignored", zap.String("charge_id", event.ChargeID))
			s.recordOutcome("duplicate")
			return nil
		}
		// the earlier delivery recorded the event and then failed; the
		// provider's redelivery resumes it under the recorded id
		record = existing
	}

	payment, err := s.paymentSvc.FindByProviderReference(ctx, event.ChargeID, event.ExternalID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
			s.log.Warn("webhook for unknown charge",
				zap.String("charge_id", event.ChargeID),
				zap.String("external_id", event.ExternalID),
			)
			s.recordOutcome("unknown_charge")
		}
		return err
	}

	if err := s.applyEvent(ctx, payment, event); err != nil {
		return err
	}

	if err := s.repo.MarkWebhookProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return err
	}
	s.recordOutcome("processed")
	return nil
}

func (s *Service) applyEvent(ctx context.Context, payment *paymentdomain.Payment, event *ciabra.WebhookEvent) error {
	if refs := providerRefs(payment, event); refs != nil {
		if err := s.repo.AttachProviderRefs(ctx, s.db, payment.ID, *refs, s.clock.Now()); err != nil {
			return err
		}
	}

	target := ""
	switch event.EventType {
	case ciabra.EventPaymentConfirmed, ciabra.EventPaymentReceived:
		target = paymentdomain.StatusPaid
	case ciabra.EventPaymentRefunded, ciabra.EventInvoiceDeleted:
		target = paymentdomain.StatusCancelled
	case ciabra.EventInvoiceCreated, ciabra.EventPaymentGenerated:
		// artifact-only events, no lifecycle change
		return nil
	}

	if target == "" {
		// unrecognized event type, fall back to the charge status field
		_, err := s.paymentSvc.ApplyProviderStatus(ctx, payment, event.Status, event.PaidAt)
		return ignoreInvalidTransition(s.log, payment, err)
	}

	_, err := s.paymentSvc.TransitionStatus(ctx, payment, target, event.PaidAt)
	return ignoreInvalidTransition(s.log, payment, err)
}

// A webhook arriving after the payment reached a terminal state is stale
// provider news, not an error worth failing the delivery over.
func ignoreInvalidTransition(log *zap.Logger, payment *paymentdomain.Payment, err error) error {
	if errors.Is(err, paymentdomain.ErrInvalidTransition) {
		log.Warn("webhook transition not allowed",
			zap.Stringer("payment_id", payment.ID),
			zap.String("status", payment.Status),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func providerRefs(payment *paymentdomain.Payment, event *ciabra.WebhookEvent) *paymentdomain.ProviderRefs {
	if event.ChargeID == "" && event.PixQRCode == "" && event.PixQRCodeURL == "" && event.BoletoURL == "" {
		return nil
	}
	return &paymentdomain.ProviderRefs{
		ChargeID:     event.ChargeID,
		PixQRCode:    event.PixQRCode,
		PixQRCodeURL: event.PixQRCodeURL,
		BoletoURL:    event.BoletoURL,
	}
}

func (s *Service) recordOutcome(outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.IncWebhookEvent(outcome)
	}
}
