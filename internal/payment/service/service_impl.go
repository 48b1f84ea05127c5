package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/ciabra"
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	memberdomain "github.com/moradacoop/morada/internal/member/domain"
	obsmetrics "github.com/moradacoop/morada/internal/observability/metrics"
	paymentdomain "github.com/moradacoop/morada/internal/payment/domain"
	"github.com/moradacoop/morada/internal/tasks"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	MemberRepo memberdomain.Repository
	Gateway    ciabra.Gateway
	Tasks      *tasks.Queue        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfg        config.Config
	clock      clock.Clock
	repo       paymentdomain.Repository
	memberRepo memberdomain.Repository
	gateway    ciabra.Gateway
	tasks      *tasks.Queue
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		cfg:        p.Cfg,
		clock:      p.Clock,
		repo:       p.Repo,
		memberRepo: p.MemberRepo,
		gateway:    p.Gateway,
		tasks:      p.Tasks,
		obsMetrics: p.ObsMetrics,
	}
}

// FindOrCreateForCycle returns the member's payment for the due date,
// creating it when absent. A lost insert race falls back to refetching the
// winner's row, so concurrent generation converges on one payment.
func (s *Service) FindOrCreateForCycle(ctx context.Context, member *memberdomain.Member, dueDate time.Time) (*paymentdomain.Payment, bool, error) {
	if existing, err := s.repo.FindByMemberAndDueDate(ctx, s.db, member.ID, dueDate); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	now := s.clock.Now()
	payment := &paymentdomain.Payment{
		ID:          s.genID.Generate(),
		MemberID:    member.ID,
		Amount:      s.cfg.Billing.DefaultAmount,
		Currency:    s.cfg.Billing.Currency,
		DueDate:     dueDate,
		Status:      paymentdomain.StatusPending,
		Description: fmt.Sprintf("Contribuição mensal %02d/%d", dueDate.Month(), dueDate.Year()),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if payment.Amount <= 0 {
		return nil, false, paymentdomain.ErrInvalidAmount
	}

	inserted, err := s.repo.Insert(ctx, s.db, payment)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindByMemberAndDueDate(ctx, s.db, member.ID, dueDate)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, paymentdomain.ErrPaymentNotFound
		}
		return existing, false, nil
	}
	return payment, true, nil
}

// EnsureProviderCharge registers the payment with the billing provider when
// it has no charge yet, persisting the returned pix and boleto artifacts.
func (s *Service) EnsureProviderCharge(ctx context.Context, payment *paymentdomain.Payment, member *memberdomain.Member) error {
	if payment.ProviderChargeID != "" {
		return nil
	}

	charge, err := s.gateway.CreateCharge(ctx, ciabra.CreateChargeRequest{
		ExternalID:  payment.ID.String(),
		Amount:      payment.Amount,
		DueDate:     payment.DueDate,
		Description: payment.Description,
		Customer: ciabra.Customer{
			Name:     member.Name,
			Email:    member.Email,
			Document: member.Document,
			Phone:    member.Phone,
		},
	})
	if s.obsMetrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.obsMetrics.IncProviderCall("create_charge", result)
	}
	if err != nil {
		return err
	}

	refs := paymentdomain.ProviderRefs{
		ChargeID:     charge.ID,
		PixQRCode:    charge.PixQRCode,
		PixQRCodeURL: charge.PixQRCodeURL,
		BoletoURL:    charge.BoletoURL,
	}
	if err := s.repo.AttachProviderRefs(ctx, s.db, payment.ID, refs, s.clock.Now()); err != nil {
		return err
	}

	payment.ProviderChargeID = charge.ID
	payment.PixQRCode = charge.PixQRCode
	payment.PixQRCodeURL = charge.PixQRCodeURL
	payment.BoletoURL = charge.BoletoURL
	return nil
}

// EnsureCharge is the interactive path: a member asks for their next charge
// and gets the existing one or a freshly created one. A non-zero paymentID
// targets an existing payment instead, only filling in missing provider
// artifacts.
func (s *Service) EnsureCharge(ctx context.Context, memberID, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	member, err := s.memberRepo.FindByID(ctx, s.db, memberID)
	if err != nil {
		return nil, err
	}
	if !member.Active {
		return nil, memberdomain.ErrMemberNotFound
	}

	if paymentID != 0 {
		payment, err := s.GetForMember(ctx, memberID, paymentID)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureProviderCharge(ctx, payment, member); err != nil {
			s.log.Warn("provider charge creation failed",
				zap.Stringer("payment_id", payment.ID),
				zap.Error(err),
			)
			s.enqueueProviderRetry(payment, member)
		}
		return payment, nil
	}

	dueDate := paymentdomain.NextDueDate(s.clock.Now(), member.BillingDay)
	payment, created, err := s.FindOrCreateForCycle(ctx, member, dueDate)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("payment created on demand",
			zap.Stringer("payment_id", payment.ID),
			zap.Stringer("member_id", member.ID),
			zap.Time("due_date", dueDate),
		)
	}

	if err := s.EnsureProviderCharge(ctx, payment, member); err != nil {
		// the local row exists; retry in the background, and the scheduler
		// sweep picks it up if that fails too
		s.log.Warn("provider charge creation failed",
			zap.Stringer("payment_id", payment.ID),
			zap.Error(err),
		)
		s.enqueueProviderRetry(payment, member)
	}
	return payment, nil
}

func (s *Service) enqueueProviderRetry(payment *paymentdomain.Payment, member *memberdomain.Member) {
	if s.tasks == nil {
		return
	}
	s.tasks.Enqueue(tasks.Task{
		Name:        "payment.provider_charge_retry",
		MaxAttempts: 3,
		Run: func(ctx context.Context) error {
			fresh, err := s.repo.FindByID(ctx, s.db, payment.ID)
			if err != nil {
				return err
			}
			return s.EnsureProviderCharge(ctx, fresh, member)
		},
	})
}

// ApplyProviderStatus maps a provider charge status onto the local lifecycle
// and applies the transition. Unknown provider statuses and disallowed
// transitions are logged and skipped rather than failing the caller.
func (s *Service) ApplyProviderStatus(ctx context.Context, payment *paymentdomain.Payment, providerStatus string, paidAt *time.Time) (bool, error) {
	target, known := mapProviderStatus(providerStatus)
	if !known {
		s.log.Warn("unknown provider status",
			zap.Stringer("payment_id", payment.ID),
			zap.String("provider_status", providerStatus),
		)
		return false, nil
	}
	if target == "" || target == payment.Status {
		return false, nil
	}
	return s.TransitionStatus(ctx, payment, target, paidAt)
}

// TransitionStatus validates the lifecycle move and applies the guarded
// update. Returns false with no error when another writer got there first.
func (s *Service) TransitionStatus(ctx context.Context, payment *paymentdomain.Payment, to string, paidAt *time.Time) (bool, error) {
	if payment.Status == to {
		return false, nil
	}
	if !paymentdomain.CanTransition(payment.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", paymentdomain.ErrInvalidTransition, payment.Status, to)
	}

	// paid_at records a settlement and nothing else; a refund or
	// cancellation event carrying the provider's timestamp must not set it
	if to != paymentdomain.StatusPaid {
		paidAt = nil
	} else if paidAt == nil {
		now := s.clock.Now()
		paidAt = &now
	}

	changed, err := s.repo.TransitionStatus(ctx, s.db, payment.ID, payment.Status, to, paidAt, s.clock.Now())
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info("payment status changed",
			zap.Stringer("payment_id", payment.ID),
			zap.String("from", payment.Status),
			zap.String("to", to),
		)
		payment.Status = to
		if paidAt != nil {
			payment.PaidAt = paidAt
		}
	}
	return changed, nil
}

// GetForMember loads a payment scoped to its owner. Other members' payments
// surface as not found, never as forbidden, to avoid leaking existence.
func (s *Service) GetForMember(ctx context.Context, memberID, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.MemberID != memberID {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListForMember(ctx context.Context, memberID snowflake.ID) ([]*paymentdomain.Payment, error) {
	return s.repo.ListByMember(ctx, s.db, memberID)
}

// FindByProviderReference resolves a payment from webhook identifiers, trying
// the provider charge id first and falling back to our own id echoed back as
// the external reference.
func (s *Service) FindByProviderReference(ctx context.Context, chargeID, externalID string) (*paymentdomain.Payment, error) {
	if chargeID != "" {
		payment, err := s.repo.FindByProviderChargeID(ctx, s.db, chargeID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	if externalID != "" {
		if id, err := snowflake.ParseString(externalID); err == nil {
			payment, err := s.repo.FindByID(ctx, s.db, id)
			if err != nil && !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
				return nil, err
			}
			if payment != nil {
				return payment, nil
			}
		}
	}
	return nil, paymentdomain.ErrPaymentNotFound
}

func mapProviderStatus(status string) (string, bool) {
	switch status {
	case ciabra.ChargeStatusPaid, ciabra.ChargeStatusConfirmed, ciabra.ChargeStatusReceived:
		return paymentdomain.StatusPaid, true
	case ciabra.ChargeStatusOverdue:
		return paymentdomain.StatusOverdue, true
	case ciabra.ChargeStatusCancelled, ciabra.ChargeStatusRefunded:
		return paymentdomain.StatusCancelled, true
	case ciabra.ChargeStatusPending, "":
		return "", true
	default:
		return "", false
	}
}
