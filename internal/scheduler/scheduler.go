package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/ciabra"
	"github.com/moradacoop/morada/internal/clock"
	memberdomain "github.com/moradacoop/morada/internal/member/domain"
	obsmetrics "github.com/moradacoop/morada/internal/observability/metrics"
	paymentdomain "github.com/moradacoop/morada/internal/payment/domain"
	paymentservice "github.com/moradacoop/morada/internal/payment/service"
	"github.com/moradacoop/morada/internal/scheduler/joblock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	MemberRepo memberdomain.Repository
	PaymentSvc *paymentservice.Service
	Gateway    ciabra.Gateway
	Locker     *joblock.Locker     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler drives the recurring billing jobs: charge generation ahead of
// each due date, the overdue sweep, and reconciliation against the provider.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	memberRepo memberdomain.Repository
	paymentSvc *paymentservice.Service
	gateway    ciabra.Gateway
	locker     *joblock.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.MemberRepo == nil || p.PaymentSvc == nil || p.Gateway == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		memberRepo: p.MemberRepo,
		paymentSvc: p.PaymentSvc,
		gateway:    p.Gateway,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.IncJobRun(name)
	}

	err := fn(ctx)

	if s.obsMetrics != nil {
		s.obsMetrics.ObserveJobDuration(name, time.Since(start))
		s.obsMetrics.AddJobItems(name, run.processedCount)
		if run.errorCount > 0 {
			s.obsMetrics.AddJobErrors(name, run.errorCount)
		}
	}
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// a deadline only means the rest of the batch waits for the next tick
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"generate_charges", s.GenerateChargesJob},
		{"overdue_sweep", s.OverdueSweepJob},
		{"reconcile", s.ReconcileJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

// RunForever ticks RunOnce at the configured interval. When a distributed
// lock is available only one instance runs each tick; without one the jobs
// still converge because every write is guarded or idempotent.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		s.runLocked(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runLocked(ctx context.Context) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, "morada:scheduler:run", s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("scheduler lock unavailable, running without it", zap.Error(err))
		} else if !ok {
			s.log.Debug("scheduler run held by another instance")
			return
		} else {
			defer func() {
				if err := s.locker.Release(ctx, "morada:scheduler:run", token); err != nil {
					s.log.Warn("scheduler lock release failed", zap.Error(err))
				}
			}()
		}
	}

	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("scheduler run failed", zap.Error(err))
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty allowlist enables everything
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// GenerateChargesJob creates the current cycle's payment for every active
// member that does not have one, then registers each with the provider. A
// failing member never blocks the rest of the batch.
func (s *Scheduler) GenerateChargesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "generate_charges", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	dueDate := paymentdomain.ResolveCycleDueDate(s.clock.Now())
	targetDay := dueDate.Day()

	var jobErr error
	for {
		members, err := s.memberRepo.ListBillable(ctx, s.db, targetDay, dueDate, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.member.list.failed", "generate_charges", 0, err)
			return errors.Join(jobErr, err)
		}

		// members that failed FindOrCreateForCycle reappear in the next
		// query; bail out of the loop once nothing new materializes
		progressed := false
		for _, member := range members {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}

			payment, created, err := s.paymentSvc.FindOrCreateForCycle(ctx, member, dueDate)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "scheduler.charge.create.failed", "generate_charges", member.ID, err)
				continue
			}
			if created {
				progressed = true
				run.AddProcessed(1)
				s.log.Info("payment generated",
					zap.Stringer("payment_id", payment.ID),
					zap.Stringer("member_id", member.ID),
					zap.Time("due_date", dueDate),
				)
			}

			if err := s.paymentSvc.EnsureProviderCharge(ctx, payment, member); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "scheduler.provider.charge.failed", "generate_charges", member.ID, err,
					zap.Stringer("payment_id", payment.ID),
				)
			}
		}

		if len(members) < s.cfg.BatchSize || !progressed {
			break
		}
	}

	return errors.Join(jobErr, s.retryMissingProviderCharges(ctx, run))
}

// retryMissingProviderCharges picks up payments whose provider registration
// failed on an earlier run. Members with a payment row are no longer billable,
// so this is the only path that retries charge creation.
func (s *Scheduler) retryMissingProviderCharges(ctx context.Context, run *jobRun) error {
	payments, err := s.repo.ListMissingProviderCharge(ctx, s.db, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(run, "scheduler.provider.retry.list.failed", "generate_charges", 0, err)
		return err
	}

	var jobErr error
	for _, payment := range payments {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		member, err := s.memberRepo.FindByID(ctx, s.db, payment.MemberID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(run, "scheduler.provider.retry.failed", "generate_charges", payment.MemberID, err,
				zap.Stringer("payment_id", payment.ID),
			)
			continue
		}
		if err := s.paymentSvc.EnsureProviderCharge(ctx, payment, member); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(run, "scheduler.provider.retry.failed", "generate_charges", payment.MemberID, err,
				zap.Stringer("payment_id", payment.ID),
			)
		}
	}
	return jobErr
}

// OverdueSweepJob flips pending payments whose due date has passed. The
// cutoff is the start of today so a payment is pending through its entire
// due date.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "overdue_sweep", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	now := s.clock.Now()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, err := s.repo.MarkOverdueBefore(ctx, s.db, cutoff, now)
	if err != nil {
		s.logSchedulerError(run, "scheduler.overdue.sweep.failed", "overdue_sweep", 0, err)
		return err
	}
	run.AddProcessed(int(count))
	if count > 0 {
		s.log.Info("payments marked overdue", zap.Int64("count", count))
	}
	return nil
}

// ReconcileJob polls the provider for every open payment whose due date is
// within the window on either side of now, so early settlements ahead of the
// due date are caught too. This is the safety net for webhooks that never
// arrived.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "reconcile", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	now := s.clock.Now()
	payments, err := s.repo.ListForReconciliation(ctx, s.db, now.Add(-s.cfg.ReconcileWindow), now.Add(s.cfg.ReconcileWindow))
	if err != nil {
		s.logSchedulerError(run, "scheduler.reconcile.list.failed", "reconcile", 0, err)
		return err
	}

	var jobErr error
	for _, payment := range payments {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		charge, err := s.gateway.GetCharge(ctx, payment.ProviderChargeID)
		if s.obsMetrics != nil {
			result := "ok"
			if err != nil {
				result = "error"
			}
			s.obsMetrics.IncProviderCall("get_charge", result)
		}
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(run, "scheduler.reconcile.fetch.failed", "reconcile", payment.MemberID, err,
				zap.Stringer("payment_id", payment.ID),
				zap.String("charge_id", payment.ProviderChargeID),
			)
			continue
		}

		changed, err := s.paymentSvc.ApplyProviderStatus(ctx, payment, charge.Status, ciabra.ParsePaidAt(charge.PaidAt))
		if err != nil {
			if errors.Is(err, paymentdomain.ErrInvalidTransition) {
				s.log.Warn("reconcile transition not allowed",
					zap.Stringer("payment_id", payment.ID),
					zap.String("local_status", payment.Status),
					zap.String("provider_status", charge.Status),
				)
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(run, "scheduler.reconcile.apply.failed", "reconcile", payment.MemberID, err,
				zap.Stringer("payment_id", payment.ID),
			)
			continue
		}
		if changed {
			run.AddProcessed(1)
		}
	}
	return jobErr
}
