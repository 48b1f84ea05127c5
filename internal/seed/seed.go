package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	memberdomain "github.com/moradacoop/morada/internal/member/domain"
	pkgdb "github.com/moradacoop/morada/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EnsureAdminMember inserts the bootstrap administrator when no member holds
// the configured email yet. Administrators are excluded from billing, so the
// account never receives charges. Reruns are no-ops.
func EnsureAdminMember(db *gorm.DB, node *snowflake.Node, repo memberdomain.Repository, clk clock.Clock, cfg config.Config, log *zap.Logger) error {
	email := strings.ToLower(cfg.Seed.AdminEmail)
	if email == "" {
		return nil
	}
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	existing, err := repo.FindByEmail(ctx, db, email)
	if err != nil && !errors.Is(err, memberdomain.ErrMemberNotFound) {
		return err
	}
	if existing != nil {
		return nil
	}

	now := clk.Now()
	admin := &memberdomain.Member{
		ID:         node.Generate(),
		Name:       cfg.Seed.AdminName,
		Email:      email,
		BillingDay: 10,
		Active:     true,
		Admin:      true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Insert(ctx, db, admin); err != nil {
		// another instance booting at the same time won the insert
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	log.Info("seeded administrator account",
		zap.Stringer("member_id", admin.ID),
		zap.String("email", email),
	)
	return nil
}
