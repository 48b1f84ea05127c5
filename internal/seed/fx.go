package seed

import (
	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	memberdomain "github.com/moradacoop/morada/internal/member/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(func(db *gorm.DB, node *snowflake.Node, repo memberdomain.Repository, clk clock.Clock, cfg config.Config, log *zap.Logger) error {
		return EnsureAdminMember(db, node, repo, clk, cfg, log.Named("seed"))
	}),
)
