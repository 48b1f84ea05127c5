package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/moradacoop/morada/internal/auth"
	"github.com/moradacoop/morada/internal/ciabra"
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	"github.com/moradacoop/morada/internal/member"
	"github.com/moradacoop/morada/internal/migration"
	obsmetrics "github.com/moradacoop/morada/internal/observability/metrics"
	"github.com/moradacoop/morada/internal/payment"
	"github.com/moradacoop/morada/internal/ratelimit"
	"github.com/moradacoop/morada/internal/scheduler"
	"github.com/moradacoop/morada/internal/seed"
	"github.com/moradacoop/morada/internal/server"
	"github.com/moradacoop/morada/internal/tasks"
	"github.com/moradacoop/morada/pkg/db"
	"github.com/moradacoop/morada/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		obsmetrics.Module,
		migration.Module,
		tasks.Module,

		// domain
		ciabra.Module,
		member.Module,
		seed.Module,
		payment.Module,
		scheduler.Module,

		// http surface
		auth.Module,
		ratelimit.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return node
}
