package ciabra

import (
	"github.com/moradacoop/morada/internal/clock"
	"github.com/moradacoop/morada/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ciabra",
	fx.Provide(func(cfg config.Config, log *zap.Logger, clk clock.Clock) Gateway {
		return NewClient(cfg.Ciabra, log, clk)
	}),
)
