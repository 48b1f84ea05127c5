package payment

import (
	"github.com/moradacoop/morada/internal/payment/repository"
	paymentservice "github.com/moradacoop/morada/internal/payment/service"
	"github.com/moradacoop/morada/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
