package payment

import (
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/payment/adapters"
	"github.com/smallbiznis/phage/internal/payment/adapters/dodo"
	"github.com/smallbiznis/phage/internal/payment/checkout"
	"github.com/smallbiznis/phage/internal/payment/repository"
	"github.com/smallbiznis/phage/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(clk clock.Clock) *adapters.Registry {
		return adapters.NewRegistry(
			dodo.NewFactory(clk),
		)
	}),
	fx.Provide(checkout.New),
	fx.Provide(webhook.NewService),
)
