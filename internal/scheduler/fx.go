package scheduler

import (
	"context"

	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(NewDispatcher),
	fx.Provide(func(d *Dispatcher) simdomain.Dispatcher { return d }),
	fx.Provide(New),
	fx.Invoke(StartDispatcher),
	fx.Invoke(StartPoller),
)

func StartDispatcher(lc fx.Lifecycle, d *Dispatcher, svc simdomain.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return d.Start(context.Background(), svc.SubmitJob)
		},
		OnStop: func(context.Context) error {
			d.Stop()
			return nil
		},
	})
}

func StartPoller(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
