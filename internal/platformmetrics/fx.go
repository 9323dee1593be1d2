package platformmetrics

import (
	"context"
	"time"

	"github.com/smallbiznis/phage/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultInterval = 15 * time.Minute

var Module = fx.Module("platform.metrics",
	fx.Provide(NewPusher),
	fx.Invoke(Register),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Pusher    Pusher `optional:"true"`
}

// Worker refreshes the collector and pushes it on a fixed interval.
type Worker struct {
	collector *Collector
	pusher    Pusher
	interval  time.Duration
	log       *zap.Logger
}

func NewWorker(collector *Collector, pusher Pusher, interval time.Duration, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{collector: collector, pusher: pusher, interval: interval, log: log}
}

// PushOnce refreshes gauges and pushes them. Errors are logged only.
func (w *Worker) PushOnce(ctx context.Context) {
	if err := w.collector.Refresh(ctx); err != nil {
		w.log.Warn("platform metrics refresh failed", zap.Error(err))
	}
	if err := w.pusher.Push(ctx, w.collector.Registry()); err != nil {
		w.log.Error("platform metrics push failed", zap.Error(err))
	}
}

func (w *Worker) Run(ctx context.Context) {
	w.PushOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.PushOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func Register(p Params) {
	if p.Pusher == nil {
		return
	}
	log := p.Log.Named("platform.metrics")
	worker := NewWorker(
		NewCollector(p.DB, p.Config.AppName, p.Config.AppVersion),
		p.Pusher,
		p.Config.PlatformMetrics.Interval,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting platform metrics worker", zap.Duration("interval", worker.interval))
			go func() {
				defer close(done)
				worker.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			log.Info("stopped platform metrics worker")
			return nil
		},
	})
}
