package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/clock"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobRefreshActive = "refresh_active"

// Refresher is the slice of the simulation service the poller drives.
type Refresher interface {
	RefreshActive(ctx context.Context, batchSize int) (simdomain.RefreshResult, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Refresher simdomain.Service
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config `optional:"true"`
}

// Scheduler periodically submits stale pending simulations and polls the
// active ones.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	refresher Refresher
	metrics   *obsmetrics.JobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Refresher == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		refresher: p.Refresher,
		metrics:   obsmetrics.Jobs(),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, w, owner := s.beginSweep(ctx, name, batchSize)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		w.fail()
	}
	if owner {
		s.endSweep(ctx, w)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.logSweepError(ctx, w, err)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs one refresh sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (simdomain.RefreshResult, error) {
	var result simdomain.RefreshResult
	err := s.runJob(ctx, jobRefreshActive, s.cfg.BatchSize, s.cfg.JobTimeout, func(ctx context.Context) error {
		var err error
		result, err = s.RefreshActiveJob(ctx)
		return err
	})
	return result, err
}

func (s *Scheduler) RefreshActiveJob(ctx context.Context) (simdomain.RefreshResult, error) {
	result, err := s.refresher.RefreshActive(ctx, s.cfg.BatchSize)
	sweepFromContext(ctx).record(result)

	s.metrics.AddBatchProcessed(jobRefreshActive, "simulations", result.Submitted+result.Polled)
	for i := 0; i < result.Skipped; i++ {
		s.metrics.IncBatchDeferred(jobRefreshActive, obsmetrics.BatchDeferredLockHeld)
	}
	return result, err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
