package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/phage/internal/observability/context"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"go.uber.org/zap"
)

// sweep accumulates what one scheduler job did so it can be reported as a
// single log line when the job ends.
type sweep struct {
	job       string
	id        string
	batchSize int
	started   time.Time
	counts    simdomain.RefreshResult
	errors    int
}

type sweepKey struct{}

func (w *sweep) record(result simdomain.RefreshResult) {
	if w == nil {
		return
	}
	w.counts.Submitted += result.Submitted
	w.counts.Polled += result.Polled
	w.counts.Skipped += result.Skipped
	w.counts.Failed += result.Failed
	w.errors += result.Failed
}

func (w *sweep) fail() {
	if w != nil && w.errors == 0 {
		w.errors = 1
	}
}

func (w *sweep) fields(now time.Time) []zap.Field {
	return []zap.Field{
		zap.String("job", w.job),
		zap.String("sweep_id", w.id),
		zap.Int("batch_size", w.batchSize),
		zap.Int64("duration_ms", now.Sub(w.started).Milliseconds()),
		zap.Int("submitted", w.counts.Submitted),
		zap.Int("polled", w.counts.Polled),
		zap.Int("skipped", w.counts.Skipped),
		zap.Int("failed", w.counts.Failed),
	}
}

// beginSweep attaches a sweep to ctx unless an outer job already owns one.
// The returned bool reports whether the caller owns the sweep.
func (s *Scheduler) beginSweep(ctx context.Context, job string, batchSize int) (context.Context, *sweep, bool) {
	if current := sweepFromContext(ctx); current != nil {
		return ctx, current, false
	}
	w := &sweep{
		job:       job,
		id:        s.genID.Generate().String(),
		batchSize: batchSize,
		started:   s.clock.Now(),
	}
	ctx = context.WithValue(ctx, sweepKey{}, w)
	ctx = obscontext.WithRequestID(ctx, "sweep-"+w.id)
	s.logger(ctx).Debug("scheduler sweep started", zap.String("job", job), zap.Int("batch_size", batchSize))
	return ctx, w, true
}

func sweepFromContext(ctx context.Context) *sweep {
	if ctx == nil {
		return nil
	}
	w, _ := ctx.Value(sweepKey{}).(*sweep)
	return w
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) endSweep(ctx context.Context, w *sweep) {
	fields := w.fields(s.clock.Now())
	if w.errors > 0 {
		s.logger(ctx).Warn("scheduler sweep finished with failures", fields...)
		return
	}
	s.logger(ctx).Info("scheduler sweep finished", fields...)
}

func (s *Scheduler) logSweepError(ctx context.Context, w *sweep, err error) {
	s.logger(ctx).Error("scheduler sweep failed",
		zap.String("job", w.job),
		zap.String("sweep_id", w.id),
		zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsJobErrorRetryable(err)),
		zap.Error(err),
	)
}
