package scheduler

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	"go.uber.org/zap"
)

const jobSubmit = "submit_job"

// SubmitFunc forwards one simulation to the compute API.
type SubmitFunc func(ctx context.Context, id snowflake.ID) error

// Dispatcher is a bounded in-process queue drained by a fixed worker pool.
// Items that do not fit are left for the poller's pending sweep.
type Dispatcher struct {
	log     *zap.Logger
	cfg     Config
	metrics *obsmetrics.JobMetrics

	queue chan snowflake.ID

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(cfg Config, log *zap.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		log:     log.Named("scheduler.dispatcher"),
		cfg:     cfg,
		metrics: obsmetrics.Jobs(),
		queue:   make(chan snowflake.ID, cfg.QueueSize),
	}
}

// Dispatch enqueues id without blocking. It reports false when the queue is
// full or the dispatcher has stopped.
func (d *Dispatcher) Dispatch(id snowflake.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	select {
	case d.queue <- id:
		d.metrics.SetQueueDepth(len(d.queue))
		return true
	default:
		d.metrics.IncBatchDeferred(jobSubmit, obsmetrics.BatchDeferredQueueFull)
		return false
	}
}

// Start launches the workers. Each submission gets its own timeout derived
// from ctx.
func (d *Dispatcher) Start(ctx context.Context, submit SubmitFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrDispatcherStarted
	}
	if submit == nil {
		return ErrInvalidConfig
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, submit)
	}
	return nil
}

// Stop refuses new work, cancels in-flight submissions and waits for the
// workers. Queued ids stay pending for the sweep.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, submit SubmitFunc) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.metrics.SetQueueDepth(len(d.queue))
			d.run(ctx, id, submit)
		}
	}
}

func (d *Dispatcher) run(parent context.Context, id snowflake.ID, submit SubmitFunc) {
	ctx, cancel := context.WithTimeout(parent, d.cfg.SubmitTimeout)
	defer cancel()

	d.metrics.IncJobRun(jobSubmit)
	if err := submit(ctx, id); err != nil {
		d.metrics.IncJobError(jobSubmit, err)
		// SubmitJob logs its own failures.
		d.log.Debug("background submission failed",
			zap.String("simulation_id", id.String()),
			zap.String("reason", obsmetrics.ClassifyJobReason(err)),
			zap.Error(err),
		)
		return
	}
	d.metrics.AddBatchProcessed(jobSubmit, "simulations", 1)
}
