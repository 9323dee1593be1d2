package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/clock"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	batch  int
	result simdomain.RefreshResult
	err    error
}

func (f *fakeRefresher) RefreshActive(_ context.Context, batchSize int) (simdomain.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batch = batchSize
	return f.result, f.err
}

func newTestScheduler(t *testing.T, refresher Refresher) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &Scheduler{
		log:       zap.NewNop(),
		cfg:       Config{BatchSize: 7}.withDefaults(),
		genID:     node,
		clock:     clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		refresher: refresher,
	}
}

func TestRunJobTimeoutDoesNotReturnError(t *testing.T) {
	s := newTestScheduler(t, &fakeRefresher{})
	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestRunJobWrapsErrors(t *testing.T) {
	s := newTestScheduler(t, &fakeRefresher{})
	boom := errors.New("boom")
	err := s.runJob(context.Background(), "failing_job", 0, time.Second, func(context.Context) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestRunOncePassesBatchSizeAndResult(t *testing.T) {
	refresher := &fakeRefresher{result: simdomain.RefreshResult{Submitted: 1, Polled: 2, Skipped: 1}}
	s := newTestScheduler(t, refresher)

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, refresher.batch)
	assert.Equal(t, refresher.result, result)
}

func TestRunOnceReturnsRefreshErrors(t *testing.T) {
	refresher := &fakeRefresher{
		result: simdomain.RefreshResult{Polled: 1, Failed: 1},
		err:    errors.New("compute unavailable"),
	}
	s := newTestScheduler(t, refresher)

	result, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), jobRefreshActive)
	assert.Equal(t, 1, result.Failed)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	refresher := &fakeRefresher{}
	s := newTestScheduler(t, refresher)
	s.cfg.RunInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		refresher.mu.Lock()
		defer refresher.mu.Unlock()
		return refresher.calls == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueSize)
}

func TestRunOnceLogsSweepSummary(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	refresher := &fakeRefresher{result: simdomain.RefreshResult{Submitted: 2, Polled: 3, Failed: 1}}
	s := newTestScheduler(t, refresher)
	s.log = zap.New(core)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	finished := logs.FilterMessage("scheduler sweep finished with failures").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	assert.Equal(t, jobRefreshActive, fields["job"])
	assert.EqualValues(t, 2, fields["submitted"])
	assert.EqualValues(t, 3, fields["polled"])
	assert.EqualValues(t, 1, fields["failed"])
	assert.Contains(t, fields["request_id"], "sweep-")
}
