package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcherRunsSubmissions(t *testing.T) {
	d := NewDispatcher(Config{Workers: 2, QueueSize: 10}, zap.NewNop())

	var (
		mu   sync.Mutex
		seen []snowflake.ID
	)
	submit := func(_ context.Context, id snowflake.ID) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
		if id == 2 {
			return errors.New("compute down")
		}
		return nil
	}
	require.NoError(t, d.Start(context.Background(), submit))
	defer d.Stop()

	for _, id := range []snowflake.ID{1, 2, 3} {
		assert.True(t, d.Dispatch(id))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []snowflake.ID{1, 2, 3}, seen)
	mu.Unlock()
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, zap.NewNop())

	assert.True(t, d.Dispatch(1))
	assert.False(t, d.Dispatch(2))
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, zap.NewNop())
	require.NoError(t, d.Start(context.Background(), func(context.Context, snowflake.ID) error { return nil }))

	assert.ErrorIs(t, d.Start(context.Background(), func(context.Context, snowflake.ID) error { return nil }), ErrDispatcherStarted)

	d.Stop()
	d.Stop()
	assert.False(t, d.Dispatch(1))
}

func TestDispatcherRequiresSubmitFunc(t *testing.T) {
	d := NewDispatcher(Config{}, zap.NewNop())
	assert.ErrorIs(t, d.Start(context.Background(), nil), ErrInvalidConfig)
}
