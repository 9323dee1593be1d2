package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/phage/internal/clock"
)

const memorySweepEvery = 1024

// MemoryWindow is a per-process fixed-window counter used when redis is
// not configured. Each key admits burst requests per burst/rate window.
type MemoryWindow struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string]*window
	calls   int
}

type window struct {
	start time.Time
	end   time.Time
	count int
}

func NewMemoryWindow(clk clock.Clock) *MemoryWindow {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryWindow{clock: clk, windows: map[string]*window{}}
}

func (m *MemoryWindow) Allow(_ context.Context, key string, rate float64, burst int) (*Result, error) {
	if err := validateLimit(key, rate, burst); err != nil {
		return &Result{Allowed: false}, err
	}
	length := time.Duration(float64(burst) / rate * float64(time.Second))
	if length <= 0 {
		length = time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.calls++
	if m.calls%memorySweepEvery == 0 {
		m.sweep(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.end) {
		w = &window{start: now, end: now.Add(length)}
		m.windows[key] = w
	}

	if w.count >= burst {
		return &Result{
			Allowed:    false,
			Limit:      burst,
			Remaining:  0,
			ResetTime:  w.end,
			RetryAfter: w.end.Sub(now),
		}, nil
	}
	w.count++
	return &Result{
		Allowed:   true,
		Limit:     burst,
		Remaining: burst - w.count,
		ResetTime: w.end,
	}, nil
}

func (m *MemoryWindow) sweep(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.end) {
			delete(m.windows, key)
		}
	}
}
