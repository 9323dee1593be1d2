package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/phage/internal/config"
)

const (
	PolicyContact  = "contact"
	PolicyCheckout = "checkout"
	PolicyAuth     = "auth"
)

const keyPattern = "phage:ratelimit:%s:%s"

type Policy struct {
	Rate  float64
	Burst int
}

type backend interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error)
}

// Limiter applies named per-client policies backed by redis or, without
// redis, an in-process window.
type Limiter struct {
	enabled  bool
	backend  backend
	policies map[string]Policy
}

func NewLimiter(cfg config.Config, bucket *TokenBucket, memory *MemoryWindow) *Limiter {
	limitCfg := cfg.RateLimit
	policies := map[string]Policy{
		PolicyContact:  {Rate: limitCfg.ContactRate, Burst: limitCfg.ContactBurst},
		PolicyCheckout: {Rate: limitCfg.CheckoutRate, Burst: limitCfg.CheckoutBurst},
		PolicyAuth:     {Rate: limitCfg.AuthRate, Burst: limitCfg.AuthBurst},
	}

	var b backend = memory
	if bucket != nil {
		b = bucket
	}
	return &Limiter{
		enabled:  limitCfg.Enabled && b != nil,
		backend:  b,
		policies: policies,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow admits one request for client under policy. Unknown or zero
// policies always allow.
func (l *Limiter) Allow(ctx context.Context, policy, client string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	p, ok := l.policies[policy]
	if !ok || p.Rate <= 0 || p.Burst <= 0 {
		return &Result{Allowed: true}, nil
	}
	client = strings.TrimSpace(client)
	if client == "" {
		client = "unknown"
	}
	return l.backend.Allow(ctx, fmt.Sprintf(keyPattern, policy, client), p.Rate, p.Burst)
}
