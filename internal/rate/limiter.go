// Package rate bounds request rates per caller and endpoint class. The
// shared redis counter is authoritative; a redis outage degrades to an
// in-process counter rather than blocking traffic or dropping
// enforcement.
package rate

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"fx-ledger/internal/types"
)

type Budget struct {
	Limit  int
	Window time.Duration
}

type Budgets map[types.EndpointClass]Budget

type counter interface {
	Allow(ctx context.Context, key string, class types.EndpointClass, now time.Time) (bool, time.Duration, error)
}

type Limiter struct {
	shared   counter
	fallback *MemoryCounter
	logger   *slog.Logger
	degraded atomic.Bool
}

// NewLimiter builds the failover pair. shared may be nil, in which case
// only the in-process counter enforces (single-instance deployments).
func NewLimiter(shared *RedisCounter, budgets Budgets, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{fallback: NewMemoryCounter(budgets), logger: logger}
	if shared != nil {
		l.shared = shared
	}
	return l
}

// Allow admits or rejects one request. Store errors never propagate to
// the caller: the decision falls back to the in-process counter and the
// degradation is logged once per outage.
func (l *Limiter) Allow(ctx context.Context, key string, class types.EndpointClass) (bool, time.Duration) {
	now := time.Now()
	if l.shared != nil {
		allowed, retryAfter, err := l.shared.Allow(ctx, key, class, now)
		if err == nil {
			if l.degraded.CompareAndSwap(true, false) {
				l.logger.Info("rate limit store recovered, leaving in-process fallback")
			}
			return allowed, retryAfter
		}
		if l.degraded.CompareAndSwap(false, true) {
			l.logger.Warn("rate limit store unreachable, degrading to in-process counters", "error", err)
		}
	}
	allowed, retryAfter, _ := l.fallback.Allow(ctx, key, class, now)
	return allowed, retryAfter
}
