package rate

import (
	"context"
	"sync"
	"time"

	"fx-ledger/internal/types"
)

// MemoryCounter is the in-process fallback used while the shared store
// is unreachable. Same budgets, same semantics, local visibility only.
type MemoryCounter struct {
	mu          sync.Mutex
	budgets     Budgets
	entries     map[string]*windowEntry
	lastCleanup time.Time
}

type windowEntry struct {
	count int
	reset time.Time
}

func NewMemoryCounter(budgets Budgets) *MemoryCounter {
	return &MemoryCounter{
		budgets:     budgets,
		entries:     map[string]*windowEntry{},
		lastCleanup: time.Now(),
	}
}

func (c *MemoryCounter) Allow(_ context.Context, key string, class types.EndpointClass, now time.Time) (bool, time.Duration, error) {
	budget, ok := c.budgets[class]
	if !ok {
		return false, 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastCleanup) >= budget.Window {
		for k, v := range c.entries {
			if now.After(v.reset) {
				delete(c.entries, k)
			}
		}
		c.lastCleanup = now
	}

	entryKey := string(class) + ":" + key
	e, ok := c.entries[entryKey]
	if !ok || now.After(e.reset) {
		c.entries[entryKey] = &windowEntry{count: 1, reset: now.Add(budget.Window)}
		return true, 0, nil
	}

	if e.count >= budget.Limit {
		retryAfter := e.reset.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	e.count++
	return true, 0, nil
}
