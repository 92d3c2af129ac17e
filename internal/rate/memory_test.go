package rate

import (
	"context"
	"testing"
	"time"

	"fx-ledger/internal/types"
)

func testBudgets() Budgets {
	return Budgets{
		types.EndpointClassAuth: {Limit: 5, Window: time.Minute},
		types.EndpointClassInfo: {Limit: 100, Window: time.Minute},
	}
}

func TestMemoryCounterWindow(t *testing.T) {
	c := NewMemoryCounter(testBudgets())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		allowed, _, err := c.Allow(ctx, "u1", types.EndpointClassAuth, now)
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := c.Allow(ctx, "u1", types.EndpointClassAuth, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("6th request in window should be rejected")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected retryAfter > 0, got %v", retryAfter)
	}

	// Window rollover readmits.
	later := now.Add(61 * time.Second)
	allowed, _, err = c.Allow(ctx, "u1", types.EndpointClassAuth, later)
	if err != nil || !allowed {
		t.Fatal("request after window rollover should be allowed")
	}
}

func TestMemoryCounterClassesAreIndependent(t *testing.T) {
	c := NewMemoryCounter(testBudgets())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		if allowed, _, _ := c.Allow(ctx, "u1", types.EndpointClassAuth, now); !allowed {
			t.Fatalf("auth request %d should be allowed", i+1)
		}
	}
	if allowed, _, _ := c.Allow(ctx, "u1", types.EndpointClassAuth, now); allowed {
		t.Fatal("auth budget should be exhausted")
	}
	if allowed, _, _ := c.Allow(ctx, "u1", types.EndpointClassInfo, now); !allowed {
		t.Fatal("info budget must not share the auth counter")
	}
}

func TestMemoryCounterKeysAreIndependent(t *testing.T) {
	c := NewMemoryCounter(testBudgets())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		c.Allow(ctx, "u1", types.EndpointClassAuth, now)
	}
	if allowed, _, _ := c.Allow(ctx, "u2", types.EndpointClassAuth, now); !allowed {
		t.Fatal("another caller must have its own counter")
	}
}
