package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"fx-ledger/internal/types"
)

func TestRedisCounterWindow(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	budgets := Budgets{types.EndpointClassAuth: {Limit: 5, Window: 500 * time.Millisecond}}
	c := NewRedisCounter(client, budgets, "test:")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _, err := c.Allow(ctx, "ip", types.EndpointClassAuth, time.Now())
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed, err=%v", i+1, err)
		}
	}

	allowed, retryAfter, err := c.Allow(ctx, "ip", types.EndpointClassAuth, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("6th request should be rejected")
	}
	if retryAfter <= 0 {
		t.Fatal("expected retryAfter > 0")
	}

	s.FastForward(600 * time.Millisecond)
	allowed, _, err = c.Allow(ctx, "ip", types.EndpointClassAuth, time.Now())
	if err != nil || !allowed {
		t.Fatal("request after window rollover should be allowed")
	}
}

func TestRedisCounterUnknownClass(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	c := NewRedisCounter(client, Budgets{}, "test:")
	if _, _, err := c.Allow(context.Background(), "ip", types.EndpointClassAuth, time.Now()); err == nil {
		t.Fatal("expected error for class without budget")
	}
}

func TestLimiterFailsOverToMemory(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	budgets := Budgets{types.EndpointClassAuth: {Limit: 2, Window: time.Minute}}
	lim := NewLimiter(NewRedisCounter(client, budgets, "test:"), budgets, nil)
	ctx := context.Background()

	if allowed, _ := lim.Allow(ctx, "ip", types.EndpointClassAuth); !allowed {
		t.Fatal("first request should be allowed")
	}

	// Kill the shared store: enforcement must continue in-process, not
	// fail closed and not disable.
	s.Close()

	if allowed, _ := lim.Allow(ctx, "ip", types.EndpointClassAuth); !allowed {
		t.Fatal("fallback should admit within budget")
	}
	if allowed, _ := lim.Allow(ctx, "ip", types.EndpointClassAuth); !allowed {
		t.Fatal("fallback should admit second request")
	}
	if allowed, _ := lim.Allow(ctx, "ip", types.EndpointClassAuth); allowed {
		t.Fatal("fallback should still enforce the budget")
	}
}
