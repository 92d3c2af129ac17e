package ledger

import (
	"strings"
	"testing"
	"time"

	"fx-ledger/internal/types"
)

func TestPageClamp(t *testing.T) {
	cases := []struct {
		in   Page
		want Page
	}{
		{Page{}, Page{Offset: 0, Limit: defaultPageSize}},
		{Page{Offset: -5, Limit: -1}, Page{Offset: 0, Limit: defaultPageSize}},
		{Page{Offset: 10, Limit: 25}, Page{Offset: 10, Limit: 25}},
		{Page{Limit: 10000}, Page{Offset: 0, Limit: maxPageSize}},
	}
	for _, c := range cases {
		got := c.in.clamp()
		if got != c.want {
			t.Fatalf("clamp(%+v) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestBuildListQueryNoFilters(t *testing.T) {
	q, args := buildListQuery("u1", Filter{}, Page{Limit: 50})
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d: %v", len(args), args)
	}
	if strings.Contains(q, "AND type") || strings.Contains(q, "AND currency_code") {
		t.Fatalf("unexpected filter clauses in %q", q)
	}
	if !strings.Contains(q, "ORDER BY created_at DESC") {
		t.Fatalf("missing ordering in %q", q)
	}
}

func TestBuildListQueryAllFilters(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	f := Filter{
		Type:         types.TransactionTypeDeposit,
		CurrencyCode: "usd",
		Status:       types.TransactionStatusCompleted,
		From:         from,
		To:           to,
	}
	q, args := buildListQuery("u1", f, Page{Offset: 20, Limit: 10})
	if len(args) != 8 {
		t.Fatalf("expected 8 args, got %d: %v", len(args), args)
	}
	if args[2] != "USD" {
		t.Fatalf("currency filter not normalized: %v", args[2])
	}
	for _, clause := range []string{"AND type = $2", "AND currency_code = $3", "AND status = $4", "AND created_at >= $5", "AND created_at <= $6", "LIMIT $7", "OFFSET $8"} {
		if !strings.Contains(q, clause) {
			t.Fatalf("missing %q in %q", clause, q)
		}
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Publish(Event{Type: EventTransaction, UserID: "u1"})

	select {
	case evt := <-ch:
		if evt.UserID != "u1" || evt.Type != EventTransaction {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event on subscriber channel")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Publisher must never block, even with a saturated subscriber.
	for i := 0; i < 500; i++ {
		bus.Publish(Event{Type: EventTransaction, UserID: "u1"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected channel full at %d, got %d", cap(ch), len(ch))
	}
}
