package balances

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestApplyDeltasDeposit(t *testing.T) {
	b := zeroBalance("u1", "USD")
	b.Total = dec(t, "100")
	b.Available = dec(t, "100")

	next, err := applyDeltas(b, dec(t, "50"), dec(t, "50"), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.Total.Equal(dec(t, "150")) || !next.Available.Equal(dec(t, "150")) || !next.Locked.IsZero() {
		t.Fatalf("unexpected triple: %s/%s/%s", next.Total, next.Available, next.Locked)
	}
}

func TestApplyDeltasInsufficientFunds(t *testing.T) {
	b := zeroBalance("u1", "USD")
	b.Total = dec(t, "150")
	b.Available = dec(t, "150")

	_, err := applyDeltas(b, dec(t, "-200"), dec(t, "-200"), decimal.Zero)
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestApplyDeltasLockRelease(t *testing.T) {
	b := zeroBalance("u1", "BTC")
	b.Total = dec(t, "10")
	b.Available = dec(t, "6")
	b.Locked = dec(t, "4")

	// Move 4 from locked back to available; total unchanged.
	next, err := applyDeltas(b, decimal.Zero, dec(t, "4"), dec(t, "-4"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.Total.Equal(dec(t, "10")) || !next.Available.Equal(dec(t, "10")) || !next.Locked.IsZero() {
		t.Fatalf("unexpected triple: %s/%s/%s", next.Total, next.Available, next.Locked)
	}
}

func TestApplyDeltasNegativeLocked(t *testing.T) {
	b := zeroBalance("u1", "BTC")
	b.Total = dec(t, "1")
	b.Available = dec(t, "1")

	_, err := applyDeltas(b, dec(t, "-1"), decimal.Zero, dec(t, "-1"))
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestApplyDeltasMismatchedDeltas(t *testing.T) {
	b := zeroBalance("u1", "USD")

	_, err := applyDeltas(b, dec(t, "10"), dec(t, "5"), decimal.Zero)
	if !errors.Is(err, apperr.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestApplyDeltasKeepsInvariant(t *testing.T) {
	b := zeroBalance("u9", "EUR")
	b.Total = dec(t, "33.5")
	b.Available = dec(t, "30")
	b.Locked = dec(t, "3.5")

	cases := [][3]string{
		{"12.25", "12.25", "0"},
		{"-3.5", "0", "-3.5"},
		{"0", "-5", "5"},
	}
	for _, c := range cases {
		next, err := applyDeltas(b, dec(t, c[0]), dec(t, c[1]), dec(t, c[2]))
		if err != nil {
			t.Fatalf("deltas %v: %v", c, err)
		}
		if !next.Total.Equal(next.Available.Add(next.Locked)) {
			t.Fatalf("deltas %v broke invariant: %s != %s + %s", c, next.Total, next.Available, next.Locked)
		}
		b = next
	}
}
