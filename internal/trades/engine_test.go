package trades

import (
	"testing"

	"github.com/shopspring/decimal"

	"fx-ledger/internal/currencies"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/types"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func btcUsd() currencies.Pair {
	return currencies.Pair{
		Symbol:        "BTC-USD",
		BaseCode:      "BTC",
		QuoteCode:     "USD",
		QuoteDecimals: 2,
		IsActive:      true,
	}
}

func TestComputeFeeRoundsHalfEven(t *testing.T) {
	rate := dec(t, "0.0025")
	cases := []struct {
		total string
		want  string
	}{
		{"20000", "50"},
		// 50 * 0.0025 = 0.125: half-even rounds down to the even cent.
		{"50", "0.12"},
		// 54 * 0.0025 = 0.135: half-even rounds up to the even cent.
		{"54", "0.14"},
		{"0", "0"},
	}
	for _, c := range cases {
		got := computeFee(dec(t, c.total), rate, 2)
		if !got.Equal(dec(t, c.want)) {
			t.Fatalf("fee(%s) = %s, want %s", c.total, got, c.want)
		}
	}
}

func TestBuildLegsBuy(t *testing.T) {
	req := Request{UserID: "u1", Pair: "BTC-USD", Side: types.TradeSideBuy, Amount: dec(t, "1"), Price: dec(t, "20000")}
	total := dec(t, "20000")
	fee := dec(t, "50")

	legs := buildLegs(req, btcUsd(), total, fee)
	if len(legs) != 3 {
		t.Fatalf("expected 3 legs, got %d", len(legs))
	}

	// Deterministic lock order: BTC before USD.
	if legs[0].CurrencyCode != "BTC" {
		t.Fatalf("expected BTC leg first, got %s", legs[0].CurrencyCode)
	}

	var net = map[string]decimal.Decimal{}
	for _, l := range legs {
		cur := net[l.CurrencyCode]
		net[l.CurrencyCode] = cur.Add(l.TotalDelta)
		if !l.TotalDelta.Equal(l.AvailableDelta.Add(l.LockedDelta)) {
			t.Fatalf("leg %s breaks delta invariant", l.CurrencyCode)
		}
	}
	if !net["BTC"].Equal(dec(t, "1")) {
		t.Fatalf("net BTC = %s, want 1", net["BTC"])
	}
	if !net["USD"].Equal(dec(t, "-20050")) {
		t.Fatalf("net USD = %s, want -20050", net["USD"])
	}
}

func TestBuildLegsSellCreditsBeforeFee(t *testing.T) {
	req := Request{UserID: "u1", Pair: "BTC-USD", Side: types.TradeSideSell, Amount: dec(t, "1"), Price: dec(t, "20000")}
	legs := buildLegs(req, btcUsd(), dec(t, "20000"), dec(t, "50"))

	// Within USD the sale credit must apply before the fee debit, or a
	// seller with an empty quote balance would be rejected.
	var usd []ledger.LegSpec
	for _, l := range legs {
		if l.CurrencyCode == "USD" {
			usd = append(usd, l)
		}
	}
	if len(usd) != 2 {
		t.Fatalf("expected 2 USD legs, got %d", len(usd))
	}
	if !usd[0].TotalDelta.Equal(dec(t, "20000")) {
		t.Fatalf("expected USD credit first, got %s", usd[0].TotalDelta)
	}
	if !usd[1].TotalDelta.Equal(dec(t, "-50")) {
		t.Fatalf("expected fee debit second, got %s", usd[1].TotalDelta)
	}
	if usd[1].Type != types.TransactionTypeFee {
		t.Fatalf("expected fee leg type, got %s", usd[1].Type)
	}
}

func TestBuildLegsLockOrderIsSorted(t *testing.T) {
	pair := currencies.Pair{Symbol: "ETH-BTC", BaseCode: "ETH", QuoteCode: "BTC", QuoteDecimals: 8, IsActive: true}
	req := Request{UserID: "u1", Pair: "ETH-BTC", Side: types.TradeSideBuy, Amount: dec(t, "10"), Price: dec(t, "0.05")}
	legs := buildLegs(req, pair, dec(t, "0.5"), dec(t, "0.00125"))

	for i := 1; i < len(legs); i++ {
		if legs[i].CurrencyCode < legs[i-1].CurrencyCode {
			t.Fatalf("legs not in currency order: %s before %s", legs[i-1].CurrencyCode, legs[i].CurrencyCode)
		}
	}
}

func TestIndexLegs(t *testing.T) {
	req := Request{UserID: "u1", Pair: "BTC-USD", Side: types.TradeSideBuy, Amount: dec(t, "1"), Price: dec(t, "20000")}
	legs := buildLegs(req, btcUsd(), dec(t, "20000"), dec(t, "50"))

	recorded := make([]ledger.Transaction, len(legs))
	for i, l := range legs {
		recorded[i] = ledger.Transaction{ID: "tx-" + l.CurrencyCode + "-" + string(l.Type), Type: l.Type, CurrencyCode: l.CurrencyCode}
	}

	idx := indexLegs(legs, recorded)
	if idx.base != "tx-BTC-trade_leg" {
		t.Fatalf("base leg = %s", idx.base)
	}
	if idx.quote != "tx-USD-trade_leg" {
		t.Fatalf("quote leg = %s", idx.quote)
	}
	if idx.fee != "tx-USD-fee" {
		t.Fatalf("fee leg = %s", idx.fee)
	}
}

func TestNormalize(t *testing.T) {
	req := normalize(Request{Pair: " btc-usd ", Side: "BUY", IdempotencyKey: " k1 "})
	if req.Pair != "BTC-USD" || req.Side != types.TradeSideBuy || req.IdempotencyKey != "k1" {
		t.Fatalf("unexpected normalization: %+v", req)
	}
}
