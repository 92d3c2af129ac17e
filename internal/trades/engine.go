// Package trades settles trades against the ledger. A trade posts three
// linked legs (base, quote, fee) and one trade row in a single database
// transaction; there is no partial settlement.
//
// Fee contract: the fee rate applies to the trade's total value, is
// always charged in the pair's quote currency and rounds half-even to
// the quote currency's declared decimal places.
package trades

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/balances"
	"fx-ledger/internal/currencies"
	"fx-ledger/internal/db"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

type Request struct {
	UserID string
	Pair   string
	Side   types.TradeSide
	Amount decimal.Decimal
	Price  decimal.Decimal
	// IdempotencyKey is required on Execute; retrying with the same key
	// returns the originally settled trade.
	IdempotencyKey string
}

type Trade struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	PairSymbol         string            `json:"pair_symbol"`
	Side               types.TradeSide   `json:"side"`
	Amount             decimal.Decimal   `json:"amount"`
	Price              decimal.Decimal   `json:"price"`
	TotalValue         decimal.Decimal   `json:"total_value"`
	FeeAmount          decimal.Decimal   `json:"fee_amount"`
	FeeCurrency        string            `json:"fee_currency"`
	Status             types.TradeStatus `json:"status"`
	BaseTransactionID  string            `json:"base_transaction_id"`
	QuoteTransactionID string            `json:"quote_transaction_id"`
	FeeTransactionID   string            `json:"fee_transaction_id"`
	ExternalRef        string            `json:"external_reference"`
	CreatedAt          time.Time         `json:"created_at"`
}

type BalanceProjection struct {
	CurrencyCode string          `json:"currency_code"`
	Before       decimal.Decimal `json:"before"`
	After        decimal.Decimal `json:"after"`
}

// Projection is the result of Simulate: a quote the caller can render.
// Issues lists everything that would make Execute reject the same
// request; a projection with issues carries no balance estimates.
type Projection struct {
	Pair           string                 `json:"pair"`
	Side           types.TradeSide        `json:"side"`
	Amount         decimal.Decimal        `json:"amount"`
	EstimatedPrice decimal.Decimal        `json:"estimated_price"`
	EstimatedTotal decimal.Decimal        `json:"estimated_total"`
	EstimatedFee   decimal.Decimal        `json:"estimated_fee"`
	FeeCurrency    string                 `json:"fee_currency"`
	Balances       []BalanceProjection    `json:"balances,omitempty"`
	Issues         apperr.ValidationErrors `json:"issues,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
}

type Engine struct {
	pool        *pgxpool.Pool
	balances    *balances.Service
	ledgerSvc   *ledger.Service
	currSvc     *currencies.Service
	userSvc     *users.Service
	logger      *slog.Logger
	metrics     *ledger.Metrics
	feeRate     decimal.Decimal
	lockTimeout time.Duration
}

func NewEngine(pool *pgxpool.Pool, bal *balances.Service, ledgerSvc *ledger.Service, currSvc *currencies.Service, userSvc *users.Service, logger *slog.Logger, metrics *ledger.Metrics, feeRate decimal.Decimal, lockTimeout time.Duration) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Engine{
		pool:        pool,
		balances:    bal,
		ledgerSvc:   ledgerSvc,
		currSvc:     currSvc,
		userSvc:     userSvc,
		logger:      logger,
		metrics:     metrics,
		feeRate:     feeRate,
		lockTimeout: lockTimeout,
	}
}

// Simulate validates the request and projects the settled balances
// without writing anything. Validation problems come back as Issues on
// the projection so callers can render a quote with its objections.
func (e *Engine) Simulate(ctx context.Context, req Request) (Projection, error) {
	req = normalize(req)
	proj := Projection{Pair: req.Pair, Side: req.Side, Amount: req.Amount, EstimatedPrice: req.Price}

	pair, issues, err := e.validate(ctx, req, false)
	if err != nil {
		return Projection{}, err
	}
	proj.Issues = issues
	if len(issues) > 0 {
		return proj, nil
	}

	total, fee := e.priceOut(req, pair)
	proj.EstimatedTotal = total
	proj.EstimatedFee = fee
	proj.FeeCurrency = pair.QuoteCode

	base, err := e.balances.Get(ctx, req.UserID, pair.BaseCode)
	if err != nil {
		return Projection{}, err
	}
	quote, err := e.balances.Get(ctx, req.UserID, pair.QuoteCode)
	if err != nil {
		return Projection{}, err
	}

	var baseAfter, quoteAfter decimal.Decimal
	if req.Side == types.TradeSideBuy {
		baseAfter = base.Total.Add(req.Amount)
		quoteAfter = quote.Total.Sub(total).Sub(fee)
		if quote.Available.LessThan(total.Add(fee)) {
			proj.Issues = append(proj.Issues, apperr.Validation("amount",
				fmt.Sprintf("insufficient %s: need %s, available %s", pair.QuoteCode, total.Add(fee), quote.Available)))
		}
	} else {
		baseAfter = base.Total.Sub(req.Amount)
		quoteAfter = quote.Total.Add(total).Sub(fee)
		if base.Available.LessThan(req.Amount) {
			proj.Issues = append(proj.Issues, apperr.Validation("amount",
				fmt.Sprintf("insufficient %s: need %s, available %s", pair.BaseCode, req.Amount, base.Available)))
		}
	}
	if len(proj.Issues) > 0 {
		return proj, nil
	}

	proj.Balances = []BalanceProjection{
		{CurrencyCode: pair.BaseCode, Before: base.Total, After: baseAfter},
		{CurrencyCode: pair.QuoteCode, Before: quote.Total, After: quoteAfter},
	}
	if quoteAfter.IsZero() || baseAfter.IsZero() {
		proj.Warnings = append(proj.Warnings, "trade consumes the full balance of one currency")
	}
	return proj, nil
}

// Execute re-validates and settles the trade atomically. Row locks are
// taken in currency-code order so concurrent trades over overlapping
// pairs cannot deadlock; a lock wait past the configured timeout aborts
// with Busy and the caller may retry with the same idempotency key.
func (e *Engine) Execute(ctx context.Context, req Request) (Trade, error) {
	req = normalize(req)
	if req.IdempotencyKey == "" {
		e.metrics.IncRejection("trade", "validation")
		return Trade{}, apperr.Validation("idempotency_key", "is required")
	}

	if existing, err := e.findByReference(ctx, req.UserID, req.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Trade{}, err
	}

	pair, issues, err := e.validate(ctx, req, true)
	if err != nil {
		return Trade{}, err
	}
	if len(issues) > 0 {
		e.metrics.IncRejection("trade", "validation")
		e.logger.Info("trade rejected",
			"user_id", req.UserID, "pair", req.Pair, "side", string(req.Side), "issues", issues.Error())
		return Trade{}, issues
	}

	total, fee := e.priceOut(req, pair)
	legs := buildLegs(req, pair, total, fee)

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Trade{}, apperr.Rejectedf(apperr.ErrStoreUnavailable, "begin trade")
	}
	defer tx.Rollback(ctx)

	// SET LOCAL cannot take bind parameters; the value is our own config,
	// never caller input.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", e.lockTimeout.Milliseconds())); err != nil {
		return Trade{}, err
	}

	recorded, err := e.ledgerSvc.RecordGroup(ctx, tx, legs)
	if err != nil {
		if db.IsLockTimeout(err) {
			e.metrics.IncRejection("trade", "busy")
			return Trade{}, apperr.Rejectedf(apperr.ErrBusy, "trade %s", req.IdempotencyKey)
		}
		if errors.Is(err, apperr.ErrInsufficientFunds) {
			e.metrics.IncRejection("trade", "insufficient_funds")
		}
		e.logger.Warn("trade settlement rolled back",
			"user_id", req.UserID, "pair", req.Pair, "reference", req.IdempotencyKey, "error", err)
		return Trade{}, err
	}

	byType := indexLegs(legs, recorded)
	now := time.Now().UTC()
	trade := Trade{
		ID:                 uuid.New().String(),
		UserID:             req.UserID,
		PairSymbol:         pair.Symbol,
		Side:               req.Side,
		Amount:             req.Amount,
		Price:              req.Price,
		TotalValue:         total,
		FeeAmount:          fee,
		FeeCurrency:        pair.QuoteCode,
		Status:             types.TradeStatusCompleted,
		BaseTransactionID:  byType.base,
		QuoteTransactionID: byType.quote,
		FeeTransactionID:   byType.fee,
		ExternalRef:        req.IdempotencyKey,
		CreatedAt:          now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO trades
			(id, user_id, pair_symbol, side, amount, price, total_value, fee_amount, fee_currency,
			 status, base_transaction_id, quote_transaction_id, fee_transaction_id, external_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, trade.ID, trade.UserID, trade.PairSymbol, string(trade.Side), trade.Amount.String(), trade.Price.String(),
		trade.TotalValue.String(), trade.FeeAmount.String(), trade.FeeCurrency, string(trade.Status),
		trade.BaseTransactionID, trade.QuoteTransactionID, trade.FeeTransactionID, trade.ExternalRef, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			// A concurrent retry with the same key won the race; surface
			// its trade after our rollback.
			_ = tx.Rollback(ctx)
			return e.findByReference(ctx, req.UserID, req.IdempotencyKey)
		}
		return Trade{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Trade{}, err
	}

	e.metrics.IncOperation("trade")
	e.ledgerSvc.PublishTrade(req.UserID, trade)
	return trade, nil
}

func (e *Engine) GetByID(ctx context.Context, userID, tradeID string) (Trade, error) {
	return e.scanTrade(e.pool.QueryRow(ctx, selectTrade+` WHERE id = $1 AND user_id = $2`, tradeID, userID))
}

func normalize(req Request) Request {
	req.Pair = currencies.NormalizeCode(req.Pair)
	req.Side = types.TradeSide(strings.ToLower(strings.TrimSpace(string(req.Side))))
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	return req
}

// validate collects every objection to the request. strict controls
// whether an unknown pair comes back as an error (Execute) or an issue
// (Simulate quotes should render "unknown pair", not fail).
func (e *Engine) validate(ctx context.Context, req Request, strict bool) (currencies.Pair, apperr.ValidationErrors, error) {
	var issues apperr.ValidationErrors
	if req.Side != types.TradeSideBuy && req.Side != types.TradeSideSell {
		issues = append(issues, apperr.Validation("side", "must be buy or sell"))
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		issues = append(issues, apperr.Validation("amount", "must be positive"))
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		issues = append(issues, apperr.Validation("price", "must be positive"))
	}

	u, err := e.userSvc.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			issues = append(issues, apperr.Validation("user_id", "unknown user"))
			return currencies.Pair{}, issues, nil
		}
		return currencies.Pair{}, nil, err
	}
	if !u.IsActive {
		issues = append(issues, apperr.Validation("user_id", "user is deactivated"))
	}

	pair, err := e.currSvc.GetPair(ctx, req.Pair)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			if strict {
				return currencies.Pair{}, nil, err
			}
			issues = append(issues, apperr.Validation("pair", "unknown trading pair"))
			return currencies.Pair{}, issues, nil
		}
		return currencies.Pair{}, nil, err
	}
	if !pair.IsActive {
		issues = append(issues, apperr.Validation("pair", "trading pair is not active"))
	}
	if pair.MinAmount.GreaterThan(decimal.Zero) && req.Amount.LessThan(pair.MinAmount) && req.Amount.GreaterThan(decimal.Zero) {
		issues = append(issues, apperr.Validation("amount", "is below the pair minimum"))
	}
	if pair.MaxAmount.GreaterThan(decimal.Zero) && req.Amount.GreaterThan(pair.MaxAmount) {
		issues = append(issues, apperr.Validation("amount", "exceeds the pair maximum"))
	}
	return pair, issues, nil
}

func (e *Engine) priceOut(req Request, pair currencies.Pair) (total, fee decimal.Decimal) {
	rate := e.feeRate
	if pair.HasFeeRate {
		rate = pair.FeeRate
	}
	total = req.Price.Mul(req.Amount)
	fee = computeFee(total, rate, pair.QuoteDecimals)
	return total, fee
}

// computeFee rounds half-even to the quote currency's declared decimals.
func computeFee(total, rate decimal.Decimal, quoteDecimals int32) decimal.Decimal {
	return total.Mul(rate).RoundBank(quoteDecimals)
}

// buildLegs produces the three legs in deterministic lock order: sorted
// by currency code, and within one currency credits before debits so a
// sell's quote credit lands before its fee debit.
func buildLegs(req Request, pair currencies.Pair, total, fee decimal.Decimal) []ledger.LegSpec {
	desc := fmt.Sprintf("%s %s %s @ %s", req.Side, req.Amount, pair.Symbol, req.Price)

	var baseLeg, quoteLeg ledger.LegSpec
	if req.Side == types.TradeSideBuy {
		baseLeg = leg(req.UserID, types.TransactionTypeTradeLeg, pair.BaseCode, req.Amount, desc)
		quoteLeg = leg(req.UserID, types.TransactionTypeTradeLeg, pair.QuoteCode, total.Neg(), desc)
	} else {
		baseLeg = leg(req.UserID, types.TransactionTypeTradeLeg, pair.BaseCode, req.Amount.Neg(), desc)
		quoteLeg = leg(req.UserID, types.TransactionTypeTradeLeg, pair.QuoteCode, total, desc)
	}
	feeLeg := leg(req.UserID, types.TransactionTypeFee, pair.QuoteCode, fee.Neg(), desc)

	legs := []ledger.LegSpec{baseLeg, quoteLeg, feeLeg}
	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].CurrencyCode != legs[j].CurrencyCode {
			return legs[i].CurrencyCode < legs[j].CurrencyCode
		}
		// Credits first within a currency.
		return legs[i].TotalDelta.GreaterThan(legs[j].TotalDelta)
	})
	return legs
}

func leg(userID string, typ types.TransactionType, currencyCode string, amount decimal.Decimal, desc string) ledger.LegSpec {
	return ledger.LegSpec{
		UserID:         userID,
		Type:           typ,
		Amount:         amount,
		CurrencyCode:   currencyCode,
		TotalDelta:     amount,
		AvailableDelta: amount,
		LockedDelta:    decimal.Zero,
		Description:    desc,
	}
}

type legIndex struct {
	base, quote, fee string
}

// indexLegs maps recorded transaction ids back to the trade's base,
// quote and fee slots regardless of the lock-order shuffle.
func indexLegs(legs []ledger.LegSpec, recorded []ledger.Transaction) legIndex {
	var idx legIndex
	for i, l := range legs {
		switch {
		case l.Type == types.TransactionTypeFee:
			idx.fee = recorded[i].ID
		case idx.base == "" && l.Type == types.TransactionTypeTradeLeg && isBaseLeg(legs, l):
			idx.base = recorded[i].ID
		default:
			idx.quote = recorded[i].ID
		}
	}
	return idx
}

// isBaseLeg tells the two trade legs apart: the fee leg shares the
// quote currency, so the trade leg in the fee's currency is the quote
// leg and the other one is the base leg.
func isBaseLeg(legs []ledger.LegSpec, l ledger.LegSpec) bool {
	for _, other := range legs {
		if other.Type == types.TransactionTypeFee {
			return other.CurrencyCode != l.CurrencyCode
		}
	}
	return false
}

const selectTrade = `
	SELECT id, user_id, pair_symbol, side, amount::text, price::text, total_value::text,
	       fee_amount::text, fee_currency, status,
	       base_transaction_id, quote_transaction_id, fee_transaction_id,
	       external_reference, created_at
	FROM trades`

func (e *Engine) findByReference(ctx context.Context, userID, ref string) (Trade, error) {
	return e.scanTrade(e.pool.QueryRow(ctx, selectTrade+` WHERE user_id = $1 AND external_reference = $2`, userID, ref))
}

func (e *Engine) scanTrade(row pgx.Row) (Trade, error) {
	var t Trade
	var amountStr, priceStr, totalStr, feeStr string
	err := row.Scan(&t.ID, &t.UserID, &t.PairSymbol, &t.Side, &amountStr, &priceStr, &totalStr,
		&feeStr, &t.FeeCurrency, &t.Status,
		&t.BaseTransactionID, &t.QuoteTransactionID, &t.FeeTransactionID,
		&t.ExternalRef, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Trade{}, apperr.Rejectedf(apperr.ErrNotFound, "trade")
		}
		return Trade{}, err
	}
	if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return Trade{}, fmt.Errorf("parse amount: %w", err)
	}
	if t.Price, err = decimal.NewFromString(priceStr); err != nil {
		return Trade{}, fmt.Errorf("parse price: %w", err)
	}
	if t.TotalValue, err = decimal.NewFromString(totalStr); err != nil {
		return Trade{}, fmt.Errorf("parse total_value: %w", err)
	}
	if t.FeeAmount, err = decimal.NewFromString(feeStr); err != nil {
		return Trade{}, fmt.Errorf("parse fee_amount: %w", err)
	}
	return t, nil
}
