// Package ledger records every balance-affecting event as an immutable
// transaction row with before/after snapshots. Completed rows never
// change; corrections are new offsetting rows.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
	"fx-ledger/internal/balances"
	"fx-ledger/internal/currencies"
	"fx-ledger/internal/db"
	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

type Transaction struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"user_id"`
	Type          types.TransactionType   `json:"type"`
	Status        types.TransactionStatus `json:"status"`
	Amount        decimal.Decimal         `json:"amount"`
	CurrencyCode  string                  `json:"currency_code"`
	BalanceBefore decimal.Decimal         `json:"balance_before"`
	BalanceAfter  decimal.Decimal         `json:"balance_after"`
	ExternalRef   string                  `json:"external_reference,omitempty"`
	Description   string                  `json:"description,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	ProcessedAt   *time.Time              `json:"processed_at,omitempty"`
}

// LegSpec is one row of a multi-leg atomic group. The deltas feed the
// balance accessor; Amount is the signed figure stored on the row.
type LegSpec struct {
	UserID         string
	Type           types.TransactionType
	Amount         decimal.Decimal
	CurrencyCode   string
	TotalDelta     decimal.Decimal
	AvailableDelta decimal.Decimal
	LockedDelta    decimal.Decimal
	Description    string
	ExternalRef    string
}

// Limits bound the absolute amount of any single deposit or withdrawal.
type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

type Service struct {
	pool     *pgxpool.Pool
	balances *balances.Service
	currSvc  *currencies.Service
	userSvc  *users.Service
	bus      *Bus
	metrics  *Metrics
	logger   *slog.Logger
	limits   Limits
}

func NewService(pool *pgxpool.Pool, bal *balances.Service, currSvc *currencies.Service, userSvc *users.Service, bus *Bus, metrics *Metrics, logger *slog.Logger, limits Limits) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:     pool,
		balances: bal,
		currSvc:  currSvc,
		userSvc:  userSvc,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		limits:   limits,
	}
}

// Record inserts one completed, immutable transaction row inside the
// caller's transaction.
func (s *Service) Record(ctx context.Context, tx pgx.Tx, userID string, typ types.TransactionType, amount decimal.Decimal, currencyCode string, balanceBefore, balanceAfter decimal.Decimal, description, externalRef string) (Transaction, error) {
	now := time.Now().UTC()
	t := Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          typ,
		Status:        types.TransactionStatusCompleted,
		Amount:        amount,
		CurrencyCode:  currencyCode,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		ExternalRef:   externalRef,
		Description:   description,
		CreatedAt:     now,
		ProcessedAt:   &now,
	}
	var refArg any
	if externalRef != "" {
		refArg = externalRef
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions
			(id, user_id, type, status, amount, currency_code, balance_before, balance_after,
			 external_reference, description, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, t.ID, userID, string(typ), string(t.Status), amount.String(), currencyCode,
		balanceBefore.String(), balanceAfter.String(), refArg, description, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Transaction{}, apperr.Rejectedf(apperr.ErrDuplicateReference, "reference %s", externalRef)
		}
		return Transaction{}, err
	}
	return t, nil
}

// RecordGroup applies and records every leg inside the caller's
// transaction. Any failing leg aborts the whole group with the caller's
// rollback; no partial rows survive.
func (s *Service) RecordGroup(ctx context.Context, tx pgx.Tx, legs []LegSpec) ([]Transaction, error) {
	out := make([]Transaction, 0, len(legs))
	for _, leg := range legs {
		before, after, err := s.balances.ApplyDelta(ctx, tx, leg.UserID, leg.CurrencyCode, leg.TotalDelta, leg.AvailableDelta, leg.LockedDelta)
		if err != nil {
			return nil, fmt.Errorf("leg %s/%s: %w", leg.Type, leg.CurrencyCode, err)
		}
		t, err := s.Record(ctx, tx, leg.UserID, leg.Type, leg.Amount, leg.CurrencyCode, before.Total, after.Total, leg.Description, leg.ExternalRef)
		if err != nil {
			return nil, fmt.Errorf("leg %s/%s: %w", leg.Type, leg.CurrencyCode, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Deposit credits a user's available balance and records the transaction
// in one atomic unit.
func (s *Service) Deposit(ctx context.Context, userID, currencyCode string, amount decimal.Decimal, description, externalRef string) (Transaction, error) {
	return s.movement(ctx, types.TransactionTypeDeposit, userID, currencyCode, amount, description, externalRef)
}

// Withdraw debits a user's available balance; fails with
// InsufficientFunds when the available balance cannot cover it.
func (s *Service) Withdraw(ctx context.Context, userID, currencyCode string, amount decimal.Decimal, description, externalRef string) (Transaction, error) {
	return s.movement(ctx, types.TransactionTypeWithdrawal, userID, currencyCode, amount, description, externalRef)
}

func (s *Service) movement(ctx context.Context, typ types.TransactionType, userID, currencyCode string, amount decimal.Decimal, description, externalRef string) (Transaction, error) {
	if err := s.checkAmount(amount); err != nil {
		s.metrics.IncRejection(string(typ), "validation")
		return Transaction{}, err
	}
	cur, err := s.currSvc.Get(ctx, currencyCode)
	if err != nil {
		s.metrics.IncRejection(string(typ), "currency")
		return Transaction{}, err
	}
	if !cur.IsActive {
		s.metrics.IncRejection(string(typ), "currency")
		return Transaction{}, apperr.Validation("currency_code", "currency is not active")
	}
	u, err := s.userSvc.GetByID(ctx, userID)
	if err != nil {
		s.metrics.IncRejection(string(typ), "user")
		return Transaction{}, err
	}
	if !u.IsActive {
		s.metrics.IncRejection(string(typ), "user")
		return Transaction{}, apperr.Validation("user_id", "user is deactivated")
	}

	delta := amount
	signedAmount := amount
	if typ == types.TransactionTypeWithdrawal {
		delta = amount.Neg()
		signedAmount = amount.Neg()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, apperr.Rejectedf(apperr.ErrStoreUnavailable, "begin %s", typ)
	}
	defer tx.Rollback(ctx)

	before, after, err := s.balances.ApplyDelta(ctx, tx, userID, cur.Code, delta, delta, decimal.Zero)
	if err != nil {
		s.metrics.IncRejection(string(typ), "balance")
		s.logger.Warn("ledger movement rejected",
			"type", string(typ), "user_id", userID, "currency", cur.Code, "error", err)
		return Transaction{}, err
	}
	t, err := s.Record(ctx, tx, userID, typ, signedAmount, cur.Code, before.Total, after.Total, description, externalRef)
	if err != nil {
		s.metrics.IncRejection(string(typ), "record")
		return Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}

	s.metrics.IncOperation(string(typ))
	if s.bus != nil {
		s.bus.Publish(Event{Type: EventTransaction, UserID: userID, Data: t})
	}
	return t, nil
}

func (s *Service) checkAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return apperr.Validation("amount", "must be positive")
	}
	if amount.LessThan(s.limits.Min) {
		return apperr.Validation("amount", "is below the minimum transaction amount")
	}
	if s.limits.Max.GreaterThan(decimal.Zero) && amount.GreaterThan(s.limits.Max) {
		return apperr.Validation("amount", "exceeds the maximum transaction amount")
	}
	return nil
}

type Filter struct {
	Type         types.TransactionType
	CurrencyCode string
	Status       types.TransactionStatus
	From         time.Time
	To           time.Time
}

type Page struct {
	Offset int
	Limit  int
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (p Page) clamp() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p
}

// buildListQuery assembles the history query with conjunctive filters.
// All values travel as placeholders; the SQL text only ever contains
// placeholder indexes.
func buildListQuery(userID string, f Filter, p Page) (string, []any) {
	q := `SELECT id, user_id, type, status, amount::text, currency_code,
	balance_before::text, balance_after::text, coalesce(external_reference, ''), description, created_at, processed_at
	FROM transactions
	WHERE user_id = $1`
	args := []any{userID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		q += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.CurrencyCode != "" {
		args = append(args, currencies.NormalizeCode(f.CurrencyCode))
		q += fmt.Sprintf(" AND currency_code = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	args = append(args, p.Limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, p.Offset)
	q += fmt.Sprintf(" OFFSET $%d", len(args))
	return q, args
}

// ListForUser returns a page of the user's transaction history, newest
// first.
func (s *Service) ListForUser(ctx context.Context, userID string, f Filter, p Page) ([]Transaction, error) {
	q, args := buildListQuery(userID, f, p.clamp())
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0, p.Limit)
	for rows.Next() {
		var t Transaction
		var amountStr, beforeStr, afterStr string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Status, &amountStr, &t.CurrencyCode,
			&beforeStr, &afterStr, &t.ExternalRef, &t.Description, &t.CreatedAt, &t.ProcessedAt); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if t.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, fmt.Errorf("parse balance_before: %w", err)
		}
		if t.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, fmt.Errorf("parse balance_after: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PublishTrade lets the settlement engine announce a committed trade on
// the same stream as its transactions.
func (s *Service) PublishTrade(userID string, trade any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(Event{Type: EventTrade, UserID: userID, Data: trade})
}
