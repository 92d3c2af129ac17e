// Package balances owns the per-user, per-currency balance triple.
// Every mutation goes through ApplyDelta under a row lock; no other
// component writes user_balances directly.
package balances

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
)

type Balance struct {
	UserID       string          `json:"user_id"`
	CurrencyCode string          `json:"currency_code"`
	Total        decimal.Decimal `json:"total"`
	Available    decimal.Decimal `json:"available"`
	Locked       decimal.Decimal `json:"locked"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Get returns the balance triple for (userID, currencyCode), or an all-zero
// triple when no row exists yet.
func (s *Service) Get(ctx context.Context, userID, currencyCode string) (Balance, error) {
	var b Balance
	var totalStr, availableStr, lockedStr string
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, currency_code, total::text, available::text, locked::text, updated_at
		FROM user_balances
		WHERE user_id = $1 AND currency_code = $2
	`, userID, currencyCode).Scan(&b.UserID, &b.CurrencyCode, &totalStr, &availableStr, &lockedStr, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zeroBalance(userID, currencyCode), nil
		}
		return Balance{}, err
	}
	return parseAmounts(b, totalStr, availableStr, lockedStr)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Balance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, currency_code, total::text, available::text, locked::text, updated_at
		FROM user_balances
		WHERE user_id = $1
		ORDER BY currency_code
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		var totalStr, availableStr, lockedStr string
		if err := rows.Scan(&b.UserID, &b.CurrencyCode, &totalStr, &availableStr, &lockedStr, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b, err = parseAmounts(b, totalStr, availableStr, lockedStr)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ApplyDelta applies signed deltas to the balance row inside the caller's
// transaction, creating the row at zero first if it does not exist. The row
// is locked with FOR UPDATE for the remainder of the transaction, which is
// the only serialization point for concurrent mutations of one balance.
// Returns the balance before and after the deltas.
func (s *Service) ApplyDelta(ctx context.Context, tx pgx.Tx, userID, currencyCode string, totalDelta, availableDelta, lockedDelta decimal.Decimal) (Balance, Balance, error) {
	before, err := s.getOrCreateForUpdate(ctx, tx, userID, currencyCode)
	if err != nil {
		return Balance{}, Balance{}, err
	}
	after, err := applyDeltas(before, totalDelta, availableDelta, lockedDelta)
	if err != nil {
		return Balance{}, Balance{}, err
	}
	after.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE user_balances
		SET total = $1, available = $2, locked = $3, updated_at = $4
		WHERE user_id = $5 AND currency_code = $6
	`, after.Total.String(), after.Available.String(), after.Locked.String(), after.UpdatedAt, userID, currencyCode); err != nil {
		return Balance{}, Balance{}, err
	}
	return before, after, nil
}

// applyDeltas computes the post-delta triple and enforces the bookkeeping
// invariants. A delta set that breaks total == available + locked is a
// caller bug, not a funds problem.
func applyDeltas(b Balance, totalDelta, availableDelta, lockedDelta decimal.Decimal) (Balance, error) {
	if !totalDelta.Equal(availableDelta.Add(lockedDelta)) {
		return Balance{}, apperr.Rejectedf(apperr.ErrInvariantViolation,
			"delta mismatch for %s/%s: total %s != available %s + locked %s",
			b.UserID, b.CurrencyCode, totalDelta, availableDelta, lockedDelta)
	}
	next := b
	next.Total = b.Total.Add(totalDelta)
	next.Available = b.Available.Add(availableDelta)
	next.Locked = b.Locked.Add(lockedDelta)
	if next.Available.IsNegative() || next.Locked.IsNegative() {
		return Balance{}, apperr.Rejectedf(apperr.ErrInsufficientFunds,
			"%s/%s available %s locked %s", b.UserID, b.CurrencyCode, next.Available, next.Locked)
	}
	if !next.Total.Equal(next.Available.Add(next.Locked)) {
		return Balance{}, apperr.Rejectedf(apperr.ErrInvariantViolation,
			"%s/%s total %s != available %s + locked %s",
			b.UserID, b.CurrencyCode, next.Total, next.Available, next.Locked)
	}
	return next, nil
}

func (s *Service) getOrCreateForUpdate(ctx context.Context, tx pgx.Tx, userID, currencyCode string) (Balance, error) {
	b, err := s.getForUpdate(ctx, tx, userID, currencyCode)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, err
	}
	// ON CONFLICT DO NOTHING keeps a concurrent first-credit race from
	// failing; the re-select below then blocks on the winner's lock.
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_balances (user_id, currency_code, total, available, locked)
		VALUES ($1, $2, 0, 0, 0)
		ON CONFLICT (user_id, currency_code) DO NOTHING
	`, userID, currencyCode); err != nil {
		return Balance{}, err
	}
	return s.getForUpdate(ctx, tx, userID, currencyCode)
}

func (s *Service) getForUpdate(ctx context.Context, tx pgx.Tx, userID, currencyCode string) (Balance, error) {
	var b Balance
	var totalStr, availableStr, lockedStr string
	err := tx.QueryRow(ctx, `
		SELECT user_id, currency_code, total::text, available::text, locked::text, updated_at
		FROM user_balances
		WHERE user_id = $1 AND currency_code = $2
		FOR UPDATE
	`, userID, currencyCode).Scan(&b.UserID, &b.CurrencyCode, &totalStr, &availableStr, &lockedStr, &b.UpdatedAt)
	if err != nil {
		return Balance{}, err
	}
	return parseAmounts(b, totalStr, availableStr, lockedStr)
}

func parseAmounts(b Balance, totalStr, availableStr, lockedStr string) (Balance, error) {
	var err error
	b.Total, err = decimal.NewFromString(totalStr)
	if err != nil {
		return Balance{}, fmt.Errorf("parse total: %w", err)
	}
	b.Available, err = decimal.NewFromString(availableStr)
	if err != nil {
		return Balance{}, fmt.Errorf("parse available: %w", err)
	}
	b.Locked, err = decimal.NewFromString(lockedStr)
	if err != nil {
		return Balance{}, fmt.Errorf("parse locked: %w", err)
	}
	return b, nil
}

func zeroBalance(userID, currencyCode string) Balance {
	return Balance{
		UserID:       userID,
		CurrencyCode: currencyCode,
		Total:        decimal.Zero,
		Available:    decimal.Zero,
		Locked:       decimal.Zero,
	}
}
