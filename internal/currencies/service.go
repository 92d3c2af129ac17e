// Package currencies holds the currency and trading-pair reference data.
// Mutation is admin-only and goes through the handlers' authorization
// checks; reads are open to any authenticated caller.
package currencies

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-ledger/internal/apperr"
)

type Currency struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	IsFiat   bool   `json:"is_fiat"`
	IsActive bool   `json:"is_active"`
}

type Pair struct {
	Symbol        string          `json:"symbol"`
	BaseCode      string          `json:"base_code"`
	QuoteCode     string          `json:"quote_code"`
	MinAmount     decimal.Decimal `json:"min_amount"`
	MaxAmount     decimal.Decimal `json:"max_amount"`
	FeeRate       decimal.Decimal `json:"fee_rate"`
	HasFeeRate    bool            `json:"-"`
	QuoteDecimals int32           `json:"quote_decimals"`
	IsActive      bool            `json:"is_active"`
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) Get(ctx context.Context, code string) (Currency, error) {
	var c Currency
	err := s.pool.QueryRow(ctx, `
		SELECT code, name, symbol, decimals, is_fiat, is_active
		FROM currencies
		WHERE code = $1
	`, NormalizeCode(code)).Scan(&c.Code, &c.Name, &c.Symbol, &c.Decimals, &c.IsFiat, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Currency{}, apperr.Rejectedf(apperr.ErrNotFound, "currency %s", code)
		}
		return Currency{}, err
	}
	return c, nil
}

func (s *Service) List(ctx context.Context) ([]Currency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, name, symbol, decimals, is_fiat, is_active
		FROM currencies
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Currency
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.Symbol, &c.Decimals, &c.IsFiat, &c.IsActive); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Service) Create(ctx context.Context, c Currency) (Currency, error) {
	c.Code = NormalizeCode(c.Code)
	if c.Code == "" {
		return Currency{}, apperr.Validation("code", "is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return Currency{}, apperr.Validation("name", "is required")
	}
	if c.Decimals < 0 || c.Decimals > 18 {
		return Currency{}, apperr.Validation("decimals", "must be between 0 and 18")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO currencies (code, name, symbol, decimals, is_fiat, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, c.Code, c.Name, c.Symbol, c.Decimals, c.IsFiat)
	if err != nil {
		return Currency{}, err
	}
	c.IsActive = true
	return c, nil
}

func (s *Service) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE currencies SET is_active = $1 WHERE code = $2
	`, active, NormalizeCode(code))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Rejectedf(apperr.ErrNotFound, "currency %s", code)
	}
	return nil
}

// GetPair resolves a trading pair with its quote currency's declared
// decimals, which decide fee rounding.
func (s *Service) GetPair(ctx context.Context, symbol string) (Pair, error) {
	var p Pair
	var minStr, maxStr string
	var feeStr *string
	err := s.pool.QueryRow(ctx, `
		SELECT tp.symbol, tp.base_code, tp.quote_code, tp.min_amount::text, tp.max_amount::text,
		       tp.fee_rate::text, qc.decimals, tp.is_active
		FROM trading_pairs tp
		JOIN currencies qc ON qc.code = tp.quote_code
		WHERE tp.symbol = $1
	`, NormalizeCode(symbol)).Scan(&p.Symbol, &p.BaseCode, &p.QuoteCode, &minStr, &maxStr, &feeStr, &p.QuoteDecimals, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pair{}, apperr.Rejectedf(apperr.ErrNotFound, "trading pair %s", symbol)
		}
		return Pair{}, err
	}
	p.MinAmount, err = decimal.NewFromString(minStr)
	if err != nil {
		return Pair{}, fmt.Errorf("parse min amount: %w", err)
	}
	p.MaxAmount, err = decimal.NewFromString(maxStr)
	if err != nil {
		return Pair{}, fmt.Errorf("parse max amount: %w", err)
	}
	if feeStr != nil {
		p.FeeRate, err = decimal.NewFromString(*feeStr)
		if err != nil {
			return Pair{}, fmt.Errorf("parse fee rate: %w", err)
		}
		p.HasFeeRate = true
	}
	return p, nil
}

func (s *Service) ListPairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tp.symbol, tp.base_code, tp.quote_code, tp.min_amount::text, tp.max_amount::text,
		       tp.fee_rate::text, qc.decimals, tp.is_active
		FROM trading_pairs tp
		JOIN currencies qc ON qc.code = tp.quote_code
		ORDER BY tp.symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pair
	for rows.Next() {
		var p Pair
		var minStr, maxStr string
		var feeStr *string
		if err := rows.Scan(&p.Symbol, &p.BaseCode, &p.QuoteCode, &minStr, &maxStr, &feeStr, &p.QuoteDecimals, &p.IsActive); err != nil {
			return nil, err
		}
		if p.MinAmount, err = decimal.NewFromString(minStr); err != nil {
			return nil, fmt.Errorf("parse min amount: %w", err)
		}
		if p.MaxAmount, err = decimal.NewFromString(maxStr); err != nil {
			return nil, fmt.Errorf("parse max amount: %w", err)
		}
		if feeStr != nil {
			if p.FeeRate, err = decimal.NewFromString(*feeStr); err != nil {
				return nil, fmt.Errorf("parse fee rate: %w", err)
			}
			p.HasFeeRate = true
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Service) CreatePair(ctx context.Context, p Pair) (Pair, error) {
	p.Symbol = NormalizeCode(p.Symbol)
	p.BaseCode = NormalizeCode(p.BaseCode)
	p.QuoteCode = NormalizeCode(p.QuoteCode)
	if p.Symbol == "" {
		p.Symbol = p.BaseCode + "-" + p.QuoteCode
	}
	if p.BaseCode == "" || p.QuoteCode == "" {
		return Pair{}, apperr.Validation("pair", "base and quote currencies are required")
	}
	if p.BaseCode == p.QuoteCode {
		return Pair{}, apperr.Validation("pair", "base and quote must differ")
	}
	if p.MinAmount.IsNegative() || p.MaxAmount.IsNegative() {
		return Pair{}, apperr.Validation("pair", "amount bounds must not be negative")
	}
	var feeArg any
	if p.HasFeeRate {
		if p.FeeRate.IsNegative() {
			return Pair{}, apperr.Validation("fee_rate", "must not be negative")
		}
		feeArg = p.FeeRate.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trading_pairs (symbol, base_code, quote_code, min_amount, max_amount, fee_rate, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	`, p.Symbol, p.BaseCode, p.QuoteCode, p.MinAmount.String(), p.MaxAmount.String(), feeArg)
	if err != nil {
		return Pair{}, err
	}
	p.IsActive = true
	return p, nil
}

func (s *Service) SetPairActive(ctx context.Context, symbol string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trading_pairs SET is_active = $1 WHERE symbol = $2
	`, active, NormalizeCode(symbol))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Rejectedf(apperr.ErrNotFound, "trading pair %s", symbol)
	}
	return nil
}
