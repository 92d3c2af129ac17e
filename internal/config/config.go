package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RateBudget struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	HTTPAddr  string
	DBDSN     string
	RedisAddr string

	JWTIssuer string
	JWTSecret string
	JWTTTL    time.Duration

	Env      string
	LogLevel string

	WebSocketOrigin string

	// Ledger bounds applied to every deposit, withdrawal and trade notional.
	MinTxAmount decimal.Decimal
	MaxTxAmount decimal.Decimal

	// Default fee rate applied to a trade's total value; a trading pair may
	// carry its own override.
	FeeRate decimal.Decimal

	// Per-endpoint-class rate budgets sharing one window.
	RateWindow      time.Duration
	RateLimitAuth   int
	RateLimitTrade  int
	RateLimitInfo   int
	RateLimitAdmin  int
	RateBypassAdmin bool

	TradeLockTimeout time.Duration
}

func Load() (Config, error) {
	var c Config
	var missing []string

	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.RedisAddr = os.Getenv("REDIS_ADDR")
	if c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}

	c.Env = strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Env != "development" && c.Env != "production" {
		return c, errors.New("invalid APP_ENV: use development or production")
	}
	c.LogLevel = os.Getenv("LOG_LEVEL")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		c.WebSocketOrigin = "*"
	}

	var err error
	c.MinTxAmount, err = decimalEnv("MIN_TX_AMOUNT", "0.00000001")
	if err != nil {
		return c, err
	}
	c.MaxTxAmount, err = decimalEnv("MAX_TX_AMOUNT", "1000000000")
	if err != nil {
		return c, err
	}
	c.FeeRate, err = decimalEnv("FEE_RATE", "0.0025")
	if err != nil {
		return c, err
	}
	if c.FeeRate.IsNegative() {
		return c, errors.New("FEE_RATE must not be negative")
	}

	c.RateWindow, err = durationEnv("RATE_WINDOW", time.Minute)
	if err != nil {
		return c, err
	}
	c.RateLimitAuth, err = intEnv("RATE_LIMIT_AUTH", 10)
	if err != nil {
		return c, err
	}
	c.RateLimitTrade, err = intEnv("RATE_LIMIT_TRADING", 60)
	if err != nil {
		return c, err
	}
	c.RateLimitInfo, err = intEnv("RATE_LIMIT_INFO", 300)
	if err != nil {
		return c, err
	}
	c.RateLimitAdmin, err = intEnv("RATE_LIMIT_ADMIN", 60)
	if err != nil {
		return c, err
	}
	bypass := os.Getenv("RATE_BYPASS_ADMIN")
	if bypass != "" {
		b, err := strconv.ParseBool(bypass)
		if err != nil {
			return c, err
		}
		c.RateBypassAdmin = b
	}

	c.TradeLockTimeout, err = durationEnv("TRADE_LOCK_TIMEOUT", 3*time.Second)
	if err != nil {
		return c, err
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func decimalEnv(name, fallback string) (decimal.Decimal, error) {
	v := os.Getenv(name)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.New("invalid " + name)
	}
	return d, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return d, nil
}
