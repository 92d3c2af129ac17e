package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"fx-ledger/internal/auth"
	"fx-ledger/internal/authz"
	"fx-ledger/internal/balances"
	"fx-ledger/internal/config"
	"fx-ledger/internal/currencies"
	"fx-ledger/internal/db"
	"fx-ledger/internal/httpserver"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/logging"
	"fx-ledger/internal/rate"
	"fx-ledger/internal/trades"
	"fx-ledger/internal/types"
	"fx-ledger/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.LogLevel, "fx-ledger", cfg.Env)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal(err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	metrics := ledger.NewMetrics(registry)
	bus := ledger.NewBus()

	balSvc := balances.NewService(pool)
	currSvc := currencies.NewService(pool)
	userSvc := users.NewService(pool)
	ledgerSvc := ledger.NewService(pool, balSvc, currSvc, userSvc, bus, metrics, logger,
		ledger.Limits{Min: cfg.MinTxAmount, Max: cfg.MaxTxAmount})
	engine := trades.NewEngine(pool, balSvc, ledgerSvc, currSvc, userSvc, logger, metrics,
		cfg.FeeRate, cfg.TradeLockTimeout)
	authSvc := auth.NewService(userSvc, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	gate := authz.NewGate(logger)

	budgets := rate.Budgets{
		types.EndpointClassAuth:    {Limit: cfg.RateLimitAuth, Window: cfg.RateWindow},
		types.EndpointClassTrading: {Limit: cfg.RateLimitTrade, Window: cfg.RateWindow},
		types.EndpointClassInfo:    {Limit: cfg.RateLimitInfo, Window: cfg.RateWindow},
		types.EndpointClassAdmin:   {Limit: cfg.RateLimitAdmin, Window: cfg.RateWindow},
	}
	limiter := rate.NewLimiter(rate.NewRedisCounter(redisClient, budgets, ""), budgets, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:       auth.NewHandler(authSvc, userSvc),
		LedgerHandler:     ledger.NewHandler(ledgerSvc, balSvc, userSvc, gate),
		TradesHandler:     trades.NewHandler(engine, userSvc, gate),
		UsersHandler:      users.NewHandler(userSvc, gate),
		CurrenciesHandler: currencies.NewHandler(currSvc),
		AuthService:       authSvc,
		WSHandler:         httpserver.NewWSHandler(bus, authSvc, cfg.WebSocketOrigin),
		Limiter:           limiter,
		RateBypassAdmin:   cfg.RateBypassAdmin,
		Registry:          registry,
		Logger:            logger,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	logger.Info("server listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
