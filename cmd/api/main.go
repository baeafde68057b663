package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callflow-platform/internal/auth"
	"callflow-platform/internal/billing"
	"callflow-platform/internal/calls"
	"callflow-platform/internal/config"
	"callflow-platform/internal/events"
	"callflow-platform/internal/flow"
	"callflow-platform/internal/httpapi"
	"callflow-platform/internal/prompts"
	"callflow-platform/internal/telephony"
	"callflow-platform/internal/wallet"
	"callflow-platform/pkg/logger"
	"callflow-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	catalog, err := prompts.LoadCatalog(cfg.Prompts.CatalogPath)
	if err != nil {
		log.Error("prompt catalog load failed", "path", cfg.Prompts.CatalogPath, "err", err)
		os.Exit(1)
	}

	callStore := calls.NewPostgresStore(db)
	registry := calls.NewRegistry(rdb, 0)
	eventLog := events.NewLog(callStore, events.SlogSink{Logger: log})
	wallets := wallet.NewService(wallet.NewPostgresRepo(db))
	biller := billing.NewService(callStore, wallets, eventLog, cfg.Billing.Currency, log)
	gateway := telephony.NewLaMLGateway(cfg.Gateway)

	callSvc := calls.NewService(callStore, registry, biller, billing.ErrInsufficientBalance, eventLog, gateway, rdb,
		calls.ServiceConfig{
			PublicBaseURL:      cfg.App.PublicBaseURL,
			CallRateMinor:      cfg.Billing.CallRateMinor,
			SpoofRateMinor:     cfg.Billing.SpoofRateMinor,
			MaxConcurrentCalls: cfg.Billing.MaxConcurrentCalls,
		}, log)

	flowCtl := flow.NewController(callStore, callSvc, biller, eventLog, cfg.App.PublicBaseURL, log)
	api := httpapi.NewHandler(callSvc, catalog)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		flow:   flowCtl,
		api:    api,
		authMW: auth.RequireAccessToken(authManager),
		health: healthFunc(db, rdb),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
