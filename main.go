package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-trading-bot/config"
	"collab-trading-bot/internal/analyst"
	"collab-trading-bot/internal/api"
	"collab-trading-bot/internal/auth"
	"collab-trading-bot/internal/cache"
	"collab-trading-bot/internal/database"
	"collab-trading-bot/internal/engine"
	"collab-trading-bot/internal/events"
	"collab-trading-bot/internal/exchange"
	"collab-trading-bot/internal/logging"
	"collab-trading-bot/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Vault, when enabled, overrides the env-derived credentials.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal("Failed to create vault client", "error", err)
	}
	if vaultClient != nil {
		secrets, err := vaultClient.LoadSecrets(context.Background())
		if err != nil {
			logger.Fatal("Failed to load secrets from vault", "error", err)
		}
		secrets.Overlay(cfg)
	}

	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}
	repo := database.NewRepository(db)

	// Hourly janitor for the refresh token table.
	janitorCtx, janitorCancel := context.WithCancel(ctx)
	defer janitorCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				if n, err := repo.DeleteExpiredRefreshTokens(janitorCtx); err != nil {
					logger.Warn("Expired refresh token cleanup failed", "error", err)
				} else if n > 0 {
					logger.Debug("Pruned expired refresh tokens", "count", n)
				}
			}
		}
	}()

	var redisCache *cache.Service
	if cfg.RedisConfig.Enabled {
		redisCache, err = cache.NewService(cfg.RedisConfig)
		if err != nil {
			logger.Warn("Redis cache unavailable, continuing without it", "error", err)
		} else {
			defer redisCache.Close()
		}
	}

	bus := events.NewBus()

	// Exchange: live client unless mock mode is forced or credentials are
	// missing.
	var client exchange.API
	mockMode := cfg.ExchangeConfig.MockMode || cfg.ExchangeConfig.APIKey == ""
	if mockMode {
		client = exchange.NewMockClient(cfg.EngineConfig.ApprovedSymbols)
		logger.Warn("Exchange mock mode active, no real orders will be placed")
	} else {
		client = exchange.NewClient(
			cfg.ExchangeConfig.APIKey,
			cfg.ExchangeConfig.SecretKey,
			cfg.ExchangeConfig.Passphrase,
			cfg.ExchangeConfig.BaseURL,
		)
	}

	// The BTC ticker stream feeds the circuit breaker's 4h window.
	var btcStream *exchange.TickerStream
	if !mockMode && cfg.ExchangeConfig.WSURL != "" {
		btcStream = exchange.NewTickerStream(cfg.ExchangeConfig.WSURL, "cmt_btcusdt")
		btcStream.Start()
		defer btcStream.Stop()
	}

	var llm analyst.Completer
	if ai := analyst.NewClient(cfg.AIConfig); ai.IsConfigured() {
		llm = ai
		logger.Info("LLM configured", "provider", cfg.AIConfig.Provider, "model", ai.Model())
	} else {
		logger.Warn("No LLM API key configured, engine will monitor without trading")
	}

	opts := engine.Options{
		Config:         *cfg,
		Client:         client,
		LLM:            llm,
		Bus:            bus,
		TradeStore:     repo,
		AILogStore:     repo,
		PortfolioStore: repo,
		History:        repo,
		Audit:          database.NewAuditRecorder(repo),
	}
	if btcStream != nil {
		opts.BTCStream = btcStream
	}
	if redisCache != nil {
		opts.RulesCache = redisCache
	}
	ctrl := engine.GetController(opts)

	authService, err := auth.NewService(repo, cfg.AuthConfig)
	if err != nil {
		logger.Fatal("Failed to initialize auth", "error", err)
	}

	server := api.NewServer(cfg.ServerConfig, bus, ctrl, authService, repo, db)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received")

	ctrl.Cleanup()

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
}
