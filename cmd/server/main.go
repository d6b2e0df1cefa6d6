// Package main is the entry point of the fiscalhub API server.
// Multi-tenant architecture: Database-per-Tenant.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fiscalhub/internal/app"
	"fiscalhub/internal/config"
	v1 "fiscalhub/internal/infrastructure/http/v1"
	"fiscalhub/internal/infrastructure/storage/postgres"
	"fiscalhub/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting fiscalhub server", "version", version, "env", cfg.Env)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	log.Infow("tenant manager initialized",
		"max_pools", cfg.Tenants.MaxTotalPools,
		"max_conns_per_tenant", cfg.Tenants.MaxConnsPerTenant,
		"idle_timeout", cfg.Tenants.PoolIdleTimeout,
	)
	postgres.LogPoolStats(ctx, "meta", a.MetaPool)

	router := v1.NewRouter(v1.RouterConfig{
		Tenants:       a.Tenants,
		MetaDB:        a.MetaPool,
		Logger:        log,
		JWTValidator:  a.JWT,
		Version:       version,
		Documents:     a.Emission,
		Contingency:   a.Contingency,
		Numbering:     a.Numbers,
		Subscriptions: a.Subscription,
		Profiles:      a.Profiles,
		Sealer:        a.Box,
		Gateways:      a.Gateways,
	})

	// WriteTimeout covers a full synchronous emission.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Gateway.Emit + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
