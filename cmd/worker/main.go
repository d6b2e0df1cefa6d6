// Package main is the entry point of the fiscalhub background worker.
// Multi-tenant architecture: one loop per active tenant relays webhook
// events, retransmits contingency documents and polls pending authorizations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fiscalhub/internal/app"
	"fiscalhub/internal/config"
	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/infrastructure/storage/postgres"
	"fiscalhub/pkg/logger"
)

const (
	outboxBatchSize  = 100
	statusPollLimit  = 200
	tenantRefresh    = time.Minute
	outboxPurgeEvery = time.Hour
)

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

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting fiscalhub multi-tenant worker")

	// Shorter idle timeout: worker loops hold their pool for their lifetime anyway.
	cfg.Tenants.PoolIdleTimeout = 10 * time.Minute
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	worker := NewMultiTenantWorker(a, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// MultiTenantWorker runs the background jobs of all active tenants.
type MultiTenantWorker struct {
	app   *app.App
	relay *postgres.OutboxRelay
	log   *logger.Logger
}

func NewMultiTenantWorker(a *app.App, log *logger.Logger) *MultiTenantWorker {
	return &MultiTenantWorker{
		app:   a,
		relay: postgres.NewOutboxRelay(outboxBatchSize, postgres.WebhookHandler(a.Dispatcher)),
		log:   log.WithComponent("worker"),
	}
}

// Run starts and stops tenant loops as tenants are activated or suspended.
func (w *MultiTenantWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(tenantRefresh)
	defer ticker.Stop()

	var wg sync.WaitGroup
	loops := make(map[string]context.CancelFunc)

	w.refreshTenants(ctx, &wg, loops)

	for {
		select {
		case <-ctx.Done():
			for _, cancel := range loops {
				cancel()
			}
			wg.Wait()
			return
		case <-ticker.C:
			w.refreshTenants(ctx, &wg, loops)
		}
	}
}

func (w *MultiTenantWorker) refreshTenants(ctx context.Context, wg *sync.WaitGroup, loops map[string]context.CancelFunc) {
	tenants, err := w.app.Tenants.GetActiveTenants(ctx)
	if err != nil {
		w.log.Errorw("failed to get active tenants", "error", err)
		return
	}

	active := make(map[string]*tenant.Tenant, len(tenants))
	for _, t := range tenants {
		active[t.ID] = t
	}

	for tenantID, cancel := range loops {
		if _, ok := active[tenantID]; !ok {
			cancel()
			delete(loops, tenantID)
			w.log.Infow("stopped worker for inactive tenant", "tenant_id", tenantID)
		}
	}

	for _, t := range tenants {
		if _, exists := loops[t.ID]; exists {
			continue
		}
		tenantCtx, tenantCancel := context.WithCancel(ctx)
		loops[t.ID] = tenantCancel

		wg.Add(1)
		go func(t *tenant.Tenant) {
			defer wg.Done()
			w.runTenant(tenantCtx, t)
		}(t)

		w.log.Infow("started worker for tenant", "tenant_id", t.ID)
	}
}

func (w *MultiTenantWorker) runTenant(ctx context.Context, t *tenant.Tenant) {
	ctx, release, err := w.app.TenantContext(ctx, t.ID)
	if err != nil {
		w.log.Errorw("failed to get pool for tenant", "tenant_id", t.ID, "error", err)
		return
	}
	defer release()
	log := w.log.With("tenant_id", t.ID)
	ctx = logger.WithLogger(ctx, log)

	cfg := w.app.Config
	outbox := time.NewTicker(cfg.OutboxPollInterval)
	defer outbox.Stop()
	contingency := time.NewTicker(cfg.ContingencyInterval)
	defer contingency.Stop()
	poll := time.NewTicker(cfg.StatusPollInterval)
	defer poll.Stop()
	purge := time.NewTicker(outboxPurgeEvery)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping worker for tenant")
			return
		case <-outbox.C:
			w.relayOutbox(ctx, log)
		case <-contingency.C:
			w.retransmit(ctx, log, t.ID)
		case <-poll.C:
			w.pollProcessing(ctx, log, t.ID)
		case <-purge.C:
			if n, err := w.relay.PurgePublished(ctx, cfg.OutboxRetention); err != nil {
				log.Warnw("outbox purge failed", "error", err)
			} else if n > 0 {
				log.Infow("purged published outbox messages", "count", n)
			}
		}
	}
}

// relayOutbox drains due messages; a full batch is followed immediately by the next.
func (w *MultiTenantWorker) relayOutbox(ctx context.Context, log *logger.Logger) {
	for ctx.Err() == nil {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			log.Errorw("outbox relay failed", "error", err)
			return
		}
		if n > 0 {
			log.Debugw("relayed outbox batch", "count", n)
		}
		if n < outboxBatchSize {
			return
		}
	}
}

func (w *MultiTenantWorker) retransmit(ctx context.Context, log *logger.Logger, tenantID string) {
	res, err := w.app.Contingency.RetransmitPending(ctx, tenantID)
	switch {
	case apperror.IsNotFound(err):
		log.Debug("tenant has no fiscal profile, skipping contingency")
	case err != nil:
		log.Errorw("contingency retransmission failed", "error", err)
	case !res.AuthorityAvailable:
		log.Debug("authority still unavailable")
	case res.Processed > 0:
		log.Infow("contingency batch retransmitted",
			"processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed)
	}
}

func (w *MultiTenantWorker) pollProcessing(ctx context.Context, log *logger.Logger, tenantID string) {
	res, err := w.app.Emission.PollProcessing(ctx, tenantID, statusPollLimit)
	if err != nil {
		log.Errorw("status polling failed", "error", err)
		return
	}
	if res.Processed > 0 {
		log.Infow("processing documents polled",
			"processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed)
	}
}
