// Package app assembles the fiscal components shared by the server, the
// worker and fiscalctl.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fiscalhub/internal/config"
	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/domain/auth"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/domain/fiscal/payload"
	"fiscalhub/internal/infrastructure/gateway"
	"fiscalhub/internal/infrastructure/gateway/focusnfe"
	"fiscalhub/internal/infrastructure/gateway/nuvemfiscal"
	"fiscalhub/internal/infrastructure/gateway/oauth"
	"fiscalhub/internal/infrastructure/municipality"
	"fiscalhub/internal/infrastructure/numerator"
	"fiscalhub/internal/infrastructure/secrets"
	"fiscalhub/internal/infrastructure/storage/postgres"
	"fiscalhub/internal/infrastructure/storage/postgres/fiscal_repo"
	"fiscalhub/pkg/logger"
)

// App holds the wired components. Repositories and services are tenant
// agnostic: the tenant database comes from the context (see TenantContext).
type App struct {
	Config *config.Config
	Log    *logger.Logger

	MetaPool *pgxpool.Pool
	Tenants  *tenant.Manager

	JWT      *auth.JWTService
	Box      *secrets.Box
	Gateways *gateway.Registry
	Numbers  *numerator.Service

	Documents    *fiscal_repo.DocumentRepo
	Profiles     *fiscal_repo.ProfileRepo
	Webhooks     *fiscal_repo.WebhookRepo
	Events       *postgres.OutboxPublisher
	Emission     *fiscal.Service
	Contingency  *fiscal.ContingencyManager
	Dispatcher   *fiscal.WebhookDispatcher
	Subscription *fiscal.SubscriptionService
}

// New connects to the meta database and wires every component.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	box, err := secrets.NewBoxFromHex(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}
	dialects, err := dialectResolver(cfg.MunicipalityRules)
	if err != nil {
		return nil, err
	}
	codec, err := postgres.NewCodec(postgres.DefaultCompressThreshold)
	if err != nil {
		return nil, fmt.Errorf("blob codec: %w", err)
	}

	metaPool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.MetaDatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("meta database: %w", err)
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		MetaPool:  metaPool,
		Tenants:   tenant.NewManager(cfg.Tenants, tenant.NewPostgresRegistry(metaPool), log),
		JWT:       auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret)),
		Box:       box,
		Numbers:   numerator.NewFromContext(),
		Documents: fiscal_repo.NewDocumentRepo(codec),
		Profiles:  fiscal_repo.NewProfileRepo(),
		Webhooks:  fiscal_repo.NewWebhookRepo(),
		Events:    postgres.NewOutboxPublisher(),
	}

	a.Gateways = gateway.NewRegistry(a.Profiles, box)
	a.Gateways.Register(focusnfe.Name, focusnfe.Factory(cfg.Gateway, nil))
	a.Gateways.Register(nuvemfiscal.Name, nuvemfiscal.Factory(cfg.Gateway, nil, oauth.NewMemoryCache(), nuvemfiscal.TokenURL))

	// A nil tx manager makes the services use the tenant's one from the context.
	a.Contingency = fiscal.NewContingencyManager(a.Documents, a.Profiles, a.Gateways, a.Events, nil)
	a.Emission = fiscal.NewService(a.Documents, a.Profiles, a.Numbers, a.Gateways,
		payload.NewServiceBuilder(dialects), a.Contingency, a.Events, nil)
	a.Dispatcher = fiscal.NewWebhookDispatcher(a.Webhooks, nil, cfg.Webhook)
	a.Subscription = fiscal.NewSubscriptionService(a.Webhooks)

	return a, nil
}

// Close releases tenant pools and the meta pool.
func (a *App) Close() {
	a.Tenants.Close()
	a.MetaPool.Close()
}

// TenantContext binds the tenant database to ctx the way the HTTP tenant
// middleware does. release must be called when the work is done.
func (a *App) TenantContext(ctx context.Context, tenantID string) (context.Context, func(), error) {
	mp, err := a.Tenants.GetPool(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	mp.AcquireRef()

	ctx = tenant.WithPool(ctx, mp.Pool())
	ctx = tenant.WithTxManager(ctx, postgres.NewTxManager(mp.Pool()))
	ctx = tenant.WithTenant(ctx, mp.Tenant())
	return ctx, mp.ReleaseRef, nil
}

func dialectResolver(path string) (payload.DialectResolver, error) {
	if path == "" {
		return payload.DefaultResolver(), nil
	}
	r, err := municipality.Load(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}
