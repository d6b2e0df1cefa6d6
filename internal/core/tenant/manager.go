package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fiscalhub/pkg/logger"
)

// ManagerConfig configures Manager behavior.
type ManagerConfig struct {
	DBUser     string
	DBPassword string

	MaxConnsPerTenant int32
	MinConnsPerTenant int32
	ConnectTimeout    time.Duration

	MaxTotalPools     int           // 0 = unlimited
	PoolIdleTimeout   time.Duration // 0 = never evict
	HealthCheckPeriod time.Duration
}

// DefaultManagerConfig returns production-safe defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConnsPerTenant: 10,
		MinConnsPerTenant: 1,
		ConnectTimeout:    10 * time.Second,
		MaxTotalPools:     100,
		PoolIdleTimeout:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// ManagedPool wraps pgxpool.Pool with lifecycle tracking.
type ManagedPool struct {
	pool     *pgxpool.Pool
	tenant   *Tenant
	lastUsed atomic.Int64
	refCount atomic.Int32
}

func (mp *ManagedPool) Touch()                 { mp.lastUsed.Store(time.Now().Unix()) }
func (mp *ManagedPool) Pool() *pgxpool.Pool    { return mp.pool }
func (mp *ManagedPool) Tenant() *Tenant        { return mp.tenant }
func (mp *ManagedPool) AcquireRef()            { mp.refCount.Add(1) }
func (mp *ManagedPool) ReleaseRef()            { mp.refCount.Add(-1) }
func (mp *ManagedPool) inUse() bool            { return mp.refCount.Load() > 0 }
func (mp *ManagedPool) idleSince(t int64) bool { return mp.lastUsed.Load() < t }

// Manager lazily opens one pool per tenant database and closes idle or broken ones.
// Safe for concurrent use.
type Manager struct {
	config   ManagerConfig
	registry Registry

	pools     sync.Map // tenantID -> *ManagedPool
	poolCount atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewManager creates the manager and starts its maintenance loop.
func NewManager(cfg ManagerConfig, registry Registry, log *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:   cfg,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.WithComponent("tenant-manager"),
	}

	if period := m.maintenancePeriod(); period > 0 {
		m.wg.Add(1)
		go m.maintenanceLoop(period)
	}
	return m
}

// GetPool returns the pool for tenantID, opening it on first use.
func (m *Manager) GetPool(ctx context.Context, tenantID string) (*ManagedPool, error) {
	if val, ok := m.pools.Load(tenantID); ok {
		mp := val.(*ManagedPool)
		mp.Touch()
		return mp, nil
	}
	return m.open(ctx, tenantID)
}

// GetActiveTenants lists tenants the worker and CLI should iterate over.
func (m *Manager) GetActiveTenants(ctx context.Context) ([]*Tenant, error) {
	return m.registry.ListActive(ctx)
}

func (m *Manager) open(ctx context.Context, tenantID string) (*ManagedPool, error) {
	if m.config.MaxTotalPools > 0 && int(m.poolCount.Load()) >= m.config.MaxTotalPools {
		return nil, fmt.Errorf("%w (%d)", ErrMaxPoolLimit, m.config.MaxTotalPools)
	}

	t, err := m.registry.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("tenant lookup failed: %w", err)
	}
	if !t.IsActive() {
		return nil, fmt.Errorf("%w: status=%s", ErrTenantNotActive, t.Status)
	}

	poolCfg, err := pgxpool.ParseConfig(t.DSN(m.config.DBUser, m.config.DBPassword))
	if err != nil {
		return nil, fmt.Errorf("parse dsn for tenant %s: %w", tenantID, err)
	}
	poolCfg.MaxConns = m.config.MaxConnsPerTenant
	poolCfg.MinConns = m.config.MinConnsPerTenant
	poolCfg.ConnConfig.ConnectTimeout = m.config.ConnectTimeout

	openCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(openCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool for tenant %s: %w", tenantID, err)
	}
	if err := pool.Ping(openCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping tenant %s: %w", tenantID, err)
	}

	mp := &ManagedPool{pool: pool, tenant: t}
	mp.Touch()

	if actual, loaded := m.pools.LoadOrStore(tenantID, mp); loaded {
		pool.Close()
		return actual.(*ManagedPool), nil
	}
	m.poolCount.Add(1)
	m.log.Infow("opened tenant pool", "tenant_id", tenantID, "db_name", t.DBName, "total_pools", m.poolCount.Load())
	return mp, nil
}

func (m *Manager) maintenancePeriod() time.Duration {
	period := m.config.HealthCheckPeriod
	if idle := m.config.PoolIdleTimeout / 2; idle > 0 && (period == 0 || idle < period) {
		period = idle
	}
	return period
}

func (m *Manager) maintenanceLoop(period time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep closes pools that are idle past the timeout or fail a ping. Pools with
// active requests are never closed.
func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	var idleBefore int64
	if m.config.PoolIdleTimeout > 0 {
		idleBefore = time.Now().Add(-m.config.PoolIdleTimeout).Unix()
	}

	m.pools.Range(func(key, value any) bool {
		tenantID := key.(string)
		mp := value.(*ManagedPool)
		if mp.inUse() {
			return true
		}
		if idleBefore > 0 && mp.idleSince(idleBefore) {
			m.closePool(tenantID, mp, "idle timeout")
			return true
		}
		if err := mp.pool.Ping(ctx); err != nil {
			m.log.Warnw("tenant pool health check failed", "tenant_id", tenantID, "error", err)
			m.closePool(tenantID, mp, "health check failed")
		}
		return true
	})
}

func (m *Manager) closePool(tenantID string, mp *ManagedPool, reason string) {
	m.pools.Delete(tenantID)
	mp.pool.Close()
	m.poolCount.Add(-1)
	m.log.Infow("closed tenant pool", "tenant_id", tenantID, "reason", reason, "total_pools", m.poolCount.Load())
}

// Close stops maintenance and closes every pool.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	var closed int
	m.pools.Range(func(_, value any) bool {
		value.(*ManagedPool).pool.Close()
		closed++
		return true
	})
	m.log.Infow("tenant manager closed", "pools_closed", closed)
}
