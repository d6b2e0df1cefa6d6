package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/infrastructure/storage/postgres"
	"fiscalhub/pkg/logger"
)

// TenantHeader is the HTTP header for tenant identification.
const TenantHeader = "X-Tenant-ID"

// PoolSource hands out tenant database pools.
type PoolSource interface {
	GetPool(ctx context.Context, tenantID string) (*tenant.ManagedPool, error)
}

// TenantDB resolves the tenant from X-Tenant-ID and binds its pool, a
// transaction manager and the tenant itself to the request context. It must
// run before any repository call.
func TenantDB(pools PoolSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		raw := c.GetHeader(TenantHeader)
		if raw == "" {
			_ = c.Error(apperror.NewValidation("tenant is required").WithDetail("header", TenantHeader))
			c.Abort()
			return
		}
		tenantUUID, err := uuid.Parse(raw)
		if err != nil {
			_ = c.Error(
				apperror.NewValidation("invalid tenant id").
					WithDetail("header", TenantHeader).
					WithDetail("value", raw),
			)
			c.Abort()
			return
		}
		tenantID := tenantUUID.String()

		mp, err := pools.GetPool(ctx, tenantID)
		if err != nil {
			logger.Warn(ctx, "tenant pool error", "tenant_id", tenantID, "error", err)
			_ = c.Error(poolError(tenantID, err))
			c.Abort()
			return
		}

		mp.AcquireRef()
		defer mp.ReleaseRef()

		ctx = tenant.WithPool(ctx, mp.Pool())
		ctx = tenant.WithTxManager(ctx, postgres.NewTxManager(mp.Pool()))
		ctx = tenant.WithTenant(ctx, mp.Tenant())
		c.Request = c.Request.WithContext(ctx)
		c.Set("tenant_id", tenantID)

		c.Next()
	}
}

func poolError(tenantID string, err error) error {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		return apperror.NewNotFound("tenant", tenantID)
	case errors.Is(err, tenant.ErrTenantNotActive):
		return apperror.NewForbidden("tenant is not active").WithDetail("tenant_id", tenantID)
	case errors.Is(err, tenant.ErrMaxPoolLimit):
		appErr := apperror.NewInternal(err)
		appErr.HTTPStatus = http.StatusServiceUnavailable
		appErr.Message = "service temporarily unavailable"
		return appErr.WithDetail("tenant_id", tenantID)
	default:
		return apperror.NewInternal(err).WithDetail("tenant_id", tenantID)
	}
}
