package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/core/apperror"
	appctx "fiscalhub/internal/core/context"
	"fiscalhub/internal/core/tenant"
)

func init() { gin.SetMode(gin.TestMode) }

type staticValidator struct {
	user *appctx.UserContext
}

func (v staticValidator) ValidateToken(token string) (*appctx.UserContext, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return v.user, nil
}

type failingPools struct{ err error }

func (p failingPools) GetPool(context.Context, string) (*tenant.ManagedPool, error) {
	return nil, p.err
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func withTenant(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(tenant.WithTenant(c.Request.Context(), &tenant.Tenant{ID: id}))
	}
}

func TestAuth(t *testing.T) {
	user := &appctx.UserContext{UserID: "u1", TenantID: "t1", Roles: []string{"fiscal:operator"}}
	r := gin.New()
	r.Use(ErrorHandler(), withTenant("t1"), Auth(staticValidator{user: user}))
	r.GET("/op", RequireRole("fiscal:operator"), func(c *gin.Context) {
		assert.Equal(t, "u1", appctx.GetUserID(c.Request.Context()))
		c.Status(http.StatusOK)
	})
	r.GET("/admin", RequireRole("fiscal:admin"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/op", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req.Header.Set("Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req.Header.Set("Authorization", "bearer good")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := serve(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), apperror.CodeForbidden)
}

func TestAuth_TenantMismatch(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(), withTenant("t2"), Auth(staticValidator{user: &appctx.UserContext{TenantID: "t1"}}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := serve(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "tenant mismatch")
}

func TestTenantDB_Errors(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		status int
	}{
		{"missing header", "", nil, http.StatusBadRequest},
		{"not a uuid", "acme", nil, http.StatusBadRequest},
		{"unknown tenant", "0190c0de-0000-7000-8000-000000000001", tenant.ErrTenantNotFound, http.StatusNotFound},
		{"suspended", "0190c0de-0000-7000-8000-000000000001", tenant.ErrTenantNotActive, http.StatusForbidden},
		{"pool limit", "0190c0de-0000-7000-8000-000000000001", tenant.ErrMaxPoolLimit, http.StatusServiceUnavailable},
		{"db down", "0190c0de-0000-7000-8000-000000000001", errors.New("dial tcp"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(ErrorHandler(), TenantDB(failingPools{err: tc.err}))
			r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(TenantHeader, tc.header)
			}
			assert.Equal(t, tc.status, serve(r, req).Code)
		})
	}
}

func TestRecoveryAndTrace(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler())
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) {
		require.NotNil(t, appctx.GetTrace(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := serve(r, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "req-1")
	assert.NotContains(t, w.Body.String(), "boom")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
}

func TestErrorHandler_HidesUnknownErrors(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/", func(c *gin.Context) { _ = c.Error(errors.New("password=hunter2")) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}
