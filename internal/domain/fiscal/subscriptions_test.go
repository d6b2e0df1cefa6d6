package fiscal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/tenant"
)

func TestSubscribe_GeneratesSecretAndDefaultsEvents(t *testing.T) {
	repo := newMemWebhooks()
	svc := NewSubscriptionService(repo)

	sub, err := svc.Subscribe(tenantCtx(), "https://erp.example/hooks", "", nil)
	require.NoError(t, err)
	assert.Len(t, sub.Secret, 64)
	assert.Equal(t, Events(), sub.Events)
	assert.True(t, sub.Active)
	assert.Equal(t, testTenant, repo.get(sub.ID).TenantID)
}

func TestSubscribe_Validation(t *testing.T) {
	svc := NewSubscriptionService(newMemWebhooks())

	for _, u := range []string{"", "erp.example/hooks", "ftp://erp.example", "https://"} {
		_, err := svc.Subscribe(tenantCtx(), u, "s", nil)
		assert.True(t, apperror.HasCode(err, apperror.CodeValidation), u)
	}
	_, err := svc.Subscribe(tenantCtx(), "https://erp.example", "s", []Event{"document.deleted"})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Subscribe(context.Background(), "https://erp.example", "s", nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestReactivate_ResetsCounter(t *testing.T) {
	sub := NewWebhookSubscription(testTenant, "https://erp.example", "s", []Event{EventAuthorized})
	sub.Active = false
	sub.FailureCount = 10
	repo := newMemWebhooks(sub)

	got, err := NewSubscriptionService(repo).Reactivate(tenantCtx(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Zero(t, got.FailureCount)
}

func TestSubscriptions_AreTenantScoped(t *testing.T) {
	other := NewWebhookSubscription("tenant-b", "https://b.example", "s", []Event{EventAuthorized})
	repo := newMemWebhooks(other)
	svc := NewSubscriptionService(repo)

	_, err := svc.Reactivate(tenantCtx(), other.ID)
	assert.True(t, apperror.IsNotFound(err))
	assert.True(t, apperror.IsNotFound(svc.Unsubscribe(tenantCtx(), other.ID)))

	ctxB := tenant.WithTenant(context.Background(), &tenant.Tenant{ID: "tenant-b"})
	list, err := svc.List(ctxB)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.NoError(t, svc.Unsubscribe(ctxB, other.ID))
}
