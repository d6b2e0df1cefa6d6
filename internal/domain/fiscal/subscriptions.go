package fiscal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/id"
	"fiscalhub/internal/core/tenant"
)

const secretBytes = 32

// SubscriptionService manages the webhook subscriptions of the tenant in
// context.
type SubscriptionService struct {
	repo WebhookRepository
}

func NewSubscriptionService(repo WebhookRepository) *SubscriptionService {
	return &SubscriptionService{repo: repo}
}

// Subscribe registers endpoint for events. An empty secret is generated; the
// returned subscription is the only place it is ever shown.
func (s *SubscriptionService) Subscribe(ctx context.Context, endpoint, secret string, events []Event) (*WebhookSubscription, error) {
	tenantID := tenant.GetTenantID(ctx)
	if tenantID == "" {
		return nil, apperror.NewValidation("tenant is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, apperror.NewValidation("webhook url must be an absolute http(s) url").WithDetail("url", endpoint)
	}
	if len(events) == 0 {
		events = Events()
	}
	for _, e := range events {
		if !e.Valid() {
			return nil, apperror.NewValidation("unknown event").WithDetail("event", e)
		}
	}
	if secret == "" {
		if secret, err = newSecret(); err != nil {
			return nil, apperror.NewInternal(err)
		}
	}

	sub := NewWebhookSubscription(tenantID, u.String(), secret, events)
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionService) List(ctx context.Context) ([]*WebhookSubscription, error) {
	return s.repo.List(ctx, tenant.GetTenantID(ctx))
}

// owned loads subID and hides subscriptions of other tenants.
func (s *SubscriptionService) owned(ctx context.Context, subID id.ID) (*WebhookSubscription, error) {
	sub, err := s.repo.GetByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.TenantID != tenant.GetTenantID(ctx) {
		return nil, apperror.NewNotFound("webhook_subscription", subID.String())
	}
	return sub, nil
}

func (s *SubscriptionService) Unsubscribe(ctx context.Context, subID id.ID) error {
	if _, err := s.owned(ctx, subID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, subID)
}

// Reactivate turns a deactivated subscription back on with a zero counter.
func (s *SubscriptionService) Reactivate(ctx context.Context, subID id.ID) (*WebhookSubscription, error) {
	if _, err := s.owned(ctx, subID); err != nil {
		return nil, err
	}
	if err := s.repo.Reactivate(ctx, subID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, subID)
}

func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
