package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"fiscalhub/internal/core/id"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/http/v1/dto"
)

// SubscriptionService manages webhook subscriptions.
type SubscriptionService interface {
	Subscribe(ctx context.Context, endpoint, secret string, events []fiscal.Event) (*fiscal.WebhookSubscription, error)
	List(ctx context.Context) ([]*fiscal.WebhookSubscription, error)
	Unsubscribe(ctx context.Context, subID id.ID) error
	Reactivate(ctx context.Context, subID id.ID) (*fiscal.WebhookSubscription, error)
}

// WebhookHandler serves /webhooks.
type WebhookHandler struct {
	*BaseHandler
	svc SubscriptionService
}

func NewWebhookHandler(base *BaseHandler, svc SubscriptionService) *WebhookHandler {
	return &WebhookHandler{BaseHandler: base, svc: svc}
}

// Subscribe handles POST /webhooks. The secret is only returned here.
func (h *WebhookHandler) Subscribe(c *gin.Context) {
	var req dto.SubscribeRequest
	if !h.BindJSON(c, &req) {
		return
	}
	sub, err := h.svc.Subscribe(c.Request.Context(), req.URL, req.Secret, req.Events)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.SubscriptionResponse{WebhookSubscription: sub, Secret: sub.Secret})
}

// List handles GET /webhooks.
func (h *WebhookHandler) List(c *gin.Context) {
	subs, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewList(subs))
}

// Delete handles DELETE /webhooks/:id.
func (h *WebhookHandler) Delete(c *gin.Context) {
	subID, ok := h.ParseID(c)
	if !ok {
		return
	}
	if err := h.svc.Unsubscribe(c.Request.Context(), subID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Reactivate handles POST /webhooks/:id/reactivate.
func (h *WebhookHandler) Reactivate(c *gin.Context) {
	subID, ok := h.ParseID(c)
	if !ok {
		return
	}
	sub, err := h.svc.Reactivate(c.Request.Context(), subID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, sub)
}
