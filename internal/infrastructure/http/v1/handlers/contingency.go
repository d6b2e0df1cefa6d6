package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/http/v1/dto"
)

// ContingencyService is the contingency queue as seen by the API.
type ContingencyService interface {
	PendingCount(ctx context.Context, tenantID string) (int, error)
	RetransmitPending(ctx context.Context, tenantID string) (fiscal.BatchResult, error)
}

// ContingencyHandler serves /contingency.
type ContingencyHandler struct {
	*BaseHandler
	mgr ContingencyService
}

func NewContingencyHandler(base *BaseHandler, mgr ContingencyService) *ContingencyHandler {
	return &ContingencyHandler{BaseHandler: base, mgr: mgr}
}

// Count handles GET /contingency.
func (h *ContingencyHandler) Count(c *gin.Context) {
	n, err := h.mgr.PendingCount(c.Request.Context(), h.TenantID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ContingencyCountResponse{Pending: n})
}

// Retransmit handles POST /contingency/retransmit. It runs synchronously.
func (h *ContingencyHandler) Retransmit(c *gin.Context) {
	res, err := h.mgr.RetransmitPending(c.Request.Context(), h.TenantID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}
