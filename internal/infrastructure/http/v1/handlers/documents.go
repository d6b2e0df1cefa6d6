package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fiscalhub/internal/core/id"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/http/v1/dto"
)

// DocumentService is the emission pipeline as seen by the API.
type DocumentService interface {
	Emit(ctx context.Context, req fiscal.EmissionRequest) (*fiscal.EmissionResult, error)
	Get(ctx context.Context, docID id.ID) (*fiscal.FiscalDocument, error)
	Cancel(ctx context.Context, docID id.ID, justification string) (*fiscal.EmissionResult, error)
	RefreshStatus(ctx context.Context, docID id.ID) (*fiscal.EmissionResult, error)
	DownloadPDF(ctx context.Context, docID id.ID) ([]byte, error)
	DownloadXML(ctx context.Context, docID id.ID) ([]byte, error)
}

// DocumentHandler serves /documents.
type DocumentHandler struct {
	*BaseHandler
	svc DocumentService
}

func NewDocumentHandler(base *BaseHandler, svc DocumentService) *DocumentHandler {
	return &DocumentHandler{BaseHandler: base, svc: svc}
}

// Emit handles POST /documents. Upstream rejections and contingency are not
// errors: the document is created either way and the body tells what happened.
func (h *DocumentHandler) Emit(c *gin.Context) {
	var req fiscal.EmissionRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.svc.Emit(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, res)
}

// Get handles GET /documents/:id.
func (h *DocumentHandler) Get(c *gin.Context) {
	docID, ok := h.ParseID(c)
	if !ok {
		return
	}
	doc, err := h.svc.Get(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, doc)
}

// Cancel handles POST /documents/:id/cancel.
func (h *DocumentHandler) Cancel(c *gin.Context) {
	docID, ok := h.ParseID(c)
	if !ok {
		return
	}
	var req dto.CancelRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.svc.Cancel(c.Request.Context(), docID, req.Justification)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// Refresh handles POST /documents/:id/refresh.
func (h *DocumentHandler) Refresh(c *gin.Context) {
	docID, ok := h.ParseID(c)
	if !ok {
		return
	}
	res, err := h.svc.RefreshStatus(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// PDF handles GET /documents/:id/pdf.
func (h *DocumentHandler) PDF(c *gin.Context) {
	h.download(c, h.svc.DownloadPDF, "application/pdf", ".pdf")
}

// XML handles GET /documents/:id/xml.
func (h *DocumentHandler) XML(c *gin.Context) {
	h.download(c, h.svc.DownloadXML, "application/xml", ".xml")
}

func (h *DocumentHandler) download(c *gin.Context, fetch func(context.Context, id.ID) ([]byte, error), contentType, ext string) {
	docID, ok := h.ParseID(c)
	if !ok {
		return
	}
	data, err := fetch(c.Request.Context(), docID)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+docID.String()+ext+`"`)
	c.Data(http.StatusOK, contentType, data)
}
