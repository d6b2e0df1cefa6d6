package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/infrastructure/http/v1/dto"
)

// NumberingHandler serves /numbering.
type NumberingHandler struct {
	*BaseHandler
	numbers numerator.Generator
}

func NewNumberingHandler(base *BaseHandler, numbers numerator.Generator) *NumberingHandler {
	return &NumberingHandler{BaseHandler: base, numbers: numbers}
}

// Gap handles GET /numbering/gap?family=&expected=.
func (h *NumberingHandler) Gap(c *gin.Context) {
	var q dto.GapQuery
	if !h.BindQuery(c, &q) {
		return
	}
	report, err := h.numbers.CheckGap(c.Request.Context(), h.TenantID(c), q.Family, q.Expected)
	if err != nil {
		h.Error(c, apperror.NewNumbering(err))
		return
	}
	h.OK(c, dto.FromGapReport(report))
}

// SetNext handles PUT /numbering/next.
func (h *NumberingHandler) SetNext(c *gin.Context) {
	var req dto.SetNextNumberRequest
	if !h.BindJSON(c, &req) {
		return
	}
	err := h.numbers.SetNextNumber(c.Request.Context(), h.TenantID(c), req.Family, req.Next)
	switch {
	case errors.Is(err, numerator.ErrInvalidNextNumber):
		h.Error(c, apperror.NewValidation(err.Error()))
	case errors.Is(err, numerator.ErrNextNumberBelowCurrent):
		h.Error(c, apperror.NewBusinessRule(apperror.CodeBusinessRule, err.Error()))
	case err != nil:
		h.Error(c, apperror.NewNumbering(err))
	default:
		h.Success(c, "next number updated")
	}
}
