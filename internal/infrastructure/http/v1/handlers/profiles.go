package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/domain/fiscal/payload"
	"fiscalhub/internal/infrastructure/http/v1/dto"
)

// Sealer encrypts provider credentials for storage.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
}

// GatewayCache drops the cached gateway of a tenant.
type GatewayCache interface {
	Forget(tenantID string)
}

// ProfileHandler serves /profile.
type ProfileHandler struct {
	*BaseHandler
	profiles fiscal.ProfileRepository
	sealer   Sealer
	gateways GatewayCache
}

func NewProfileHandler(base *BaseHandler, profiles fiscal.ProfileRepository, sealer Sealer, gateways GatewayCache) *ProfileHandler {
	return &ProfileHandler{BaseHandler: base, profiles: profiles, sealer: sealer, gateways: gateways}
}

// Get handles GET /profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	p, err := h.profiles.Get(c.Request.Context(), h.TenantID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ProfileResponse{Profile: p, HasCredentials: len(p.SealedCredentials) > 0})
}

// Put handles PUT /profile. It replaces the whole profile.
func (h *ProfileHandler) Put(c *gin.Context) {
	var req dto.ProfileRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if err := checkCredentials(req.Provider, req.Credentials); err != nil {
		h.Error(c, err)
		return
	}
	if err := payload.ValidateIssuer(req.Issuer); err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	p, err := h.build(ctx, req)
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.profiles.Save(ctx, p); err != nil {
		h.Error(c, err)
		return
	}
	h.gateways.Forget(p.TenantID)
	h.OK(c, dto.ProfileResponse{Profile: p, HasCredentials: true})
}

func (h *ProfileHandler) build(ctx context.Context, req dto.ProfileRequest) (*fiscal.Profile, error) {
	plain, err := json.Marshal(req.Credentials)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	sealed, err := h.sealer.Seal(plain)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return &fiscal.Profile{
		TenantID:          tenantOf(ctx),
		Issuer:            req.Issuer,
		Region:            strings.ToUpper(req.Region),
		Provider:          req.Provider,
		BaseURL:           req.BaseURL,
		SealedCredentials: sealed,
	}, nil
}

func checkCredentials(provider string, c dto.ProfileCredentials) error {
	switch provider {
	case fiscal.ProviderFocusNFe:
		if c.Token == "" {
			return apperror.NewValidation("focusnfe requires a token").WithDetail("field", "credentials.token")
		}
	case fiscal.ProviderNuvemFiscal:
		if c.ClientID == "" || c.ClientSecret == "" {
			return apperror.NewValidation("nuvemfiscal requires client_id and client_secret").
				WithDetail("field", "credentials")
		}
	}
	return nil
}
