package dto

import (
	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/domain/fiscal/payload"
)

// CancelRequest is the body of POST /documents/:id/cancel.
type CancelRequest struct {
	Justification string `json:"justification" binding:"required,min=15,max=255"`
}

// SetNextNumberRequest overrides a numbering counter.
type SetNextNumberRequest struct {
	Family numerator.Family `json:"family" binding:"required,oneof=nfe nfse"`
	Next   int64            `json:"next" binding:"required,min=1"`
}

// GapQuery is the query of GET /numbering/gap.
type GapQuery struct {
	Family   numerator.Family `form:"family" binding:"required,oneof=nfe nfse"`
	Expected int64            `form:"expected" binding:"required,min=1"`
}

type GapResponse struct {
	Family   numerator.Family `json:"family"`
	Series   string           `json:"series"`
	Current  int64            `json:"current"`
	Expected int64            `json:"expected"`
	HasGap   bool             `json:"hasGap"`
}

func FromGapReport(r numerator.GapReport) GapResponse {
	return GapResponse{
		Family:   r.Family,
		Series:   r.Series,
		Current:  r.Current,
		Expected: r.Expected,
		HasGap:   r.HasGap,
	}
}

// ContingencyCountResponse reports the documents waiting for retransmission.
type ContingencyCountResponse struct {
	Pending int `json:"pending"`
}

// SubscribeRequest registers a webhook endpoint. An empty secret is generated.
type SubscribeRequest struct {
	URL    string         `json:"url" binding:"required,url"`
	Secret string         `json:"secret" binding:"omitempty,min=16"`
	Events []fiscal.Event `json:"events"`
}

// SubscriptionResponse shows a subscription. Secret is only set on creation.
type SubscriptionResponse struct {
	*fiscal.WebhookSubscription
	Secret string `json:"secret,omitempty"`
}

// ProfileRequest replaces the tenant fiscal profile. Credentials are sealed
// before storage and never returned.
type ProfileRequest struct {
	Issuer      payload.Issuer     `json:"issuer"`
	Region      string             `json:"region" binding:"required,len=2"`
	Provider    string             `json:"provider" binding:"required,oneof=focusnfe nuvemfiscal"`
	BaseURL     string             `json:"baseUrl" binding:"omitempty,url"`
	Credentials ProfileCredentials `json:"credentials"`
}

// ProfileCredentials are the provider secrets of a profile.
type ProfileCredentials struct {
	Token        string `json:"token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Environment  string `json:"environment" binding:"omitempty,oneof=producao homologacao"`
}

type ProfileResponse struct {
	*fiscal.Profile
	HasCredentials bool `json:"hasCredentials"`
}
