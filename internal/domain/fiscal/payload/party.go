// Package payload builds the tax payloads sent to the fiscal gateways.
//
// Builders are pure: the same input always yields the same bytes from Marshal,
// which lets a contingency retransmission resend exactly what was built first.
package payload

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Regime is the issuer's tax regime (CRT).
type Regime int

const (
	RegimeSimplesNacional Regime = 1
	RegimeSimplesExcess   Regime = 2 // Simples Nacional over the gross revenue sub-limit
	RegimeNormal          Regime = 3
)

// Valid reports whether r is a known CRT value.
func (r Regime) Valid() bool {
	return r >= RegimeSimplesNacional && r <= RegimeNormal
}

// Simplified reports whether ICMS follows the CSOSN path and PIS/COFINS are collected
// inside the Simples Nacional guide.
func (r Regime) Simplified() bool {
	return r == RegimeSimplesNacional
}

// Address is a Brazilian postal address. CityCode is the 7-digit IBGE code.
type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	CityCode   string `json:"city_code"`
	State      string `json:"state"`
	ZipCode    string `json:"zip_code"`
}

// Retentions holds federal withholding rates (percent) applied to service amounts.
type Retentions struct {
	PIS    decimal.Decimal `json:"pis"`
	COFINS decimal.Decimal `json:"cofins"`
	INSS   decimal.Decimal `json:"inss"`
	IR     decimal.Decimal `json:"ir"`
	CSLL   decimal.Decimal `json:"csll"`
}

// Any reports whether at least one rate is configured.
func (r Retentions) Any() bool {
	return r.PIS.IsPositive() || r.COFINS.IsPositive() || r.INSS.IsPositive() ||
		r.IR.IsPositive() || r.CSLL.IsPositive()
}

// Issuer is the tenant's fiscal identity plus its tax defaults.
type Issuer struct {
	CNPJ                  string  `json:"cnpj"`
	LegalName             string  `json:"legal_name"`
	TradeName             string  `json:"trade_name,omitempty"`
	StateRegistration     string  `json:"state_registration,omitempty"`
	MunicipalRegistration string  `json:"municipal_registration,omitempty"`
	Regime                Regime  `json:"regime"`
	Address               Address `json:"address"`
	Phone                 string  `json:"phone,omitempty"`
	Email                 string  `json:"email,omitempty"`

	// Standard-regime PIS/COFINS defaults when an item carries no rate.
	PISRate    decimal.Decimal `json:"pis_rate"`
	COFINSRate decimal.Decimal `json:"cofins_rate"`

	// Service defaults.
	ISSRate          decimal.Decimal `json:"iss_rate"`
	ServiceCode      string          `json:"service_code,omitempty"`       // LC 116 list item, e.g. "01.07"
	MunicipalTaxCode string          `json:"municipal_tax_code,omitempty"` // municipality's own service code
	CNAE             string          `json:"cnae,omitempty"`
	SpecialRegime    string          `json:"special_regime,omitempty"`
	Retentions       Retentions      `json:"retentions"`

	// Dialect optionally pins an NFS-e dialect by name, bypassing municipality rules.
	Dialect string `json:"dialect,omitempty"`
}

// IEIndicator tells the authority whether the recipient is an ICMS contributor.
type IEIndicator int

const (
	IEContributor    IEIndicator = 1
	IEExempt         IEIndicator = 2
	IENonContributor IEIndicator = 9
)

// Recipient is the customer of a goods document or the taker of a service.
type Recipient struct {
	Document              string      `json:"document"` // CPF (11 digits) or CNPJ (14 digits)
	Name                  string      `json:"name"`
	StateRegistration     string      `json:"state_registration,omitempty"`
	MunicipalRegistration string      `json:"municipal_registration,omitempty"`
	IEIndicator           IEIndicator `json:"ie_indicator,omitempty"`
	Email                 string      `json:"email,omitempty"`
	Phone                 string      `json:"phone,omitempty"`
	Address               Address     `json:"address"`
}

// IsCompany reports whether the recipient document is a CNPJ.
func (r Recipient) IsCompany() bool {
	return len(Digits(r.Document)) == 14
}

// IsPerson reports whether the recipient document is a CPF.
func (r Recipient) IsPerson() bool {
	return len(Digits(r.Document)) == 11
}

// Digits strips everything but 0-9.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
