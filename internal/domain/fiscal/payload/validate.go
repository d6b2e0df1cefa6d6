package payload

import (
	"fmt"
	"strings"

	"fiscalhub/internal/core/apperror"
)

// violations collects field errors so the caller sees all missing data at once.
type violations []string

func (v *violations) require(cond bool, field, msg string) {
	if !cond {
		*v = append(*v, field+": "+msg)
	}
}

func (v violations) err(what string) error {
	if len(v) == 0 {
		return nil
	}
	return apperror.NewFiscalValidation(fmt.Sprintf("%s payload cannot be built", what)).
		WithDetail("violations", []string(v))
}

func validateIssuer(v *violations, is Issuer) {
	v.require(len(Digits(is.CNPJ)) == 14, "issuer.cnpj", "must have 14 digits")
	v.require(strings.TrimSpace(is.LegalName) != "", "issuer.legal_name", "is required")
	v.require(is.Regime.Valid(), "issuer.regime", "must be 1, 2 or 3")
	v.require(len(Digits(is.Address.CityCode)) == 7, "issuer.address.city_code", "must be a 7-digit IBGE code")
	v.require(len(is.Address.State) == 2, "issuer.address.state", "must be a 2-letter UF")
}

// ValidateIssuer checks the issuer data every payload needs.
func ValidateIssuer(is Issuer) error {
	var v violations
	validateIssuer(&v, is)
	return v.err("issuer")
}

func validateRecipientDocument(v *violations, r Recipient) {
	v.require(r.IsPerson() || r.IsCompany(), "recipient.document", "must be a CPF (11 digits) or CNPJ (14 digits)")
	v.require(strings.TrimSpace(r.Name) != "", "recipient.name", "is required")
}

// ValidateGoods checks everything BuildGoods needs. It runs before a number is
// reserved, so a failure here consumes nothing.
func ValidateGoods(in GoodsInput) error {
	var v violations

	validateIssuer(&v, in.Issuer)
	v.require(Digits(in.Issuer.StateRegistration) != "", "issuer.state_registration", "is required for NF-e")
	validateRecipientDocument(&v, in.Recipient)
	v.require(in.Recipient.Address.State != "", "recipient.address.state", "is required")
	v.require(in.Recipient.Address.CityCode != "", "recipient.address.city_code", "is required")
	v.require(len(in.Items) > 0, "items", "at least one item is required")

	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		v.require(strings.TrimSpace(it.Description) != "", field+".description", "is required")
		v.require(len(Digits(it.NCM)) == 8, field+".ncm", "must have 8 digits")
		v.require(len(Digits(it.CFOP)) == 4, field+".cfop", "must have 4 digits")
		v.require(it.Quantity.IsPositive(), field+".quantity", "must be positive")
		v.require(!it.UnitPrice.IsNegative(), field+".unit_price", "must not be negative")
		v.require(!it.Discount.IsNegative() && it.Discount.LessThanOrEqual(it.Gross()), field+".discount", "must be between zero and the gross value")
		v.require(it.Origin >= 0 && it.Origin <= 8, field+".origin", "must be 0-8")

		if in.Issuer.Regime.Simplified() {
			v.require(csosnCodes[it.ICMS.CSOSN], field+".icms.csosn", "unknown or missing CSOSN")
		} else {
			v.require(icmsCSTCodes[it.ICMS.CST], field+".icms.cst", "unknown or missing CST")
		}
		v.require(!it.ICMS.Rate.IsNegative() && !it.ICMS.STRate.IsNegative(), field+".icms", "rates must not be negative")
	}

	if in.Purpose == PurposeReturn || in.Purpose == PurposeComplementary {
		v.require(len(in.Options.ReferencedKeys) > 0, "options.referenced_keys", "return and complementary documents must reference an authorized NF-e")
	}
	for i, key := range in.Options.ReferencedKeys {
		v.require(len(Digits(key)) == 44, fmt.Sprintf("options.referenced_keys[%d]", i), "must be a 44-digit access key")
	}

	return v.err("goods")
}

// ValidateServices checks the generic NFS-e requirements. Dialect-specific
// checks run in ServiceBuilder.Validate.
func ValidateServices(in ServiceInput) error {
	var v violations

	validateIssuer(&v, in.Issuer)
	v.require(Digits(in.Issuer.MunicipalRegistration) != "", "issuer.municipal_registration", "is required for NFS-e")
	validateRecipientDocument(&v, in.Recipient)

	s := in.Service
	v.require(strings.TrimSpace(s.Description) != "", "service.description", "is required")
	v.require(s.Amount.IsPositive(), "service.amount", "must be positive")
	v.require(!s.Deductions.IsNegative() && s.Deductions.LessThanOrEqual(s.Amount), "service.deductions", "must be between zero and the amount")
	v.require(!s.Discount.IsNegative(), "service.discount", "must not be negative")
	v.require(s.code(in.Issuer) != "", "service.service_code", "no service code on the service or the issuer")
	v.require(s.issRate(in.Issuer).IsPositive(), "service.iss_rate", "no ISS rate on the service or the issuer")

	return v.err("services")
}
