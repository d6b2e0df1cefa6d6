package payload

import (
	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/types"
)

// simplesContributionCST is the PIS/COFINS situation used by every Simples
// Nacional item: both contributions are paid inside the DAS guide.
const simplesContributionCST = "07"

// Default codes for standard-regime items without an override.
const (
	defaultContributionCST = "01"
	defaultIPICST          = "50"
	defaultIPIFramework    = "999"
)

// contributionShape is the rendered PIS or COFINS group.
type contributionShape struct {
	cst                string
	base, rate, amount *string
	value              decimal.Decimal
}

// contribution resolves a PIS/COFINS group. Simples Nacional issuers always get
// the exempt shape; item overrides are ignored for them.
func contribution(tax ContributionTax, defaultRate decimal.Decimal, regime Regime, net decimal.Decimal) contributionShape {
	if regime.Simplified() {
		return contributionShape{cst: simplesContributionCST}
	}

	cst := tax.CST
	if cst == "" {
		cst = defaultContributionCST
	}
	rate := tax.Rate
	if rate.IsZero() {
		rate = defaultRate
	}

	switch cst {
	case "04", "05", "06", "07", "08", "09":
		return contributionShape{cst: cst}
	}

	value := types.ApplyRate(net, rate)
	return contributionShape{
		cst:    cst,
		base:   types.MoneyPtr(net),
		rate:   types.RatePtr(rate),
		amount: types.MoneyPtr(value),
		value:  value,
	}
}

func applyPIS(gi *GoodsItem, tax ContributionTax, is Issuer, net decimal.Decimal) decimal.Decimal {
	c := contribution(tax, is.PISRate, is.Regime, net)
	gi.PISSituacaoTributaria = c.cst
	gi.PISBaseCalculo = c.base
	gi.PISAliquotaPorcentual = c.rate
	gi.PISValor = c.amount
	return c.value
}

func applyCOFINS(gi *GoodsItem, tax ContributionTax, is Issuer, net decimal.Decimal) decimal.Decimal {
	c := contribution(tax, is.COFINSRate, is.Regime, net)
	gi.COFINSSituacaoTributaria = c.cst
	gi.COFINSBaseCalculo = c.base
	gi.COFINSAliquotaPorcentual = c.rate
	gi.COFINSValor = c.amount
	return c.value
}

// applyIPI renders the IPI group for industrialized items. Items without IPI
// data get no group at all.
func applyIPI(gi *GoodsItem, tax *IPITax, net decimal.Decimal) decimal.Decimal {
	if tax == nil {
		return decimal.Zero
	}

	cst := tax.CST
	if cst == "" {
		cst = defaultIPICST
	}
	framework := tax.LegalFramework
	if framework == "" {
		framework = defaultIPIFramework
	}
	gi.IPISituacaoTributaria = &cst
	gi.IPICodigoEnquadramentoLegal = &framework

	switch cst {
	case "00", "49", "50", "99":
	default:
		return decimal.Zero
	}

	value := types.ApplyRate(net, tax.Rate)
	gi.IPIBaseCalculo = types.MoneyPtr(net)
	gi.IPIAliquota = types.RatePtr(tax.Rate)
	gi.IPIValor = types.MoneyPtr(value)
	return value
}
