package payload

import (
	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/types"
)

// Base calculation modalities (modBC / modBCST).
const (
	modBCOperationValue = 3
	modBCSTMargin       = 4
)

// CSOSN codes for Simples Nacional issuers.
var csosnCodes = map[string]bool{
	"101": true, "102": true, "103": true, "201": true, "202": true,
	"203": true, "300": true, "400": true, "500": true, "900": true,
}

// CST codes for standard-regime issuers.
var icmsCSTCodes = map[string]bool{
	"00": true, "10": true, "20": true, "30": true, "40": true, "41": true,
	"50": true, "51": true, "60": true, "70": true, "90": true,
}

// applyICMS fills the ICMS fields of gi for the item's CSOSN or CST and records
// the amounts that roll into the document totals.
func applyICMS(gi *GoodsItem, amounts *itemAmounts, tax ICMSTax, net decimal.Decimal, regime Regime) {
	if regime.Simplified() {
		gi.ICMSSituacaoTributaria = tax.CSOSN
		applyCSOSN(gi, amounts, tax, net)
		return
	}
	gi.ICMSSituacaoTributaria = tax.CST
	applyCST(gi, amounts, tax, net)
}

func applyCSOSN(gi *GoodsItem, amounts *itemAmounts, tax ICMSTax, net decimal.Decimal) {
	switch tax.CSOSN {
	case "101":
		setSimplesCredit(gi, tax, net)
	case "102", "103", "300", "400":
		// Taxed inside the Simples guide or exempt: only origin and code.
	case "201":
		setSimplesCredit(gi, tax, net)
		setST(gi, amounts, tax, net, ownICMS(tax, net))
	case "202", "203":
		setST(gi, amounts, tax, net, ownICMS(tax, net))
	case "500":
		setRetainedST(gi, tax)
	case "900":
		setOwnICMS(gi, amounts, tax, net)
		if tax.STRate.IsPositive() {
			setST(gi, amounts, tax, net, amounts.icms)
		}
		if tax.CreditRate.IsPositive() {
			setSimplesCredit(gi, tax, net)
		}
	}
}

func applyCST(gi *GoodsItem, amounts *itemAmounts, tax ICMSTax, net decimal.Decimal) {
	switch tax.CST {
	case "00":
		own := tax
		own.BaseReduction = decimal.Zero
		setOwnICMS(gi, amounts, own, net)
	case "10":
		own := tax
		own.BaseReduction = decimal.Zero
		setOwnICMS(gi, amounts, own, net)
		setST(gi, amounts, tax, net, amounts.icms)
	case "20", "51":
		setOwnICMS(gi, amounts, tax, net)
	case "30":
		setST(gi, amounts, tax, net, ownICMS(tax, net))
	case "40", "41", "50":
		// Exempt, not taxed or suspended.
	case "60":
		setRetainedST(gi, tax)
	case "70":
		setOwnICMS(gi, amounts, tax, net)
		setST(gi, amounts, tax, net, amounts.icms)
	case "90":
		if tax.Rate.IsPositive() {
			setOwnICMS(gi, amounts, tax, net)
		}
		if tax.STRate.IsPositive() {
			setST(gi, amounts, tax, net, amounts.icms)
		}
	}
}

// ownICMS is the operation's own ICMS, deducted from the ST value.
func ownICMS(tax ICMSTax, net decimal.Decimal) decimal.Decimal {
	return types.ApplyRate(types.Reduce(net, tax.BaseReduction), tax.Rate)
}

func setOwnICMS(gi *GoodsItem, amounts *itemAmounts, tax ICMSTax, net decimal.Decimal) {
	base := types.Reduce(net, tax.BaseReduction)
	value := types.ApplyRate(base, tax.Rate)

	mod := modBCOperationValue
	gi.ICMSModalidadeBaseCalculo = &mod
	gi.ICMSBaseCalculo = types.MoneyPtr(base)
	gi.ICMSAliquota = types.RatePtr(tax.Rate)
	gi.ICMSValor = types.MoneyPtr(value)
	if tax.BaseReduction.IsPositive() {
		gi.ICMSReducaoBaseCalculo = types.RatePtr(tax.BaseReduction)
	}

	amounts.icmsBase = base
	amounts.icms = value
}

func setST(gi *GoodsItem, amounts *itemAmounts, tax ICMSTax, net, own decimal.Decimal) {
	base := types.Markup(types.Reduce(net, tax.STBaseReduction), tax.STMargin)
	value := types.ApplyRate(base, tax.STRate).Sub(own)
	if value.IsNegative() {
		value = decimal.Zero
	}

	mod := modBCSTMargin
	gi.ICMSModalidadeBaseCalculoST = &mod
	gi.ICMSMargemValorAdicionadoST = types.RatePtr(tax.STMargin)
	if tax.STBaseReduction.IsPositive() {
		gi.ICMSReducaoBaseCalculoST = types.RatePtr(tax.STBaseReduction)
	}
	gi.ICMSBaseCalculoST = types.MoneyPtr(base)
	gi.ICMSAliquotaST = types.RatePtr(tax.STRate)
	gi.ICMSValorST = types.MoneyPtr(value)

	amounts.stBase = base
	amounts.st = value
}

func setRetainedST(gi *GoodsItem, tax ICMSTax) {
	gi.ICMSBaseCalculoRetidoST = types.MoneyPtr(tax.RetainedSTBase.Round(2))
	gi.ICMSValorRetidoST = types.MoneyPtr(tax.RetainedSTValue.Round(2))
}

func setSimplesCredit(gi *GoodsItem, tax ICMSTax, net decimal.Decimal) {
	gi.ICMSAliquotaCreditoSimples = types.RatePtr(tax.CreditRate)
	gi.ICMSValorCreditoSimples = types.MoneyPtr(types.ApplyRate(net, tax.CreditRate))
}
