package payload

import (
	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/types"
)

// ICMSTax carries the ICMS classification of an item. CSOSN applies to
// Simples Nacional issuers, CST to everyone else.
type ICMSTax struct {
	CSOSN           string          `json:"csosn,omitempty"`
	CST             string          `json:"cst,omitempty"`
	Rate            decimal.Decimal `json:"rate"`
	BaseReduction   decimal.Decimal `json:"base_reduction"`
	CreditRate      decimal.Decimal `json:"credit_rate"` // CSOSN 101/201/900 credit allowance
	STRate          decimal.Decimal `json:"st_rate"`
	STMargin        decimal.Decimal `json:"st_margin"` // MVA percent
	STBaseReduction decimal.Decimal `json:"st_base_reduction"`
	RetainedSTBase  decimal.Decimal `json:"retained_st_base"` // CSOSN 500 / CST 60
	RetainedSTValue decimal.Decimal `json:"retained_st_value"`
}

// ContributionTax is a PIS or COFINS override for an item.
type ContributionTax struct {
	CST  string          `json:"cst,omitempty"`
	Rate decimal.Decimal `json:"rate"`
}

// IPITax is present only for industrialized products.
type IPITax struct {
	CST            string          `json:"cst,omitempty"`
	LegalFramework string          `json:"legal_framework,omitempty"` // enquadramento, "999" when absent
	Rate           decimal.Decimal `json:"rate"`
}

// Item is one line of a goods document. Documents keep a snapshot of their items.
type Item struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	NCM         string          `json:"ncm"`
	CFOP        string          `json:"cfop"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Origin      int             `json:"origin"`

	ICMS   ICMSTax         `json:"icms"`
	PIS    ContributionTax `json:"pis"`
	COFINS ContributionTax `json:"cofins"`
	IPI    *IPITax         `json:"ipi,omitempty"`
}

// Gross returns quantity x unit price rounded to cents.
func (it Item) Gross() types.Money {
	return it.Quantity.Mul(it.UnitPrice).Round(2)
}

// Net returns the gross value minus the item discount.
func (it Item) Net() types.Money {
	return it.Gross().Sub(it.Discount.Round(2))
}

// ItemsTotal sums the net value of items.
func ItemsTotal(items []Item) types.Money {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Net())
	}
	return total
}
