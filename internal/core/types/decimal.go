// Package types provides money and rate helpers shared by the fiscal packages.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Binary floats never touch tax arithmetic.
type Money = decimal.Decimal

// Rate is a percentage such as 7 for 7%.
type Rate = decimal.Decimal

var hundred = decimal.NewFromInt(100)

// NewMoneyFromString creates a Money value from a string.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// ApplyRate returns base * rate / 100 rounded to cents.
func ApplyRate(base Money, rate Rate) Money {
	return base.Mul(rate).Div(hundred).Round(2)
}

// Reduce returns base reduced by pct percent, rounded to cents.
func Reduce(base Money, pct Rate) Money {
	if pct.IsZero() {
		return base
	}
	return base.Sub(ApplyRate(base, pct))
}

// Markup returns base increased by pct percent, rounded to cents.
func Markup(base Money, pct Rate) Money {
	if pct.IsZero() {
		return base
	}
	return base.Add(ApplyRate(base, pct))
}

// FormatMoney renders a fixed 2-decimal string ("700.00").
func FormatMoney(m Money) string {
	return m.StringFixed(2)
}

// FormatRate renders a percentage with 2 decimals ("7.00").
func FormatRate(r Rate) string {
	return r.StringFixed(2)
}

// FormatFraction renders a percentage as a 4-decimal fraction (5 -> "0.0500").
func FormatFraction(r Rate) string {
	return r.Div(hundred).StringFixed(4)
}

// FormatQuantity renders quantities with 4 decimals.
func FormatQuantity(q decimal.Decimal) string {
	return q.StringFixed(4)
}

// MoneyPtr formats m and returns a pointer, used for optional payload fields.
func MoneyPtr(m Money) *string {
	s := FormatMoney(m)
	return &s
}

// RatePtr formats r and returns a pointer.
func RatePtr(r Rate) *string {
	s := FormatRate(r)
	return &s
}
