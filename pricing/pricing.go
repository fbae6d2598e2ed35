// Package pricing computes tips and charge totals. Amounts keep full decimal
// precision; rounding happens only at display and transmission boundaries.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTipPercent is selected whenever an order is loaded.
const DefaultTipPercent = 15

// TipPresets are the percentages offered as buttons.
var TipPresets = []int{0, 10, 15, 20}

var hundred = decimal.NewFromInt(100)

// zeroDecimalCurrencies are charged in whole units by Stripe.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true,
	"xpf": true,
}

// IsPreset reports whether p is one of the offered tip percentages.
func IsPreset(p int) bool {
	for _, preset := range TipPresets {
		if preset == p {
			return true
		}
	}
	return false
}

// TipSelection is either a preset percentage or a custom amount, never both.
type TipSelection struct {
	percent int
	custom  decimal.Decimal
}

// DefaultTip returns the selection applied on order load.
func DefaultTip() TipSelection {
	return TipSelection{percent: DefaultTipPercent}
}

// Preset selects a percentage and clears any custom amount.
func Preset(percent int) (TipSelection, error) {
	if !IsPreset(percent) {
		return TipSelection{}, fmt.Errorf("unsupported tip percentage %d", percent)
	}
	return TipSelection{percent: percent}, nil
}

// Custom selects a custom amount. A nonzero amount clears the preset;
// negative amounts are treated as zero.
func Custom(amount decimal.Decimal) TipSelection {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return TipSelection{custom: amount}
}

// CustomFromInput parses user input with ParseCustomTip.
func CustomFromInput(input string) TipSelection {
	return Custom(ParseCustomTip(input))
}

func (s TipSelection) Percent() int { return s.percent }

func (s TipSelection) CustomAmount() decimal.Decimal { return s.custom }

func (s TipSelection) IsCustom() bool { return s.custom.IsPositive() }

// Tip derives the tip for subtotal.
func (s TipSelection) Tip(subtotal decimal.Decimal) decimal.Decimal {
	if s.custom.IsPositive() {
		return s.custom
	}
	if subtotal.IsNegative() {
		return decimal.Zero
	}
	return subtotal.Mul(decimal.NewFromInt(int64(s.percent))).Div(hundred)
}

// Totals is a derived snapshot; it is never stored apart from its inputs.
type Totals struct {
	Subtotal decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal
}

// Compute returns subtotal, tip and total for a selection.
func Compute(subtotal decimal.Decimal, sel TipSelection) Totals {
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	tip := sel.Tip(subtotal)
	return Totals{
		Subtotal: subtotal,
		Tip:      tip,
		Total:    subtotal.Add(tip),
	}
}

// ParseCustomTip coerces free-form input to a non-negative amount. Anything
// unparseable is zero.
func ParseCustomTip(input string) decimal.Decimal {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "$"))
	if input == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(input)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Round2 rounds to currency precision.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Display formats an amount with two decimals, e.g. "$23.00".
func Display(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// Float returns the rounded amount for JSON transmission.
func Float(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// MinorUnits converts an amount to the integer unit Stripe charges in.
func MinorUnits(d decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return d.Round(0).IntPart()
	}
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	d := decimal.NewFromInt(amount)
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return d
	}
	return d.Div(hundred)
}

// Equal compares two amounts at currency precision.
func Equal(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}
