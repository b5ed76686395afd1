package vat

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/shopspring/decimal"
)

// rateScale is 100% expressed in Rate units.
const rateScale = 10000

// maxMinor bounds a single parsed amount.
const maxMinor = int64(100_000_000_000_000)

// maxLineMinor bounds unit × quantity for one line. Sums of a few thousand
// such lines plus their VAT stay inside int64.
const maxLineMinor = int64(1_000_000_000_000_000)

// ParseMinor converts a decimal money string ("12.5", "-3.00", "7") into
// integer minor units. An empty string is zero. More than two fractional
// digits, exponents and non-numeric input are rejected with ErrMalformedMoney.
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.ContainsAny(s, "eE") {
		return 0, fmt.Errorf("%w: %q", ErrMalformedMoney, s)
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 2 {
		return 0, fmt.Errorf("%w: %q has more than 2 fractional digits", ErrMalformedMoney, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedMoney, s)
	}
	return MinorFromDecimal(d)
}

// MinorFromDecimal converts a decimal amount with at most two fractional
// digits into minor units.
func MinorFromDecimal(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than 2 fractional digits", ErrMalformedMoney, d.String())
	}
	if shifted.Abs().GreaterThan(decimal.NewFromInt(maxMinor)) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrMalformedMoney, d.String())
	}
	return shifted.IntPart(), nil
}

// DecimalFromMinor is the inverse of MinorFromDecimal.
func DecimalFromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FormatMoney renders minor units as a fixed two-decimal string.
func FormatMoney(minor int64) string {
	return DecimalFromMinor(minor).StringFixed(2)
}

// WholeUnits truncates minor units toward zero to whole currency units and
// clamps the result at zero.
func WholeUnits(minor int64) int64 {
	w := minor / 100
	if w < 0 {
		return 0
	}
	return w
}

// LineAmount returns unit × qty in minor units. Products beyond
// maxLineMinor are rejected with ErrMalformedMoney.
func LineAmount(unit, qty int64) (int64, error) {
	if qty < 0 || abs64(unit) > maxMinor {
		return 0, fmt.Errorf("%w: %s × %d is out of range", ErrMalformedMoney, FormatMoney(unit), qty)
	}
	if qty != 0 && abs64(unit) > maxLineMinor/qty {
		return 0, fmt.Errorf("%w: %s × %d is out of range", ErrMalformedMoney, FormatMoney(unit), qty)
	}
	return unit * qty, nil
}

// mulDivHalfUp returns a*b/den rounded half away from zero. den must be > 0.
// The product is taken at 128 bits; the quotient must fit in int64, which
// holds for every caller since one factor never exceeds den.
func mulDivHalfUp(a, b, den int64) int64 {
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(uabs64(a), uabs64(b))
	d := uint64(den)
	q, r := bits.Div64(hi, lo, d)
	if r >= d-r {
		q++
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// VatFromGrossInclusive splits a VAT-inclusive gross amount into net and VAT.
// The net is rounded; VAT is whatever remains so gross == net + vat holds.
func VatFromGrossInclusive(gross int64, rate Rate) (net, vat int64) {
	if rate <= 0 {
		return gross, 0
	}
	net = mulDivHalfUp(gross, rateScale, rateScale+int64(rate))
	return net, gross - net
}

// VatFromNetExclusive computes the VAT charged on top of a net amount.
func VatFromNetExclusive(net int64, rate Rate) (vat int64) {
	if rate <= 0 {
		return 0
	}
	return mulDivHalfUp(net, int64(rate), rateScale)
}

// split applies the inclusive or exclusive rule to an amount and returns
// (net, vat, gross).
func split(amount int64, rate Rate, inclusive bool) (int64, int64, int64) {
	if inclusive {
		net, vat := VatFromGrossInclusive(amount, rate)
		return net, vat, amount
	}
	vat := VatFromNetExclusive(amount, rate)
	return amount, vat, amount + vat
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func uabs64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
