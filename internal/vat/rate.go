package vat

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rate is a VAT rate in hundredths of a percent: 2000 is 20%, 550 is 5.5%.
type Rate int64

// Percent builds a Rate from a whole percentage.
func Percent(p int64) Rate {
	return Rate(p * 100)
}

// ParseRate parses a percentage string such as "20" or "5.5".
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedRate, s)
	}
	return RateFromDecimal(d)
}

// RateFromDecimal converts a percentage decimal (as stored in numeric columns).
func RateFromDecimal(d decimal.Decimal) (Rate, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrMalformedRate, d.String())
	}
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than 2 fractional digits", ErrMalformedRate, d.String())
	}
	if shifted.GreaterThan(decimal.NewFromInt(rateScale)) {
		return 0, fmt.Errorf("%w: %s exceeds 100%%", ErrMalformedRate, d.String())
	}
	return Rate(shifted.IntPart()), nil
}

// Decimal returns the rate as a percentage.
func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -2)
}

func (r Rate) String() string {
	return r.Decimal().String()
}

// MarshalJSON renders the rate as a JSON number percentage (20, 5.5).
func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted percentage.
func (r *Rate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*r = 0
		return nil
	}
	v, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Scheme is the tax treatment category of a line.
type Scheme string

const (
	SchemeStandard      Scheme = "standard"
	SchemeReduced       Scheme = "reduced"
	SchemeZeroRated     Scheme = "zero_rated"
	SchemeReverseCharge Scheme = "reverse_charge"
	SchemeDestination   Scheme = "destination"
	SchemeExempt        Scheme = "exempt"
	SchemeExport        Scheme = "export"
)

// Valid reports whether s is a known scheme.
func (s Scheme) Valid() bool {
	switch s {
	case SchemeStandard, SchemeReduced, SchemeZeroRated, SchemeReverseCharge,
		SchemeDestination, SchemeExempt, SchemeExport:
		return true
	}
	return false
}

// CountsAsOutputVAT reports whether VAT on sales lines of this scheme is
// reported in Box 1.
func (s Scheme) CountsAsOutputVAT() bool {
	return s == SchemeStandard || s == SchemeReduced || s == SchemeDestination
}
