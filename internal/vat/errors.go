package vat

import "errors"

var (
	// ErrMalformedMoney is returned when a money string cannot be represented
	// exactly in minor units.
	ErrMalformedMoney = errors.New("malformed money amount")

	// ErrMalformedRate is returned for negative or over-precise VAT rates.
	ErrMalformedRate = errors.New("malformed vat rate")

	// ErrInvariantViolation means a computed line broke gross == net + vat.
	ErrInvariantViolation = errors.New("vat line invariant violated")

	// ErrMissingPeriodKey is returned when packaging a return without a period key.
	ErrMissingPeriodKey = errors.New("period key is required")
)
