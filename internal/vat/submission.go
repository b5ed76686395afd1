package vat

import "strings"

// Submission is a packaged return ready for the tax authority.
type Submission struct {
	PeriodKey string `json:"periodKey"`
	FormattedBoxes
	Finalised bool `json:"finalised"`
}

// Package formats boxes for submission under periodKey. Boxes 3 and 5 are
// re-derived so a caller cannot submit inconsistent totals.
func Package(boxes NineBoxes, periodKey string, finalised bool) (Submission, error) {
	periodKey = strings.TrimSpace(periodKey)
	if periodKey == "" {
		return Submission{}, ErrMissingPeriodKey
	}
	return Submission{
		PeriodKey:      periodKey,
		FormattedBoxes: boxes.Derive().Format(),
		Finalised:      finalised,
	}, nil
}
