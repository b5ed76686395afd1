package vat_test

import (
	"encoding/json"
	"testing"

	"vatpilot/internal/vat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackage(t *testing.T) {
	boxes := vat.NineBoxes{
		VatDueSales:            12345,
		VatReclaimedCurrPeriod: 45,
		TotalValueSalesExVAT:   61799,
		// Box 3 and 5 are deliberately wrong and get re-derived.
		TotalVatDue: 1,
		NetVatDue:   1,
	}

	sub, err := vat.Package(boxes, " 24A1 ", true)
	require.NoError(t, err)
	assert.Equal(t, "24A1", sub.PeriodKey)
	assert.Equal(t, "123.45", sub.VatDueSales)
	assert.Equal(t, "0.00", sub.VatDueAcquisitions)
	assert.Equal(t, "123.45", sub.TotalVatDue)
	assert.Equal(t, "0.45", sub.VatReclaimedCurrPeriod)
	assert.Equal(t, "123.00", sub.NetVatDue)
	assert.Equal(t, int64(617), sub.TotalValueSalesExVAT)
	assert.True(t, sub.Finalised)

	raw, err := json.Marshal(sub)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "24A1", decoded["periodKey"])
	assert.Equal(t, "123.45", decoded["vatDueSales"])
	assert.Equal(t, float64(617), decoded["totalValueSalesExVAT"])
	assert.Equal(t, true, decoded["finalised"])
}

func TestPackage_RequiresPeriodKey(t *testing.T) {
	_, err := vat.Package(vat.NineBoxes{}, "  ", false)
	assert.ErrorIs(t, err, vat.ErrMissingPeriodKey)
}

func TestPackage_NegativeSalesValueClamped(t *testing.T) {
	sub, err := vat.Package(vat.NineBoxes{VatDueSales: -250, TotalValueSalesExVAT: -1200}, "24A2", false)
	require.NoError(t, err)
	assert.Equal(t, "-2.50", sub.VatDueSales)
	assert.Equal(t, "-2.50", sub.NetVatDue)
	assert.Equal(t, int64(0), sub.TotalValueSalesExVAT)
}
