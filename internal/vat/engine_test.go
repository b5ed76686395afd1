package vat_test

import (
	"testing"

	"vatpilot/internal/vat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ukContext() vat.VatContext {
	return vat.VatContext{HomeCountry: "GB", DomesticRate: vat.Percent(20)}
}

func linesBySource(s *vat.VatSummary, src vat.LineSource) []vat.VatLine {
	var out []vat.VatLine
	for _, l := range s.Lines {
		if l.Source == src {
			out = append(out, l)
		}
	}
	return out
}

func TestComputeVatLines_DomesticInclusive(t *testing.T) {
	order := vat.OrderLike{
		ID:              "1001",
		Currency:        "GBP",
		TaxesIncluded:   true,
		ShippingCountry: "GB",
		LineItems: []vat.LineItem{
			{ID: "li-1", SKU: "MUG", Title: "Mug", Quantity: 2, Price: "12.00"},
		},
		ShippingLines: []vat.ShippingLine{{ID: "sh-1", Title: "Standard", Price: "3.00"}},
	}

	summary, err := vat.ComputeVatLines(order, ukContext())
	require.NoError(t, err)
	require.Len(t, summary.Lines, 2)

	item := summary.Lines[0]
	assert.Equal(t, vat.SourceLineItem, item.Source)
	assert.Equal(t, vat.SchemeStandard, item.Scheme)
	assert.Equal(t, int64(2000), item.NetMinor)
	assert.Equal(t, int64(400), item.VatMinor)
	assert.Equal(t, int64(2400), item.GrossMinor)
	assert.Equal(t, "GB", item.CountryOfSupply)

	ship := summary.Lines[1]
	assert.Equal(t, vat.SourceShipping, ship.Source)
	assert.Equal(t, int64(250), ship.NetMinor)
	assert.Equal(t, int64(50), ship.VatMinor)

	assert.Equal(t, vat.Totals{NetMinor: 2250, VatMinor: 450, GrossMinor: 2700}, summary.Totals)

	f := summary.Boxes.Format()
	assert.Equal(t, "4.50", f.VatDueSales)
	assert.Equal(t, "4.50", f.TotalVatDue)
	assert.Equal(t, "4.50", f.NetVatDue)
	assert.Equal(t, int64(22), f.TotalValueSalesExVAT)
}

func TestComputeVatLines_ReverseCharge(t *testing.T) {
	ctx := ukContext()
	ctx.ReverseCharge = vat.DefaultReverseCharge(nil)
	ctx.SKURates = map[string]vat.TaxTreatment{
		"BOOK": {Scheme: vat.SchemeZeroRated, Rate: 0},
	}

	order := vat.OrderLike{
		ID:              "2001",
		Currency:        "GBP",
		ShippingCountry: "DE",
		Customer:        vat.Customer{VatNumber: "DE123456789", VatNumberValid: true},
		LineItems: []vat.LineItem{
			{ID: "1", SKU: "BOOK", Title: "Book", Quantity: 1, Price: "100.00"},
			{ID: "2", Title: "Widget", Quantity: 3, Price: "10.00"},
		},
		ShippingLines: []vat.ShippingLine{{ID: "s", Title: "Courier", Price: "8.00"}},
	}

	summary, err := vat.ComputeVatLines(order, ctx)
	require.NoError(t, err)
	for _, l := range summary.Lines {
		assert.Equal(t, vat.SchemeReverseCharge, l.Scheme, l.SourceID)
		assert.Equal(t, vat.Rate(0), l.Rate)
		assert.Equal(t, int64(0), l.VatMinor)
		assert.Equal(t, "DE", l.CountryOfSupply)
	}
	assert.Equal(t, "0.00", summary.Boxes.Format().VatDueSales)
	assert.Equal(t, int64(138), summary.Boxes.Format().TotalValueSalesExVAT)
}

func TestComputeVatLines_FullRefundNetsToZero(t *testing.T) {
	order := vat.OrderLike{
		ID:              "3001",
		Currency:        "GBP",
		TaxesIncluded:   false,
		ShippingCountry: "GB",
		LineItems:       []vat.LineItem{{ID: "10", Title: "Lamp", Quantity: 1, Price: "10.00"}},
		Refunds: []vat.Refund{{
			ID:        "r1",
			LineItems: []vat.RefundLineItem{{LineItemID: "10", Quantity: 1}},
		}},
	}

	summary, err := vat.ComputeVatLines(order, ukContext())
	require.NoError(t, err)
	require.Len(t, summary.Lines, 2)

	refund := summary.Lines[1]
	assert.Equal(t, vat.SourceRefundItem, refund.Source)
	assert.Equal(t, "r1:10", refund.SourceID)
	assert.Equal(t, int64(-1000), refund.NetMinor)
	assert.Equal(t, int64(-200), refund.VatMinor)
	assert.Equal(t, int64(-1200), refund.GrossMinor)

	assert.Equal(t, vat.Totals{}, summary.Totals)
	assert.Equal(t, int64(0), summary.Boxes.VatDueSales)
	// Refunds do not reduce Box 6 on this path.
	assert.Equal(t, int64(10), summary.Boxes.Format().TotalValueSalesExVAT)
}

func TestComputeVatLines_RefundSymmetry(t *testing.T) {
	order := vat.OrderLike{
		ID:            "4001",
		Currency:      "GBP",
		TaxesIncluded: true,
		LineItems:     []vat.LineItem{{ID: "7", Title: "Scarf", Quantity: 2, Price: "11.99"}},
		Refunds: []vat.Refund{{
			ID:        "r",
			LineItems: []vat.RefundLineItem{{LineItemID: "7", Quantity: 1}},
		}},
	}
	// Price "11.99": gross 2398, net round(1998.33)=1998, vat 400.
	summary, err := vat.ComputeVatLines(order, ukContext())
	require.NoError(t, err)
	orig := linesBySource(summary, vat.SourceLineItem)[0]
	refund := linesBySource(summary, vat.SourceRefundItem)[0]

	assert.Equal(t, int64(2398), orig.GrossMinor)
	assert.Equal(t, int64(1998), orig.NetMinor)
	assert.Equal(t, int64(-1199), refund.GrossMinor)
	assert.Equal(t, int64(-999), refund.NetMinor)
	assert.Equal(t, int64(-200), refund.VatMinor)
	assert.Equal(t, int64(1), refund.Quantity)
}

func TestComputeVatLines_RefundEdgeCases(t *testing.T) {
	order := vat.OrderLike{
		ID:        "5001",
		Currency:  "GBP",
		LineItems: []vat.LineItem{{ID: "a", Title: "Chair", Quantity: 2, Price: "50.00"}},
		Refunds: []vat.Refund{
			{ID: "over", LineItems: []vat.RefundLineItem{{LineItemID: "a", Quantity: 5}}},
			{ID: "missing", LineItems: []vat.RefundLineItem{{LineItemID: "zzz", Quantity: 1}}},
			{ID: "zero", LineItems: []vat.RefundLineItem{{LineItemID: "a", Quantity: 0}}},
			{ID: "ship", ShippingAmount: "4.00"},
		},
	}

	summary, err := vat.ComputeVatLines(order, ukContext())
	require.NoError(t, err)

	refunds := linesBySource(summary, vat.SourceRefundItem)
	require.Len(t, refunds, 1)
	assert.Equal(t, "over:a", refunds[0].SourceID)
	assert.Equal(t, int64(2), refunds[0].Quantity)
	assert.Equal(t, int64(-10000), refunds[0].NetMinor)
	assert.Equal(t, int64(-2000), refunds[0].VatMinor)

	// No shipping line to mirror: the shipping refund is skipped.
	assert.Empty(t, linesBySource(summary, vat.SourceRefundShipping))
}

func TestComputeVatLines_ShippingRefundMirrorsShippingLine(t *testing.T) {
	order := vat.OrderLike{
		ID:              "6001",
		Currency:        "GBP",
		ShippingCountry: "GB",
		LineItems:       []vat.LineItem{{ID: "a", Title: "Desk", Quantity: 1, Price: "80.00"}},
		ShippingLines:   []vat.ShippingLine{{ID: "s1", Title: "Courier", Price: "5.00"}},
		Refunds:         []vat.Refund{{ID: "r9", ShippingAmount: "5.00"}},
	}

	summary, err := vat.ComputeVatLines(order, ukContext())
	require.NoError(t, err)

	refunds := linesBySource(summary, vat.SourceRefundShipping)
	require.Len(t, refunds, 1)
	r := refunds[0]
	assert.Equal(t, "r9:shipping", r.SourceID)
	assert.Equal(t, vat.Percent(20), r.Rate)
	assert.Equal(t, int64(-500), r.NetMinor)
	assert.Equal(t, int64(-100), r.VatMinor)
	assert.Equal(t, int64(-600), r.GrossMinor)

	// 1600 + 100 - 100
	assert.Equal(t, int64(1600), summary.Boxes.VatDueSales)
}

func TestComputeVatLines_DiscountProration(t *testing.T) {
	order := vat.OrderLike{
		ID:              "7001",
		Currency:        "GBP",
		ShippingCountry: "GB",
		TotalDiscounts:  "5.00",
		LineItems: []vat.LineItem{
			{ID: "a", Title: "Pen", Quantity: 1, Price: "10.00", TotalDiscount: "1.00"},
			{ID: "b", Title: "Pad", Quantity: 1, Price: "30.00"},
		},
	}

	summary, err := vat.ComputeVatLines(order, ukContext())
	require.NoError(t, err)
	require.Len(t, summary.Lines, 2)

	// Order-level 4.00 spread over 900 and 3000: 92 and 308.
	assert.Equal(t, int64(808), summary.Lines[0].NetMinor)
	assert.Equal(t, int64(162), summary.Lines[0].VatMinor)
	assert.Equal(t, int64(2692), summary.Lines[1].NetMinor)
	assert.Equal(t, int64(538), summary.Lines[1].VatMinor)
}

func TestComputeVatLines_LinesSatisfyInvariant(t *testing.T) {
	order := vat.OrderLike{
		ID:              "8001",
		Currency:        "EUR",
		TaxesIncluded:   true,
		ShippingCountry: "FR",
		TotalDiscounts:  "3.33",
		LineItems: []vat.LineItem{
			{ID: "1", Title: "A", Quantity: 3, Price: "9.99"},
			{ID: "2", Title: "B", Quantity: 1, Price: "0.01"},
			{ID: "3", Title: "C", Quantity: 7, Price: "1.37"},
		},
		ShippingLines: []vat.ShippingLine{{ID: "s", Title: "Post", Price: "4.99"}},
		Refunds: []vat.Refund{{
			ID:             "r",
			LineItems:      []vat.RefundLineItem{{LineItemID: "3", Quantity: 3}},
			ShippingAmount: "-4.99",
		}},
	}
	ctx := ukContext()
	ctx.DestinationSchemeRegistered = true
	ctx.DestinationRates = map[string]vat.Rate{"FR": vat.Percent(20)}

	summary, err := vat.ComputeVatLines(order, ctx)
	require.NoError(t, err)
	for _, l := range summary.Lines {
		assert.Equal(t, l.GrossMinor, l.NetMinor+l.VatMinor, l.SourceID)
		assert.Equal(t, vat.SchemeDestination, l.Scheme)
		if l.Source.IsRefund() {
			assert.LessOrEqual(t, l.GrossMinor, int64(0))
		}
	}
}

func TestComputeVatLines_MalformedMoney(t *testing.T) {
	order := vat.OrderLike{
		ID:        "9001",
		LineItems: []vat.LineItem{{ID: "x", Title: "Bad", Quantity: 1, Price: "1.234"}},
	}
	_, err := vat.ComputeVatLines(order, ukContext())
	require.ErrorIs(t, err, vat.ErrMalformedMoney)
}

func TestComputeVatLines_LargeAmounts(t *testing.T) {
	t.Run("inclusive line at the quantity limit", func(t *testing.T) {
		order := vat.OrderLike{
			ID:              "9101",
			TaxesIncluded:   true,
			ShippingCountry: "GB",
			LineItems:       []vat.LineItem{{ID: "x", Title: "Bulk", Quantity: 1_000_000, Price: "10000000.00"}},
		}
		summary, err := vat.ComputeVatLines(order, ukContext())
		require.NoError(t, err)
		require.Len(t, summary.Lines, 1)
		l := summary.Lines[0]
		assert.Equal(t, int64(1_000_000_000_000_000), l.GrossMinor)
		assert.Equal(t, int64(833_333_333_333_333), l.NetMinor)
		assert.Equal(t, int64(166_666_666_666_667), l.VatMinor)
	})

	t.Run("order discount spread over large lines", func(t *testing.T) {
		order := vat.OrderLike{
			ID:              "9102",
			ShippingCountry: "GB",
			TotalDiscounts:  "20000000.00",
			LineItems: []vat.LineItem{
				{ID: "a", Title: "Plant", Quantity: 1, Price: "50000000.00"},
				{ID: "b", Title: "Plant", Quantity: 1, Price: "50000000.00"},
			},
		}
		summary, err := vat.ComputeVatLines(order, ukContext())
		require.NoError(t, err)
		require.Len(t, summary.Lines, 2)
		for _, l := range summary.Lines {
			assert.Equal(t, int64(4_000_000_000), l.NetMinor, l.SourceID)
			assert.Equal(t, int64(800_000_000), l.VatMinor, l.SourceID)
		}
	})

	t.Run("unrepresentable line total", func(t *testing.T) {
		order := vat.OrderLike{
			ID:              "9103",
			ShippingCountry: "GB",
			LineItems:       []vat.LineItem{{ID: "x", Title: "Bulk", Quantity: 1_000_000, Price: "100000000000.00"}},
		}
		_, err := vat.ComputeVatLines(order, ukContext())
		require.ErrorIs(t, err, vat.ErrMalformedMoney)
	})
}
