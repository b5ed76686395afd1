package vat

import (
	"fmt"
	"strconv"
	"time"
)

// DateRange is the half-open interval [From, To).
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// OrderResult is the stored order-level outcome of a computation.
type OrderResult struct {
	OrderID       string
	ComputedAt    time.Time
	VatDueSales   int64 // Box 1 contribution
	NetSalesExVAT int64 // Box 6 contribution
}

// ExternalFigures are boxes the engine never derives from sales: acquisitions
// and purchases come from the merchant's own records. All minor units.
type ExternalFigures struct {
	VatDueAcquisitions           int64 `json:"vat_due_acquisitions_minor"`
	VatReclaimedCurrPeriod       int64 `json:"vat_reclaimed_curr_period_minor"`
	TotalValuePurchasesExVAT     int64 `json:"total_value_purchases_ex_vat_minor"`
	TotalValueGoodsSuppliedExVAT int64 `json:"total_value_goods_supplied_ex_vat_minor"`
	TotalAcquisitionsExVAT       int64 `json:"total_acquisitions_ex_vat_minor"`
}

// AggregatePeriod sums stored order results computed inside r. Boxes that
// depend on purchases or acquisitions come from ext. Box 5 is not clamped.
func AggregatePeriod(results []OrderResult, r DateRange, ext ExternalFigures) NineBoxes {
	b := NineBoxes{
		VatDueAcquisitions:           ext.VatDueAcquisitions,
		VatReclaimedCurrPeriod:       ext.VatReclaimedCurrPeriod,
		TotalValuePurchasesExVAT:     ext.TotalValuePurchasesExVAT,
		TotalValueGoodsSuppliedExVAT: ext.TotalValueGoodsSuppliedExVAT,
		TotalAcquisitionsExVAT:       ext.TotalAcquisitionsExVAT,
	}
	for _, res := range results {
		if !r.Contains(res.ComputedAt) {
			continue
		}
		b.VatDueSales += res.VatDueSales
		b.TotalValueSalesExVAT += res.NetSalesExVAT
	}
	return b.Derive()
}

// RawOrder is an imported order kept as raw rows rather than engine output.
type RawOrder struct {
	ID                 string
	CreatedAt          time.Time
	TaxesIncluded      bool
	OrderDiscountMinor int64
	Lines              []RawLine
}

// RawLine is one imported row. TaxMinor, when set, is the tax the storefront
// reported and takes precedence over Rate.
type RawLine struct {
	Kind          LineSource // SourceLineItem or SourceShipping
	Quantity      int64
	UnitMinor     int64
	DiscountMinor int64
	Rate          Rate
	TaxMinor      *int64
}

// RawRefund is an imported refund split into net and VAT.
type RawRefund struct {
	OrderID   string
	CreatedAt time.Time
	NetMinor  int64
	VatMinor  int64
}

// AggregateManual builds draft boxes directly from imported rows. Order-level
// discounts are prorated across item rows, refunds in range are subtracted,
// and Box 1 and Box 6 are floor-clamped at zero.
func AggregateManual(orders []RawOrder, refunds []RawRefund, r DateRange) (NineBoxes, error) {
	var vat, net int64
	for _, o := range orders {
		if !r.Contains(o.CreatedAt) {
			continue
		}
		ov, on, err := rawOrderTotals(o)
		if err != nil {
			return NineBoxes{}, fmt.Errorf("order %s: %w", o.ID, err)
		}
		vat += ov
		net += on
	}
	for _, rf := range refunds {
		if !r.Contains(rf.CreatedAt) {
			continue
		}
		vat -= abs64(rf.VatMinor)
		net -= abs64(rf.NetMinor)
	}
	return NineBoxes{
		VatDueSales:          max(0, vat),
		TotalValueSalesExVAT: max(0, net),
	}.Derive(), nil
}

func rawOrderTotals(o RawOrder) (vat, net int64, err error) {
	amounts := make([]int64, len(o.Lines))
	var prorate []ProrationLine
	for i, l := range o.Lines {
		amount, err := LineAmount(l.UnitMinor, l.Quantity)
		if err != nil {
			return 0, 0, fmt.Errorf("line %d: %w", i+1, err)
		}
		amounts[i] = amount - abs64(l.DiscountMinor)
		if l.Kind == SourceLineItem {
			prorate = append(prorate, ProrationLine{ID: strconv.Itoa(i), PreDiscountGross: max(0, amounts[i])})
		}
	}
	alloc := ProrateDiscount(prorate, max(0, o.OrderDiscountMinor))

	for i, l := range o.Lines {
		amount := max(0, amounts[i]-alloc[strconv.Itoa(i)])
		if l.TaxMinor != nil {
			lv := *l.TaxMinor
			ln := amount
			if o.TaxesIncluded {
				ln = amount - lv
			}
			vat += lv
			net += ln
			continue
		}
		ln, lv, _ := split(amount, l.Rate, o.TaxesIncluded)
		vat += lv
		net += ln
	}
	return vat, net, nil
}
