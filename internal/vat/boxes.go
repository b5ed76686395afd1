package vat

// NineBoxes holds the UK VAT return boxes in minor units. Boxes 6 to 9 are
// truncated to whole units only when formatted.
type NineBoxes struct {
	VatDueSales                  int64 `json:"vat_due_sales_minor"`                    // Box 1
	VatDueAcquisitions           int64 `json:"vat_due_acquisitions_minor"`             // Box 2
	TotalVatDue                  int64 `json:"total_vat_due_minor"`                    // Box 3
	VatReclaimedCurrPeriod       int64 `json:"vat_reclaimed_curr_period_minor"`        // Box 4
	NetVatDue                    int64 `json:"net_vat_due_minor"`                      // Box 5
	TotalValueSalesExVAT         int64 `json:"total_value_sales_ex_vat_minor"`         // Box 6
	TotalValuePurchasesExVAT     int64 `json:"total_value_purchases_ex_vat_minor"`     // Box 7
	TotalValueGoodsSuppliedExVAT int64 `json:"total_value_goods_supplied_ex_vat_minor"` // Box 8
	TotalAcquisitionsExVAT       int64 `json:"total_acquisitions_ex_vat_minor"`        // Box 9
}

// Derive recomputes Box 3 (1 + 2) and Box 5 (3 - 4). Box 5 may be negative.
func (b NineBoxes) Derive() NineBoxes {
	b.TotalVatDue = b.VatDueSales + b.VatDueAcquisitions
	b.NetVatDue = b.TotalVatDue - b.VatReclaimedCurrPeriod
	return b
}

// Add sums two box sets and re-derives the totals.
func (b NineBoxes) Add(o NineBoxes) NineBoxes {
	b.VatDueSales += o.VatDueSales
	b.VatDueAcquisitions += o.VatDueAcquisitions
	b.VatReclaimedCurrPeriod += o.VatReclaimedCurrPeriod
	b.TotalValueSalesExVAT += o.TotalValueSalesExVAT
	b.TotalValuePurchasesExVAT += o.TotalValuePurchasesExVAT
	b.TotalValueGoodsSuppliedExVAT += o.TotalValueGoodsSuppliedExVAT
	b.TotalAcquisitionsExVAT += o.TotalAcquisitionsExVAT
	return b.Derive()
}

// FormattedBoxes is the presentation form of a return: boxes 1 to 5 as
// two-decimal strings, boxes 6 to 9 as non-negative whole units.
type FormattedBoxes struct {
	VatDueSales                  string `json:"vatDueSales"`
	VatDueAcquisitions           string `json:"vatDueAcquisitions"`
	TotalVatDue                  string `json:"totalVatDue"`
	VatReclaimedCurrPeriod       string `json:"vatReclaimedCurrPeriod"`
	NetVatDue                    string `json:"netVatDue"`
	TotalValueSalesExVAT         int64  `json:"totalValueSalesExVAT"`
	TotalValuePurchasesExVAT     int64  `json:"totalValuePurchasesExVAT"`
	TotalValueGoodsSuppliedExVAT int64  `json:"totalValueGoodsSuppliedExVAT"`
	TotalAcquisitionsExVAT       int64  `json:"totalAcquisitionsExVAT"`
}

// Format renders the boxes for display or submission.
func (b NineBoxes) Format() FormattedBoxes {
	return FormattedBoxes{
		VatDueSales:                  FormatMoney(b.VatDueSales),
		VatDueAcquisitions:           FormatMoney(b.VatDueAcquisitions),
		TotalVatDue:                  FormatMoney(b.TotalVatDue),
		VatReclaimedCurrPeriod:       FormatMoney(b.VatReclaimedCurrPeriod),
		NetVatDue:                    FormatMoney(b.NetVatDue),
		TotalValueSalesExVAT:         WholeUnits(b.TotalValueSalesExVAT),
		TotalValuePurchasesExVAT:     WholeUnits(b.TotalValuePurchasesExVAT),
		TotalValueGoodsSuppliedExVAT: WholeUnits(b.TotalValueGoodsSuppliedExVAT),
		TotalAcquisitionsExVAT:       WholeUnits(b.TotalAcquisitionsExVAT),
	}
}
