package vat

// OrderLike is the normalized order the engine computes over. Money fields are
// decimal strings in the order currency; quantities are whole units.
type OrderLike struct {
	ID              string         `json:"id"`
	Currency        string         `json:"currency"`
	TaxesIncluded   bool           `json:"taxes_included"`
	ShippingCountry string         `json:"shipping_country,omitempty"`
	BillingCountry  string         `json:"billing_country,omitempty"`
	TotalDiscounts  string         `json:"total_discounts,omitempty"`
	Customer        Customer       `json:"customer"`
	LineItems       []LineItem     `json:"line_items"`
	ShippingLines   []ShippingLine `json:"shipping_lines,omitempty"`
	Refunds         []Refund       `json:"refunds,omitempty"`
}

// Customer carries the buyer attributes used by the reverse-charge predicate.
type Customer struct {
	VatNumber      string `json:"vat_number,omitempty"`
	VatNumberValid bool   `json:"vat_number_valid,omitempty"`
}

// LineItem is a sold product line. Price is the unit price before discounts;
// TotalDiscount is the line-level discount for the whole line.
type LineItem struct {
	ID            string        `json:"id"`
	SKU           string        `json:"sku,omitempty"`
	Title         string        `json:"title"`
	Quantity      int64         `json:"quantity"`
	Price         string        `json:"price"`
	TotalDiscount string        `json:"total_discount,omitempty"`
	TaxLines      []TaxLineHint `json:"tax_lines,omitempty"`
}

// TaxLineHint is the tax the storefront itself charged. Informational only.
type TaxLineHint struct {
	Title string `json:"title,omitempty"`
	Price string `json:"price"`
	Rate  Rate   `json:"rate"`
}

type ShippingLine struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
}

// Refund references original line items by id; ShippingAmount is the refunded
// shipping charge, empty when shipping was not refunded.
type Refund struct {
	ID             string           `json:"id"`
	LineItems      []RefundLineItem `json:"line_items,omitempty"`
	ShippingAmount string           `json:"shipping_amount,omitempty"`
}

type RefundLineItem struct {
	LineItemID string `json:"line_item_id"`
	Quantity   int64  `json:"quantity"`
}

// LineSource identifies what produced a VatLine.
type LineSource string

const (
	SourceLineItem       LineSource = "line_item"
	SourceShipping       LineSource = "shipping"
	SourceRefundItem     LineSource = "refund_item"
	SourceRefundShipping LineSource = "refund_shipping"
)

// IsRefund reports whether the source is a refund line.
func (s LineSource) IsRefund() bool {
	return s == SourceRefundItem || s == SourceRefundShipping
}

// VatLine is one computed tax allocation. GrossMinor == NetMinor + VatMinor
// always holds; refund lines carry negative amounts.
type VatLine struct {
	OrderID         string     `json:"order_id"`
	SourceID        string     `json:"source_id"`
	Source          LineSource `json:"source"`
	SKU             string     `json:"sku,omitempty"`
	Title           string     `json:"title"`
	Quantity        int64      `json:"quantity"`
	Rate            Rate       `json:"rate_pct"`
	Scheme          Scheme     `json:"scheme"`
	NetMinor        int64      `json:"net_minor"`
	VatMinor        int64      `json:"vat_minor"`
	GrossMinor      int64      `json:"gross_minor"`
	Currency        string     `json:"currency"`
	CountryOfSupply string     `json:"country_of_supply"`
	Notes           string     `json:"notes,omitempty"`
}

// Totals sums net, VAT and gross over a set of lines.
type Totals struct {
	NetMinor   int64 `json:"net_minor"`
	VatMinor   int64 `json:"vat_minor"`
	GrossMinor int64 `json:"gross_minor"`
}

// VatSummary is the engine output for a single order.
type VatSummary struct {
	OrderID  string    `json:"order_id"`
	Currency string    `json:"currency"`
	Lines    []VatLine `json:"lines"`
	Totals   Totals    `json:"totals"`
	Boxes    NineBoxes `json:"boxes"`
}
