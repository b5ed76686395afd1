package shopify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vatpilot/internal/vat"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

// ErrEmptyCSV is returned when the export has no header or no order rows.
var ErrEmptyCSV = errors.New("csv export contains no orders")

var strictPolicy = bluemonday.StrictPolicy()

// ImportedOrder is one order reassembled from the rows of an orders export.
type ImportedOrder struct {
	ExternalID         string
	CreatedAt          time.Time
	DestinationCountry string
	CustomerEmail      string
	TaxesIncluded      bool
	DiscountMinor      int64
	ShippingMinor      int64
	ShippingTaxMinor   *int64
	RefundedMinor      int64
	Lines              []ImportedLine
}

type ImportedLine struct {
	Title         string
	Variant       string
	SKU           string
	Quantity      int64
	UnitMinor     int64
	DiscountMinor int64
	Rate          vat.Rate
	TaxMinor      *int64
}

// SkippedOrder records an order group that could not be imported.
type SkippedOrder struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

// ImportBatch is the result of parsing an export.
type ImportBatch struct {
	Orders  []ImportedOrder
	Skipped []SkippedOrder
}

var createdAtLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseCSV reads a Shopify orders export. Rows are grouped into orders by the
// Name, Order ID or Order Number column; order-level fields come from the
// first row of each group and shipping from the first row with a non-zero
// shipping charge.
func ParseCSV(r io.Reader) (*ImportBatch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCSV
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	var order []string
	groups := make(map[string][]row)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		rw := row{cols: cols, rec: rec}
		key := rw.first("name", "order id", "order number")
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rw)
	}
	if len(order) == 0 {
		return nil, ErrEmptyCSV
	}

	batch := &ImportBatch{}
	for _, key := range order {
		o, err := buildOrder(key, groups[key])
		if err != nil {
			batch.Skipped = append(batch.Skipped, SkippedOrder{ExternalID: key, Reason: err.Error()})
			continue
		}
		batch.Orders = append(batch.Orders, o)
	}
	return batch, nil
}

func buildOrder(key string, rows []row) (ImportedOrder, error) {
	first := rows[0]
	o := ImportedOrder{
		ExternalID:         sanitize(key),
		DestinationCountry: strings.ToUpper(first.first("shipping country", "shipping address country", "billing country")),
		CustomerEmail:      sanitize(first.first("email", "customer email")),
		TaxesIncluded:      parseBool(first.first("taxes included")),
	}
	if o.DestinationCountry == "" {
		o.DestinationCountry = "GB"
	}

	createdAt, err := parseCreatedAt(first.first("created at", "created at (utc)"))
	if err != nil {
		return o, err
	}
	o.CreatedAt = createdAt

	if o.DiscountMinor, err = csvMoney(first.first("discount amount")); err != nil {
		return o, fmt.Errorf("discount amount: %w", err)
	}
	if o.RefundedMinor, err = csvMoney(first.first("refunded amount")); err != nil {
		return o, fmt.Errorf("refunded amount: %w", err)
	}

	for _, r := range rows {
		ship, err := csvMoney(r.first("shipping"))
		if err != nil {
			return o, fmt.Errorf("shipping: %w", err)
		}
		shipTax, err := csvOptionalMoney(r.first("shipping tax"))
		if err != nil {
			return o, fmt.Errorf("shipping tax: %w", err)
		}
		if ship != 0 || (shipTax != nil && *shipTax != 0) {
			o.ShippingMinor = ship
			o.ShippingTaxMinor = shipTax
			break
		}
	}

	for _, r := range rows {
		title := r.first("lineitem name", "lineitem title", "product title")
		price := r.first("lineitem price")
		if title == "" && price == "" {
			continue
		}
		line := ImportedLine{
			Title:   sanitize(title),
			Variant: sanitize(r.first("lineitem variant", "variant title")),
			SKU:     sanitize(r.first("lineitem sku")),
		}
		if line.Title == "" {
			line.Title = "Item"
		}
		if line.UnitMinor, err = csvMoney(price); err != nil {
			return o, fmt.Errorf("lineitem price: %w", err)
		}
		line.Quantity = 1
		if q := r.first("lineitem quantity"); q != "" {
			n, err := strconv.ParseInt(q, 10, 64)
			if err != nil || n < 0 {
				return o, fmt.Errorf("lineitem quantity %q is not a whole number", q)
			}
			if n > 0 {
				line.Quantity = n
			}
		}
		if _, err := vat.LineAmount(line.UnitMinor, line.Quantity); err != nil {
			return o, fmt.Errorf("lineitem %q: %w", line.Title, err)
		}
		if line.DiscountMinor, err = csvMoney(r.first("lineitem discount")); err != nil {
			return o, fmt.Errorf("lineitem discount: %w", err)
		}
		if line.TaxMinor, err = csvOptionalMoney(r.first("lineitem tax")); err != nil {
			return o, fmt.Errorf("lineitem tax: %w", err)
		}
		if rate := r.first("tax %", "tax rate"); rate != "" {
			parsed, err := vat.ParseRate(strings.TrimSuffix(rate, "%"))
			if err != nil {
				return o, fmt.Errorf("tax rate: %w", err)
			}
			line.Rate = parsed
		}
		o.Lines = append(o.Lines, line)
	}
	if len(o.Lines) == 0 {
		return o, errors.New("order has no line items")
	}
	return o, nil
}

// RawOrder converts the import into the manual aggregation input. Shipping
// becomes a shipping row at the rate of the first line when no shipping tax
// was exported.
func (o ImportedOrder) RawOrder() vat.RawOrder {
	raw := vat.RawOrder{
		ID:                 o.ExternalID,
		CreatedAt:          o.CreatedAt,
		TaxesIncluded:      o.TaxesIncluded,
		OrderDiscountMinor: o.DiscountMinor,
	}
	for _, l := range o.Lines {
		raw.Lines = append(raw.Lines, vat.RawLine{
			Kind:          vat.SourceLineItem,
			Quantity:      l.Quantity,
			UnitMinor:     l.UnitMinor,
			DiscountMinor: l.DiscountMinor,
			Rate:          l.Rate,
			TaxMinor:      l.TaxMinor,
		})
	}
	if o.ShippingMinor != 0 || o.ShippingTaxMinor != nil {
		sl := vat.RawLine{Kind: vat.SourceShipping, Quantity: 1, UnitMinor: o.ShippingMinor, TaxMinor: o.ShippingTaxMinor}
		if sl.TaxMinor == nil && len(o.Lines) > 0 {
			sl.Rate = o.Lines[0].Rate
		}
		raw.Lines = append(raw.Lines, sl)
	}
	return raw
}

// RefundSplit splits the exported refunded amount, taken as VAT-inclusive,
// at the first line's rate.
func (o ImportedOrder) RefundSplit() (net, vatAmount int64) {
	if o.RefundedMinor == 0 {
		return 0, 0
	}
	var rate vat.Rate
	if len(o.Lines) > 0 {
		rate = o.Lines[0].Rate
	}
	return vat.VatFromGrossInclusive(abs(o.RefundedMinor), rate)
}

type row struct {
	cols map[string]int
	rec  []string
}

// first returns the first non-empty value among the named columns.
func (r row) first(names ...string) string {
	for _, n := range names {
		if i, ok := r.cols[n]; ok && i < len(r.rec) {
			if v := strings.TrimSpace(r.rec[i]); v != "" {
				return v
			}
		}
	}
	return ""
}

var nonNumeric = regexp.MustCompile(`[^0-9.\-]`)

// csvMoney parses an exported amount, dropping currency symbols and
// thousands separators and rounding to two decimals.
func csvMoney(s string) (int64, error) {
	s = nonNumeric.ReplaceAllString(s, "")
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", vat.ErrMalformedMoney, s)
	}
	return vat.MinorFromDecimal(d.Round(2))
}

func csvOptionalMoney(s string) (*int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := csvMoney(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseCreatedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing created at")
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised created at %q", s)
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.ToLower(s))
	return b
}

func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
