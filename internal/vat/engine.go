package vat

import (
	"fmt"
	"strconv"
)

// ComputeVatLines derives the per-line VAT allocation and the order-level
// 9-box contribution for one order. It is pure: the same order and context
// always yield the same summary.
//
// Errors are limited to malformed money in the order and a broken
// gross == net + vat invariant. Unmatched refund references and shipping
// refunds without a shipping line are skipped.
func ComputeVatLines(order OrderLike, ctx VatContext) (*VatSummary, error) {
	ctx = ctx.withDefaults()
	c := computation{order: order, ctx: ctx}

	if err := c.salesLines(); err != nil {
		return nil, err
	}
	if err := c.shippingLines(); err != nil {
		return nil, err
	}
	if err := c.refundLines(); err != nil {
		return nil, err
	}

	for _, l := range c.lines {
		if l.GrossMinor != l.NetMinor+l.VatMinor {
			return nil, fmt.Errorf("%w: %s %s gross %d != net %d + vat %d",
				ErrInvariantViolation, l.Source, l.SourceID, l.GrossMinor, l.NetMinor, l.VatMinor)
		}
	}

	return &VatSummary{
		OrderID:  order.ID,
		Currency: order.Currency,
		Lines:    c.lines,
		Totals:   SumLines(c.lines),
		Boxes:    OrderBoxes(c.lines),
	}, nil
}

type computation struct {
	order OrderLike
	ctx   VatContext
	lines []VatLine
}

func (c *computation) line(src LineSource, sourceID, sku, title string, qty int64, t TaxTreatment, net, vat, gross int64) VatLine {
	return VatLine{
		OrderID:         c.order.ID,
		SourceID:        sourceID,
		Source:          src,
		SKU:             sku,
		Title:           title,
		Quantity:        qty,
		Rate:            t.Rate,
		Scheme:          t.Scheme,
		NetMinor:        net,
		VatMinor:        vat,
		GrossMinor:      gross,
		Currency:        c.order.Currency,
		CountryOfSupply: t.CountryOfSupply,
		Notes:           t.Notes,
	}
}

func (c *computation) salesLines() error {
	type base struct {
		afterLineDiscount int64
		lineDiscount      int64
	}
	bases := make([]base, len(c.order.LineItems))
	prorate := make([]ProrationLine, len(c.order.LineItems))
	var lineDiscounts int64

	for i, li := range c.order.LineItems {
		unit, err := ParseMinor(li.Price)
		if err != nil {
			return fmt.Errorf("line item %s price: %w", li.ID, err)
		}
		disc, err := ParseMinor(li.TotalDiscount)
		if err != nil {
			return fmt.Errorf("line item %s discount: %w", li.ID, err)
		}
		amount, err := LineAmount(unit, li.Quantity)
		if err != nil {
			return fmt.Errorf("line item %s: %w", li.ID, err)
		}
		after := amount - abs64(disc)
		bases[i] = base{afterLineDiscount: after, lineDiscount: disc}
		prorate[i] = ProrationLine{ID: strconv.Itoa(i), PreDiscountGross: max(0, after)}
		lineDiscounts += max(0, disc)
	}

	orderDiscount, err := ParseMinor(c.order.TotalDiscounts)
	if err != nil {
		return fmt.Errorf("order total discounts: %w", err)
	}
	alloc := ProrateDiscount(prorate, max(0, orderDiscount-lineDiscounts))

	for i := range c.order.LineItems {
		li := &c.order.LineItems[i]
		amount := max(0, bases[i].afterLineDiscount-alloc[strconv.Itoa(i)])
		t := ResolveTaxTreatment(c.order, c.ctx, li, false)
		net, vat, gross := split(amount, t.Rate, c.order.TaxesIncluded)
		c.lines = append(c.lines, c.line(SourceLineItem, li.ID, li.SKU, li.Title, li.Quantity, t, net, vat, gross))
	}
	return nil
}

func (c *computation) shippingLines() error {
	for _, sh := range c.order.ShippingLines {
		price, err := ParseMinor(sh.Price)
		if err != nil {
			return fmt.Errorf("shipping line %s price: %w", sh.ID, err)
		}
		t := ResolveTaxTreatment(c.order, c.ctx, nil, true)
		net, vat, gross := split(max(0, price), t.Rate, c.order.TaxesIncluded)
		c.lines = append(c.lines, c.line(SourceShipping, sh.ID, "", sh.Title, 1, t, net, vat, gross))
	}
	return nil
}

func (c *computation) refundLines() error {
	originals := make(map[string]VatLine)
	var firstShipping *VatLine
	for i, l := range c.lines {
		switch l.Source {
		case SourceLineItem:
			if _, seen := originals[l.SourceID]; !seen {
				originals[l.SourceID] = l
			}
		case SourceShipping:
			if firstShipping == nil {
				firstShipping = &c.lines[i]
			}
		}
	}
	var shipping *VatLine
	if firstShipping != nil {
		s := *firstShipping
		shipping = &s
	}

	for _, refund := range c.order.Refunds {
		for _, rli := range refund.LineItems {
			orig, ok := originals[rli.LineItemID]
			if !ok {
				continue
			}
			den := orig.Quantity
			if den <= 0 {
				den = 1
			}
			q := min(rli.Quantity, den)
			if q <= 0 {
				continue
			}
			gross := mulDivHalfUp(orig.GrossMinor, q, den)
			net := mulDivHalfUp(orig.NetMinor, q, den)
			vat := gross - net
			qty := q
			if orig.Quantity <= 0 {
				qty = 0
			}
			t := TaxTreatment{Scheme: orig.Scheme, Rate: orig.Rate, CountryOfSupply: orig.CountryOfSupply}
			c.lines = append(c.lines, c.line(SourceRefundItem, refund.ID+":"+rli.LineItemID, orig.SKU,
				"Refund: "+orig.Title, qty, t, -net, -vat, -gross))
		}

		amount, err := ParseMinor(refund.ShippingAmount)
		if err != nil {
			return fmt.Errorf("refund %s shipping amount: %w", refund.ID, err)
		}
		if amount == 0 || shipping == nil {
			continue
		}
		t := TaxTreatment{Scheme: shipping.Scheme, Rate: shipping.Rate, CountryOfSupply: shipping.CountryOfSupply}
		net, vat, gross := split(abs64(amount), t.Rate, c.order.TaxesIncluded)
		c.lines = append(c.lines, c.line(SourceRefundShipping, refund.ID+":shipping", "",
			"Refund: Shipping", 1, t, -net, -vat, -gross))
	}
	return nil
}

// SumLines totals net, VAT and gross across lines.
func SumLines(lines []VatLine) Totals {
	var t Totals
	for _, l := range lines {
		t.NetMinor += l.NetMinor
		t.VatMinor += l.VatMinor
		t.GrossMinor += l.GrossMinor
	}
	return t
}

// OrderBoxes derives an order's contribution to the 9 boxes. Box 1 is VAT on
// sales lines whose scheme counts as output VAT plus VAT on every refund line.
// Box 6 is the net of sales and shipping lines; refunds do not reduce it.
func OrderBoxes(lines []VatLine) NineBoxes {
	var b NineBoxes
	for _, l := range lines {
		if l.Source.IsRefund() || l.Scheme.CountsAsOutputVAT() {
			b.VatDueSales += l.VatMinor
		}
		if l.Source == SourceLineItem || l.Source == SourceShipping {
			b.TotalValueSalesExVAT += l.NetMinor
		}
	}
	return b.Derive()
}
