package shopify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vatpilot/internal/vat"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

// ErrInvalidOrder wraps every validation failure of an incoming order.
var ErrInvalidOrder = errors.New("invalid order")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		_, err := vat.ParseMinor(fl.Field().String())
		return err == nil
	})
	return v
}

// Normalize cleans up formatting noise: whitespace, "null" strings and
// lowercase country or currency codes.
func (o *Order) Normalize() {
	o.Currency = strings.ToUpper(clean(o.Currency))
	o.TotalDiscounts = clean(o.TotalDiscounts)
	o.SubtotalPrice = clean(o.SubtotalPrice)
	o.CurrentSubtotalPrice = clean(o.CurrentSubtotalPrice)
	normalizeAddress(o.ShippingAddress)
	normalizeAddress(o.BillingAddress)
	if o.Customer != nil {
		normalizeAddress(o.Customer.DefaultAddress)
	}

	for i := range o.LineItems {
		li := &o.LineItems[i]
		li.SKU = clean(li.SKU)
		li.Title = strings.TrimSpace(li.Title)
		li.Price = clean(li.Price)
		li.TotalDiscount = clean(li.TotalDiscount)
		for j := range li.DiscountAllocations {
			li.DiscountAllocations[j].Amount = clean(li.DiscountAllocations[j].Amount)
		}
	}
	for i := range o.ShippingLines {
		o.ShippingLines[i].Price = clean(o.ShippingLines[i].Price)
	}
	for i := range o.Refunds {
		r := &o.Refunds[i]
		if r.Shipping != nil {
			r.Shipping.Amount = clean(r.Shipping.Amount)
		}
		for j := range r.OrderAdjustments {
			r.OrderAdjustments[j].Amount = clean(r.OrderAdjustments[j].Amount)
		}
	}
}

// Validate checks the order is well-formed enough for the engine.
func (o *Order) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return nil
}

// Convert normalizes and validates o and maps it onto the engine input.
func Convert(o Order) (vat.OrderLike, error) {
	o.Normalize()
	if err := o.Validate(); err != nil {
		return vat.OrderLike{}, err
	}
	return o.ToOrderLike(), nil
}

// ToOrderLike maps a normalized order onto the engine input. Destination
// falls back from the shipping address to billing to the customer's default
// address.
func (o Order) ToOrderLike() vat.OrderLike {
	out := vat.OrderLike{
		ID:             string(o.ID),
		Currency:       o.Currency,
		TaxesIncluded:  o.TaxesIncluded,
		TotalDiscounts: o.TotalDiscounts,
		Customer:       o.customerVat(),
	}

	switch {
	case country(o.ShippingAddress) != "":
		out.ShippingCountry = country(o.ShippingAddress)
	case o.Customer != nil && country(o.Customer.DefaultAddress) != "" && country(o.BillingAddress) == "":
		out.ShippingCountry = country(o.Customer.DefaultAddress)
	}
	out.BillingCountry = country(o.BillingAddress)

	for _, li := range o.LineItems {
		item := vat.LineItem{
			ID:            string(li.ID),
			SKU:           li.SKU,
			Title:         li.Title,
			Quantity:      li.Quantity,
			Price:         li.Price,
			TotalDiscount: li.TotalDiscount,
		}
		if item.TotalDiscount == "" && len(li.DiscountAllocations) > 0 {
			item.TotalDiscount = sumMoney(len(li.DiscountAllocations), func(i int) string {
				return li.DiscountAllocations[i].Amount
			})
		}
		for _, tl := range li.TaxLines {
			item.TaxLines = append(item.TaxLines, vat.TaxLineHint{Title: tl.Title, Price: tl.Price, Rate: fractionToRate(tl.Rate)})
		}
		out.LineItems = append(out.LineItems, item)
	}

	for _, sh := range o.ShippingLines {
		out.ShippingLines = append(out.ShippingLines, vat.ShippingLine{ID: string(sh.ID), Title: sh.Title, Price: sh.Price})
	}

	for _, r := range o.Refunds {
		refund := vat.Refund{ID: string(r.ID)}
		for _, rli := range r.RefundLineItems {
			refund.LineItems = append(refund.LineItems, vat.RefundLineItem{LineItemID: string(rli.LineItemID), Quantity: rli.Quantity})
		}
		if r.Shipping != nil && r.Shipping.Amount != "" {
			refund.ShippingAmount = r.Shipping.Amount
		} else {
			var adj []string
			for _, a := range r.OrderAdjustments {
				if a.Kind == "shipping_refund" {
					adj = append(adj, a.Amount)
				}
			}
			if len(adj) > 0 {
				refund.ShippingAmount = sumMoney(len(adj), func(i int) string { return adj[i] })
			}
		}
		out.Refunds = append(out.Refunds, refund)
	}
	return out
}

// Subtotal returns current_subtotal_price, falling back to subtotal_price.
func (o Order) Subtotal() string {
	if o.CurrentSubtotalPrice != "" {
		return o.CurrentSubtotalPrice
	}
	return o.SubtotalPrice
}

// OrderSchema returns the JSON schema for the order payload.
func OrderSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	return reflector.Reflect(&Order{})
}

func (o Order) customerVat() vat.Customer {
	var c vat.Customer
	for _, na := range o.NoteAttributes {
		switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(na.Name), " ", "_")) {
		case "vat_number", "vat_id", "vat_registration_number":
			c.VatNumber = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(na.Value), " ", ""))
		case "vat_number_valid", "vat_validated":
			c.VatNumberValid = strings.EqualFold(strings.TrimSpace(na.Value), "true")
		}
	}
	return c
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func normalizeAddress(a *Address) {
	if a != nil {
		a.CountryCode = strings.ToUpper(clean(a.CountryCode))
	}
}

func country(a *Address) string {
	if a == nil {
		return ""
	}
	return a.CountryCode
}

// sumMoney adds validated money strings; the result keeps two decimals.
func sumMoney(n int, at func(int) string) string {
	total := decimal.Zero
	for i := 0; i < n; i++ {
		d, err := decimal.NewFromString(at(i))
		if err != nil {
			continue
		}
		total = total.Add(d.Abs())
	}
	return total.StringFixed(2)
}

func fractionToRate(n json.Number) vat.Rate {
	if n == "" {
		return 0
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0
	}
	return vat.Rate(d.Shift(4).Round(0).IntPart())
}
