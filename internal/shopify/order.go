// Package shopify converts storefront payloads (order JSON and the orders CSV
// export) into the engine's input types.
package shopify

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID accepts both numeric and string identifiers, as the REST API and
// webhooks disagree on which they send.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Order is the subset of a Shopify order the VAT computation reads.
type Order struct {
	ID                   ID              `json:"id" validate:"required" jsonschema_description:"Shopify order id, numeric or string"`
	Name                 string          `json:"name,omitempty"`
	Currency             string          `json:"currency" validate:"required,len=3,alpha" jsonschema_description:"ISO 4217 shop currency"`
	CreatedAt            string          `json:"created_at,omitempty"`
	TaxesIncluded        bool            `json:"taxes_included" jsonschema_description:"True when prices already include VAT"`
	TotalDiscounts       string          `json:"total_discounts,omitempty" validate:"omitempty,money"`
	SubtotalPrice        string          `json:"subtotal_price,omitempty" validate:"omitempty,money"`
	CurrentSubtotalPrice string          `json:"current_subtotal_price,omitempty" validate:"omitempty,money"`
	Customer             *Customer       `json:"customer,omitempty"`
	ShippingAddress      *Address        `json:"shipping_address,omitempty"`
	BillingAddress       *Address        `json:"billing_address,omitempty"`
	NoteAttributes       []NoteAttribute `json:"note_attributes,omitempty"`
	LineItems            []LineItem      `json:"line_items" validate:"dive"`
	ShippingLines        []ShippingLine  `json:"shipping_lines,omitempty" validate:"dive"`
	Refunds              []Refund        `json:"refunds,omitempty" validate:"dive"`
}

type Customer struct {
	ID             ID       `json:"id,omitempty"`
	Email          string   `json:"email,omitempty"`
	TaxExempt      bool     `json:"tax_exempt,omitempty"`
	DefaultAddress *Address `json:"default_address,omitempty"`
}

type Address struct {
	CountryCode string `json:"country_code,omitempty" validate:"omitempty,len=2,alpha"`
}

// NoteAttribute is a checkout custom attribute. B2B checkouts store the
// buyer VAT number here.
type NoteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type LineItem struct {
	ID                  ID                   `json:"id" validate:"required"`
	Title               string               `json:"title"`
	SKU                 string               `json:"sku,omitempty"`
	Quantity            int64                `json:"quantity" validate:"gte=0,lte=1000000"`
	Price               string               `json:"price" validate:"required,money" jsonschema_description:"Unit price before discounts"`
	Taxable             *bool                `json:"taxable,omitempty"`
	TotalDiscount       string               `json:"total_discount,omitempty" validate:"omitempty,money"`
	DiscountAllocations []DiscountAllocation `json:"discount_allocations,omitempty" validate:"dive"`
	TaxLines            []TaxLine            `json:"tax_lines,omitempty" validate:"dive"`
}

type DiscountAllocation struct {
	Amount string `json:"amount" validate:"required,money"`
}

// TaxLine is tax as charged by the storefront; Rate is a fraction (0.2).
type TaxLine struct {
	Title string      `json:"title,omitempty"`
	Price string      `json:"price" validate:"omitempty,money"`
	Rate  json.Number `json:"rate,omitempty"`
}

type ShippingLine struct {
	ID       ID        `json:"id" validate:"required"`
	Title    string    `json:"title"`
	Price    string    `json:"price" validate:"required,money"`
	TaxLines []TaxLine `json:"tax_lines,omitempty" validate:"dive"`
}

type Refund struct {
	ID               ID                `json:"id" validate:"required"`
	CreatedAt        string            `json:"created_at,omitempty"`
	RefundLineItems  []RefundLineItem  `json:"refund_line_items,omitempty" validate:"dive"`
	Shipping         *RefundShipping   `json:"shipping,omitempty"`
	OrderAdjustments []OrderAdjustment `json:"order_adjustments,omitempty" validate:"dive"`
}

type RefundLineItem struct {
	LineItemID ID     `json:"line_item_id" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"gte=0"`
	Subtotal   string `json:"subtotal,omitempty" validate:"omitempty,money"`
	TotalTax   string `json:"total_tax,omitempty" validate:"omitempty,money"`
}

type RefundShipping struct {
	Amount    string `json:"amount" validate:"omitempty,money"`
	TaxAmount string `json:"tax_amount,omitempty" validate:"omitempty,money"`
}

// OrderAdjustment with kind "shipping_refund" is how newer API versions
// report refunded shipping.
type OrderAdjustment struct {
	Kind   string `json:"kind"`
	Amount string `json:"amount" validate:"omitempty,money"`
}
