package core

import (
	"encoding/json"
	"errors"
	"time"

	"vatpilot/internal/vat"
)

var (
	// ErrNotFound is returned when a shop, order or token row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSubmission is returned when a return for the period was
	// already reserved or submitted.
	ErrDuplicateSubmission = errors.New("return already submitted for this period")
	// ErrInvalidSettings is returned for out-of-range shop tax settings.
	ErrInvalidSettings = errors.New("invalid tax settings")
)

// ShopSettings is the per-shop tax configuration the engine context is
// built from.
type ShopSettings struct {
	ShopDomain           string     `json:"shop_domain"`
	HomeCountry          string     `json:"home_country" validate:"omitempty,len=2,alpha"`
	DomesticRate         vat.Rate   `json:"domestic_rate_pct"`
	OSSRegistered        bool       `json:"oss_registered"`
	ReverseChargeEnabled bool       `json:"reverse_charge_enabled"`
	ShippingScheme       vat.Scheme `json:"shipping_scheme,omitempty"`
	ShippingRate         *vat.Rate  `json:"shipping_rate_pct,omitempty"`
	VRN                  string     `json:"vrn,omitempty" validate:"omitempty,numeric,len=9"`
	SKURates             []SKURate  `json:"sku_rates" validate:"dive"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SKURate overrides the treatment of every line carrying the SKU.
type SKURate struct {
	SKU             string     `json:"sku" validate:"required"`
	Scheme          vat.Scheme `json:"scheme" validate:"required"`
	Rate            vat.Rate   `json:"rate_pct"`
	CountryOfSupply string     `json:"country_of_supply,omitempty" validate:"omitempty,len=2,alpha"`
	Notes           string     `json:"notes,omitempty"`
}

// StoredOrder is a persisted engine result.
type StoredOrder struct {
	ShopDomain    string          `json:"shop_domain"`
	OrderID       string          `json:"order_id"`
	Currency      string          `json:"currency"`
	TaxesIncluded bool            `json:"taxes_included"`
	Totals        vat.Totals      `json:"totals"`
	Box1VatMinor  int64           `json:"box1_vat_minor"`
	Box6NetMinor  int64           `json:"box6_net_minor"`
	ComputedAt    time.Time       `json:"computed_at"`
	Lines         []vat.VatLine   `json:"lines"`
	RawOrder      json.RawMessage `json:"raw_order,omitempty"`
}

// ExportLine is a stored VAT line with the time its order was computed.
type ExportLine struct {
	vat.VatLine
	ComputedAt time.Time `json:"computed_at"`
}

// ImportResult reports how many imported orders were new.
type ImportResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// HMRCToken is the OAuth token pair stored per (shop, VRN).
type HMRCToken struct {
	ShopDomain   string    `json:"shop_domain"`
	VRN          string    `json:"vrn"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptSubmitted ReceiptStatus = "submitted"
)

// Receipt is a submission reservation, completed with HMRC's response.
type Receipt struct {
	ID               int64           `json:"id"`
	ShopDomain       string          `json:"shop_domain"`
	VRN              string          `json:"vrn"`
	PeriodKey        string          `json:"period_key"`
	Status           ReceiptStatus   `json:"status"`
	RequestBody      json.RawMessage `json:"request_body"`
	Receipt          json.RawMessage `json:"receipt,omitempty"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
	ProcessingDate   *time.Time      `json:"processing_date,omitempty"`
	FormBundleNumber string          `json:"form_bundle_number,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
}
