package vat

import "strings"

// TaxTreatment is the resolved scheme and rate for one line.
type TaxTreatment struct {
	Scheme          Scheme `json:"scheme"`
	Rate            Rate   `json:"rate_pct"`
	CountryOfSupply string `json:"country_of_supply,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// EUCountries is the default regional bloc for destination-scheme sales.
var EUCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true, "DK": true,
	"EE": true, "FI": true, "FR": true, "DE": true, "GR": true, "HU": true, "IE": true,
	"IT": true, "LV": true, "LT": true, "LU": true, "MT": true, "NL": true, "PL": true,
	"PT": true, "RO": true, "SK": true, "SI": true, "ES": true, "SE": true,
}

// VatContext holds the merchant configuration the engine resolves against.
// Zero values fall back to a UK merchant: home GB, domestic 20%, EU bloc,
// 20% destination placeholder.
type VatContext struct {
	HomeCountry                 string
	DomesticRate                Rate
	DestinationSchemeRegistered bool
	DestinationRates            map[string]Rate
	DefaultDestinationRate      Rate
	RegionalBloc                map[string]bool
	SKURates                    map[string]TaxTreatment

	// ReverseCharge, when set and true for the order, zero-rates every line.
	ReverseCharge func(OrderLike) bool
	// ShippingPolicy, when set, decides shipping lines without a SKU override.
	ShippingPolicy func(OrderLike) TaxTreatment
}

func (c VatContext) withDefaults() VatContext {
	if c.HomeCountry == "" {
		c.HomeCountry = "GB"
	}
	c.HomeCountry = strings.ToUpper(c.HomeCountry)
	if c.DomesticRate == 0 {
		c.DomesticRate = Percent(20)
	}
	if c.DefaultDestinationRate == 0 {
		c.DefaultDestinationRate = Percent(20)
	}
	if c.RegionalBloc == nil {
		c.RegionalBloc = EUCountries
	}
	return c
}

// DestinationCountry is the shipping country, else the billing country, else
// the merchant's home country.
func DestinationCountry(order OrderLike, ctx VatContext) string {
	for _, c := range []string{order.ShippingCountry, order.BillingCountry} {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			return c
		}
	}
	return ctx.withDefaults().HomeCountry
}

// DefaultReverseCharge returns a predicate that applies reverse charge to
// orders shipped into bloc (EU when nil) for a customer with a validated VAT
// number.
func DefaultReverseCharge(bloc map[string]bool) func(OrderLike) bool {
	if bloc == nil {
		bloc = EUCountries
	}
	return func(o OrderLike) bool {
		country := strings.ToUpper(strings.TrimSpace(o.ShippingCountry))
		if country == "" {
			country = strings.ToUpper(strings.TrimSpace(o.BillingCountry))
		}
		return bloc[country] && o.Customer.VatNumber != "" && o.Customer.VatNumberValid
	}
}

// ResolveTaxTreatment picks the treatment for a line item (or, with
// isShipping, a shipping line). Rules are checked in order and the first
// match wins: reverse charge, SKU override, shipping policy, domestic,
// regional bloc, rest of world.
func ResolveTaxTreatment(order OrderLike, ctx VatContext, line *LineItem, isShipping bool) TaxTreatment {
	ctx = ctx.withDefaults()
	dest := DestinationCountry(order, ctx)

	if ctx.ReverseCharge != nil && ctx.ReverseCharge(order) {
		return TaxTreatment{Scheme: SchemeReverseCharge, Rate: 0, CountryOfSupply: dest, Notes: "B2B reverse charge"}
	}

	if line != nil && line.SKU != "" {
		if t, ok := ctx.SKURates[line.SKU]; ok {
			if t.CountryOfSupply == "" {
				t.CountryOfSupply = dest
			}
			return t
		}
	}

	if isShipping && ctx.ShippingPolicy != nil {
		return ctx.ShippingPolicy(order)
	}

	if dest == ctx.HomeCountry {
		return TaxTreatment{Scheme: SchemeStandard, Rate: ctx.DomesticRate, CountryOfSupply: ctx.HomeCountry}
	}

	if ctx.RegionalBloc[dest] {
		if ctx.DestinationSchemeRegistered {
			if r, ok := ctx.DestinationRates[dest]; ok {
				return TaxTreatment{Scheme: SchemeDestination, Rate: r, CountryOfSupply: dest}
			}
			return TaxTreatment{Scheme: SchemeDestination, Rate: ctx.DefaultDestinationRate, CountryOfSupply: dest,
				Notes: "placeholder destination rate"}
		}
		return TaxTreatment{Scheme: SchemeExport, Rate: 0, CountryOfSupply: ctx.HomeCountry,
			Notes: "bloc export without destination registration"}
	}

	return TaxTreatment{Scheme: SchemeExport, Rate: 0, CountryOfSupply: ctx.HomeCountry, Notes: "export outside bloc"}
}
