package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vatpilot/internal/vat"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ShopDefaults apply to shops that have never saved settings.
type ShopDefaults struct {
	HomeCountry  string
	DomesticRate vat.Rate
}

// ShopService resolves per-shop tax settings into an engine context.
type ShopService interface {
	// GetSettings returns the stored settings, or the defaults when the shop
	// has none yet.
	GetSettings(ctx context.Context, shop string) (*ShopSettings, error)
	// UpdateSettings upserts the shop row and replaces its SKU overrides.
	UpdateSettings(ctx context.Context, settings ShopSettings) (*ShopSettings, error)
	DestinationRates(ctx context.Context) (map[string]vat.Rate, error)
	TaxContext(ctx context.Context, shop string) (vat.VatContext, error)
}

type shopService struct {
	pool     *pgxpool.Pool
	defaults ShopDefaults
}

func NewShopService(pool *pgxpool.Pool, defaults ShopDefaults) ShopService {
	if defaults.HomeCountry == "" {
		defaults.HomeCountry = "GB"
	}
	if defaults.DomesticRate == 0 {
		defaults.DomesticRate = vat.Percent(20)
	}
	return &shopService{pool: pool, defaults: defaults}
}

func (s *shopService) GetSettings(ctx context.Context, shop string) (*ShopSettings, error) {
	st := &ShopSettings{ShopDomain: shop}
	var (
		shopID     int64
		domestic   decimal.Decimal
		shipScheme *string
		shipRate   *decimal.Decimal
		vrn        *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, home_country, domestic_rate_pct, oss_registered, reverse_charge_enabled,
		       shipping_scheme, shipping_rate_pct, vrn, updated_at
		FROM shops
		WHERE shop_domain = $1
	`, shop).Scan(&shopID, &st.HomeCountry, &domestic, &st.OSSRegistered, &st.ReverseChargeEnabled,
		&shipScheme, &shipRate, &vrn, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			st.HomeCountry = s.defaults.HomeCountry
			st.DomesticRate = s.defaults.DomesticRate
			st.ReverseChargeEnabled = true
			st.SKURates = []SKURate{}
			return st, nil
		}
		return nil, fmt.Errorf("failed to fetch settings for shop %s: %w", shop, err)
	}

	if st.DomesticRate, err = vat.RateFromDecimal(domestic); err != nil {
		return nil, fmt.Errorf("stored domestic rate for shop %s: %w", shop, err)
	}
	if shipScheme != nil {
		st.ShippingScheme = vat.Scheme(*shipScheme)
	}
	if shipRate != nil {
		r, err := vat.RateFromDecimal(*shipRate)
		if err != nil {
			return nil, fmt.Errorf("stored shipping rate for shop %s: %w", shop, err)
		}
		st.ShippingRate = &r
	}
	if vrn != nil {
		st.VRN = *vrn
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sku, scheme, rate_pct, COALESCE(country_of_supply, ''), COALESCE(notes, '')
		FROM sku_tax_rates
		WHERE shop_id = $1
		ORDER BY sku
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sku rates for shop %s: %w", shop, err)
	}
	defer rows.Close()

	st.SKURates = []SKURate{}
	for rows.Next() {
		var r SKURate
		var scheme string
		var rate decimal.Decimal
		if err := rows.Scan(&r.SKU, &scheme, &rate, &r.CountryOfSupply, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		r.Scheme = vat.Scheme(scheme)
		r.CountryOfSupply = strings.TrimSpace(r.CountryOfSupply)
		if r.Rate, err = vat.RateFromDecimal(rate); err != nil {
			return nil, fmt.Errorf("stored rate for sku %s: %w", r.SKU, err)
		}
		st.SKURates = append(st.SKURates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sku rates: %w", err)
	}
	return st, nil
}

func (s *shopService) UpdateSettings(ctx context.Context, in ShopSettings) (*ShopSettings, error) {
	in.HomeCountry = strings.ToUpper(strings.TrimSpace(in.HomeCountry))
	if in.HomeCountry == "" {
		in.HomeCountry = s.defaults.HomeCountry
	}
	if in.DomesticRate == 0 {
		in.DomesticRate = s.defaults.DomesticRate
	}
	if err := validateSettings(in); err != nil {
		return nil, err
	}

	var shipScheme, shipRate *string
	if in.ShippingScheme != "" {
		v := string(in.ShippingScheme)
		shipScheme = &v
	}
	if in.ShippingRate != nil {
		v := in.ShippingRate.String()
		shipRate = &v
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var shopID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO shops (shop_domain, home_country, domestic_rate_pct, oss_registered, reverse_charge_enabled,
		                   shipping_scheme, shipping_rate_pct, vrn)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		ON CONFLICT (shop_domain) DO UPDATE SET
			home_country           = EXCLUDED.home_country,
			domestic_rate_pct      = EXCLUDED.domestic_rate_pct,
			oss_registered         = EXCLUDED.oss_registered,
			reverse_charge_enabled = EXCLUDED.reverse_charge_enabled,
			shipping_scheme        = EXCLUDED.shipping_scheme,
			shipping_rate_pct      = EXCLUDED.shipping_rate_pct,
			vrn                    = EXCLUDED.vrn,
			updated_at             = NOW()
		RETURNING id
	`, in.ShopDomain, in.HomeCountry, in.DomesticRate.String(), in.OSSRegistered, in.ReverseChargeEnabled,
		shipScheme, shipRate, in.VRN).Scan(&shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert shop %s: %w", in.ShopDomain, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM sku_tax_rates WHERE shop_id = $1", shopID); err != nil {
		return nil, fmt.Errorf("failed to clear sku rates: %w", err)
	}
	for _, r := range in.SKURates {
		_, err := tx.Exec(ctx, `
			INSERT INTO sku_tax_rates (shop_id, sku, scheme, rate_pct, country_of_supply, notes)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		`, shopID, r.SKU, string(r.Scheme), r.Rate.String(), strings.ToUpper(r.CountryOfSupply), r.Notes)
		if err != nil {
			return nil, fmt.Errorf("failed to insert sku rate %s: %w", r.SKU, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.GetSettings(ctx, in.ShopDomain)
}

func validateSettings(in ShopSettings) error {
	if strings.TrimSpace(in.ShopDomain) == "" {
		return fmt.Errorf("%w: shop domain is required", ErrInvalidSettings)
	}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidSettings, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if in.ShippingScheme != "" && !in.ShippingScheme.Valid() {
		return fmt.Errorf("%w: unknown shipping scheme %q", ErrInvalidSettings, in.ShippingScheme)
	}
	seen := make(map[string]bool, len(in.SKURates))
	for _, r := range in.SKURates {
		if !r.Scheme.Valid() {
			return fmt.Errorf("%w: unknown scheme %q for sku %s", ErrInvalidSettings, r.Scheme, r.SKU)
		}
		if seen[r.SKU] {
			return fmt.Errorf("%w: sku %s listed twice", ErrInvalidSettings, r.SKU)
		}
		seen[r.SKU] = true
	}
	return nil
}

func (s *shopService) DestinationRates(ctx context.Context) (map[string]vat.Rate, error) {
	rows, err := s.pool.Query(ctx, "SELECT country_code, rate_pct FROM destination_vat_rates")
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]vat.Rate)
	for rows.Next() {
		var code string
		var pct decimal.Decimal
		if err := rows.Scan(&code, &pct); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		r, err := vat.RateFromDecimal(pct)
		if err != nil {
			return nil, fmt.Errorf("destination rate for %s: %w", code, err)
		}
		rates[strings.ToUpper(strings.TrimSpace(code))] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating destination rates: %w", err)
	}
	return rates, nil
}

func (s *shopService) TaxContext(ctx context.Context, shop string) (vat.VatContext, error) {
	st, err := s.GetSettings(ctx, shop)
	if err != nil {
		return vat.VatContext{}, err
	}
	vc := ContextFromSettings(*st)
	if st.OSSRegistered {
		if vc.DestinationRates, err = s.DestinationRates(ctx); err != nil {
			return vat.VatContext{}, err
		}
	}
	return vc, nil
}

// ContextFromSettings maps stored settings onto an engine context. Destination
// rates are left for the caller to fill in.
func ContextFromSettings(st ShopSettings) vat.VatContext {
	vc := vat.VatContext{
		HomeCountry:                 st.HomeCountry,
		DomesticRate:                st.DomesticRate,
		DestinationSchemeRegistered: st.OSSRegistered,
		SKURates:                    make(map[string]vat.TaxTreatment, len(st.SKURates)),
	}
	for _, r := range st.SKURates {
		vc.SKURates[r.SKU] = vat.TaxTreatment{
			Scheme:          r.Scheme,
			Rate:            r.Rate,
			CountryOfSupply: r.CountryOfSupply,
			Notes:           r.Notes,
		}
	}
	if st.ReverseChargeEnabled {
		vc.ReverseCharge = vat.DefaultReverseCharge(nil)
	}
	if st.ShippingScheme != "" {
		scheme := st.ShippingScheme
		var rate vat.Rate
		if scheme.CountsAsOutputVAT() {
			rate = st.DomesticRate
		}
		if st.ShippingRate != nil {
			rate = *st.ShippingRate
		}
		vc.ShippingPolicy = func(o vat.OrderLike) vat.TaxTreatment {
			return vat.TaxTreatment{
				Scheme:          scheme,
				Rate:            rate,
				CountryOfSupply: vat.DestinationCountry(o, vc),
				Notes:           "shop shipping policy",
			}
		}
	}
	return vc
}
