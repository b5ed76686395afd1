package app

import (
	"fmt"

	"vatpilot/internal/config"
	"vatpilot/internal/core"
	"vatpilot/internal/hmrc"
	"vatpilot/internal/telemetry"
	"vatpilot/internal/vat"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ShopDefaults converts the configured tax defaults.
func ShopDefaults(cfg config.TaxDefaults) (core.ShopDefaults, error) {
	rate, err := vat.ParseRate(cfg.DomesticRatePct)
	if err != nil {
		return core.ShopDefaults{}, fmt.Errorf("DOMESTIC_RATE_PCT: %w", err)
	}
	return core.ShopDefaults{HomeCountry: cfg.HomeCountry, DomesticRate: rate}, nil
}

// NewFromConfig wires stores, the HMRC adapter and the service over pool.
func NewFromConfig(cfg *config.Config, pool *pgxpool.Pool, metrics *telemetry.Metrics, log *zap.Logger) (ApplicationService, error) {
	defaults, err := ShopDefaults(cfg.Defaults)
	if err != nil {
		return nil, err
	}

	orders := core.NewVatStore(pool)
	manual := core.NewManualStore(pool)
	tokens := core.NewTokenStore(pool)

	oauth := hmrc.NewOAuth(cfg.HMRC, cfg.StateSecret, tokens)
	tokenManager := hmrc.NewTokenManager(oauth, tokens, metrics, log.Named("hmrc"))
	client := hmrc.NewClient(cfg.HMRC, tokenManager, hmrc.WithLogger(log.Named("hmrc")))

	return NewAppService(Deps{
		Shops:    core.NewShopService(pool, defaults),
		Orders:   orders,
		Manual:   manual,
		Periods:  core.NewPeriodService(orders, manual),
		Tokens:   tokens,
		Receipts: core.NewReceiptStore(pool),
		Auth:     oauth,
		HMRC:     client,
		Metrics:  metrics,
		Logger:   log,
	}), nil
}
