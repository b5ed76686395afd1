package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"vatpilot/internal/adapters/cli"
	"vatpilot/internal/app"
	"vatpilot/internal/config"
	"vatpilot/internal/core"
	"vatpilot/internal/db"
	"vatpilot/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: vatctl <compute|recompute|boxes|draft|import> [args]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// compute runs against the configured defaults and never opens the database.
	if os.Args[1] == "compute" {
		defaults, err := app.ShopDefaults(cfg.Defaults)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		vc := core.ContextFromSettings(core.ShopSettings{
			HomeCountry:          defaults.HomeCountry,
			DomesticRate:         defaults.DomesticRate,
			ReverseChargeEnabled: true,
		})
		if err := cli.Compute(os.Stdin, os.Stdout, vc); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	zl, err := logger.New(cfg.Env, "warn")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	svc, err := app.NewFromConfig(cfg, pool, nil, zl)
	if err != nil {
		log.Fatalf("wiring: %v", err)
	}

	cli.Run(ctx, svc, os.Args[1:])
}
