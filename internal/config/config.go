package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultStateSecret = "dev-state-secret-change-in-production"

// HMRC sandbox base URL; production is https://api.service.hmrc.gov.uk.
const defaultHMRCBaseURL = "https://test-api.service.hmrc.gov.uk"

type Config struct {
	Env            string
	LogLevel       string
	Port           string
	DatabaseURL    string
	AllowedOrigins string
	StateSecret    string
	MigrateOnStart bool
	HMRC           HMRCConfig
	Defaults       TaxDefaults
}

// HMRCConfig configures the MTD VAT API client and OAuth flow.
type HMRCConfig struct {
	BaseURL             string
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	TestScenario        string
	RequestsPerSecond   float64
	ObligationsCacheTTL time.Duration
	Timeout             time.Duration
}

// TaxDefaults seed the settings of shops that have not configured their own.
type TaxDefaults struct {
	HomeCountry     string
	DomesticRatePct string
}

// Load reads .env (current directory, then up to two parents) and the
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		dir, _ := os.Getwd()
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				break
			}
		}
	}

	cfg := &Config{
		Env:            getEnv("ENV", "dev"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnv("SERVER_PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
		StateSecret:    getEnv("STATE_SECRET", defaultStateSecret),
		MigrateOnStart: getEnv("MIGRATE_ON_START", "false") == "true",
		HMRC: HMRCConfig{
			BaseURL:             strings.TrimRight(getEnv("HMRC_BASE_URL", defaultHMRCBaseURL), "/"),
			ClientID:            getEnv("HMRC_CLIENT_ID", ""),
			ClientSecret:        getEnv("HMRC_CLIENT_SECRET", ""),
			RedirectURI:         getEnv("HMRC_REDIRECT_URI", "http://localhost:8080/api/hmrc/callback"),
			TestScenario:        getEnv("HMRC_TEST_SCENARIO", ""),
			RequestsPerSecond:   getEnvFloat("HMRC_REQUESTS_PER_SECOND", 3),
			ObligationsCacheTTL: getEnvDuration("OBLIGATIONS_CACHE_TTL", 10*time.Minute),
			Timeout:             getEnvDuration("HMRC_TIMEOUT", 20*time.Second),
		},
		Defaults: TaxDefaults{
			HomeCountry:     strings.ToUpper(getEnv("HOME_COUNTRY", "GB")),
			DomesticRatePct: getEnv("DOMESTIC_RATE_PCT", "20"),
		},
	}

	if cfg.Env != "dev" && cfg.Env != "prod" {
		cfg.Env = "prod"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		cfg.LogLevel = "info"
	}

	if cfg.IsProd() {
		if cfg.StateSecret == defaultStateSecret {
			return nil, fmt.Errorf("STATE_SECRET must be set in production environment")
		}
		if cfg.HMRC.ClientID == "" || cfg.HMRC.ClientSecret == "" {
			return nil, fmt.Errorf("HMRC_CLIENT_ID and HMRC_CLIENT_SECRET are required in production")
		}
		// Gov-Test-Scenario is a sandbox-only header.
		cfg.HMRC.TestScenario = ""
	}

	return cfg, nil
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
