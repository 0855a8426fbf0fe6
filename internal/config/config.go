package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type SeedRate struct {
	From string
	To   string
	Rate decimal.Decimal
}

type Config struct {
	Env             string
	HTTPAddr        string
	BaseURL         string
	OnmetaBaseURL   string
	OnmetaAPIKey    string
	ForwardedFor    string
	ProviderTimeout time.Duration
	StoreDriver     string
	PostgresDSN     string
	RedisAddr       string
	RateCacheTTL    time.Duration
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	OTLPEndpoint    string
	SeedRates       []SeedRate
}

// WebhookURL is the callback the provider invokes on order status changes.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/onmeta-webhook"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		Env:           getenv("APP_ENV", "prod"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		BaseURL:       getenv("BASE_URL", "http://localhost:8080"),
		OnmetaBaseURL: getenv("ONMETA_BASE_URL", "https://stg.api.onmeta.in/v1"),
		OnmetaAPIKey:  os.Getenv("ONMETA_API_KEY"),
		ForwardedFor:  getenv("ONMETA_FORWARDED_FOR", "127.0.0.1"),
		StoreDriver:   strings.ToLower(getenv("STORE_DRIVER", StoreMemory)),
		PostgresDSN:   getenv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=offramp sslmode=disable"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		KafkaTopic:    getenv("KAFKA_TOPIC", "transaction-events"),
		KafkaGroupID:  os.Getenv("KAFKA_GROUP_ID"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if brokers := os.Getenv("KAFKA_BROKER"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if cfg.KafkaGroupID == "" {
		// each instance needs its own group so every instance sees every event
		host, _ := os.Hostname()
		cfg.KafkaGroupID = "offramp-fanout-" + host
	}

	var err error
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateCacheTTL, err = getDuration("RATE_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SeedRates, err = ParseSeedRates(getenv("SEED_RATES", "usdt/inr=84.50")); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case StoreMemory, StorePostgres:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.OnmetaAPIKey == "" {
		slog.Warn("ONMETA_API_KEY is not set, provider calls will be rejected")
	}

	slog.Info("config loaded",
		"env", cfg.Env,
		"http_addr", cfg.HTTPAddr,
		"base_url", cfg.BaseURL,
		"onmeta_base_url", cfg.OnmetaBaseURL,
		"store_driver", cfg.StoreDriver,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"provider_timeout", cfg.ProviderTimeout)
	return cfg, nil
}

// ParseSeedRates reads a list like "usdt/inr=84.50,matic/inr=52.10".
func ParseSeedRates(raw string) ([]SeedRate, error) {
	var out []SeedRate
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		pair, value, ok := strings.Cut(item, "=")
		from, to, okPair := strings.Cut(pair, "/")
		if !ok || !okPair || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return nil, fmt.Errorf("invalid seed rate %q, want from/to=rate", item)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid seed rate value in %q", item)
		}
		out = append(out, SeedRate{From: strings.TrimSpace(from), To: strings.TrimSpace(to), Rate: rate})
	}
	return out, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration like 15s", key, v)
	}
	return d, nil
}
