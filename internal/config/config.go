// Package config loads service settings from the environment
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-engine/internal/catalog"
	"golang.org/x/text/currency"
)

type Config struct {
	HTTPPort string
	GRPCPort string

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string

	CatalogDriver  string
	CatalogDSN     string
	MigrationsPath string

	KafkaBrokers  []string
	CheckoutTopic string

	// StoreCurrency is the upper-case ISO 4217 code cart prices must be in
	StoreCurrency string

	SessionIdleTimeout time.Duration
	RequestTimeout     time.Duration
	PersistTimeout     time.Duration
	ShutdownTimeout    time.Duration

	LogLevel slog.Level
}

// Load reads the configuration, falling back to local development defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		GRPCPort:       getEnv("GRPC_PORT", "50052"),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:    getEnv("MONGO_DB_NAME", "cartdb"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		CatalogDriver:  getEnv("CATALOG_DRIVER", catalog.DriverSQLite),
		CatalogDSN:     getEnv("CATALOG_DSN", "file:catalog.db?_pragma=busy_timeout(5000)"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "internal/catalog/migrations"),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		CheckoutTopic:  getEnv("CHECKOUT_TOPIC", "checkout-outbox"),
	}

	var errs []error

	unit, err := currency.ParseISO(getEnv("STORE_CURRENCY", "USD"))
	if err != nil {
		errs = append(errs, fmt.Errorf("STORE_CURRENCY: %w", err))
	}
	cfg.StoreCurrency = unit.String()

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"SESSION_IDLE_TIMEOUT", 30 * time.Minute, &cfg.SessionIdleTimeout},
		{"REQUEST_TIMEOUT", 30 * time.Second, &cfg.RequestTimeout},
		{"PERSIST_TIMEOUT", 10 * time.Second, &cfg.PersistTimeout},
		{"SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dest = v
	}

	level := getEnv("LOG_LEVEL", "info")
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: invalid level %q", level))
	}

	if cfg.CatalogDriver != catalog.DriverSQLite && cfg.CatalogDriver != catalog.DriverPostgres {
		errs = append(errs, fmt.Errorf("CATALOG_DRIVER: %w: %q", catalog.ErrUnsupportedDriver, cfg.CatalogDriver))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS: at least one broker is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, d)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
