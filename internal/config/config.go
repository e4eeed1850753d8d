package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	DBDriver string
	DBSource string
	Port     string
	Env      string

	JWTSecret string

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	FraudModelPath    string
	FraudModelURL     string
	FraudModelTimeout time.Duration
	FraudThreshold    float64
	FraudLargeAmount  decimal.Decimal

	OfflineFailurePolicy string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		DBDriver:             getenv("DB_DRIVER", DriverPostgres),
		DBSource:             os.Getenv("DB_SOURCE"),
		Port:                 getenv("SERVER_PORT", "8080"),
		Env:                  getenv("ENVIRONMENT", "development"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		KafkaTopic:           getenv("KAFKA_TOPIC", "transaction_completed"),
		FraudModelPath:       os.Getenv("FRAUD_MODEL_PATH"),
		FraudModelURL:        os.Getenv("FRAUD_MODEL_URL"),
		OfflineFailurePolicy: getenv("OFFLINE_FAILURE_POLICY", "remove"),
	}

	switch cfg.DBDriver {
	case DriverPostgres, DriverSQLite:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required outside development")
		}
		cfg.JWTSecret = "dev-secret"
	}

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.FraudModelTimeout, err = time.ParseDuration(getenv("FRAUD_MODEL_TIMEOUT", "500ms")); err != nil || cfg.FraudModelTimeout <= 0 {
		return nil, fmt.Errorf("invalid FRAUD_MODEL_TIMEOUT")
	}
	if cfg.FraudThreshold, err = strconv.ParseFloat(getenv("FRAUD_THRESHOLD", "0.7"), 64); err != nil || cfg.FraudThreshold <= 0 || cfg.FraudThreshold > 1 {
		return nil, fmt.Errorf("FRAUD_THRESHOLD must be in (0, 1]")
	}
	if cfg.FraudLargeAmount, err = decimal.NewFromString(getenv("FRAUD_LARGE_AMOUNT", "100000")); err != nil || !cfg.FraudLargeAmount.IsPositive() {
		return nil, fmt.Errorf("FRAUD_LARGE_AMOUNT must be a positive amount")
	}

	switch cfg.OfflineFailurePolicy {
	case "remove", "retain":
	default:
		return nil, fmt.Errorf("OFFLINE_FAILURE_POLICY must be remove or retain")
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
