package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DSN renders the keyword/value connection string understood by pgxpool.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MigrateURL renders the pgx5:// URL expected by the golang-migrate pgx/v5 driver.
func (c PostgresConfig) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type Config struct {
	App struct {
		Name              string
		Port              string
		OrderNumberPrefix string
		SeedFile          string
	}
	Log struct {
		Level  string
		Format string
	}
	Postgres PostgresConfig
	Redis    struct {
		Addr   string
		Stream string
	}
	Telemetry struct {
		Endpoint    string
		ServiceName string
	}
}

// Load reads an optional .env file at path and then the process environment.
// Required database settings missing from both are reported together.
func Load(path string) (*Config, error) {
	if path != "" {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	cfg.App.Name = getEnv("APP_NAME", "order-payment-service")
	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.OrderNumberPrefix = strings.ToUpper(getEnv("ORDER_NUMBER_PREFIX", "ORD"))
	cfg.App.SeedFile = os.Getenv("SEED_FILE")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "console")

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.Postgres.Host = required("DB_HOST")
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.User = required("DB_USER")
	cfg.Postgres.Password = required("DB_PASSWORD")
	cfg.Postgres.DBName = required("DB_NAME")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")

	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.Postgres.MaxConns, err = getInt32("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.Postgres.MinConns, err = getInt32("DB_MIN_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
		return nil, fmt.Errorf("config: DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.Postgres.MinConns, cfg.Postgres.MaxConns)
	}
	lifetime := getEnv("DB_MAX_CONN_LIFETIME", "30m")
	if cfg.Postgres.MaxConnLifetime, err = time.ParseDuration(lifetime); err != nil {
		return nil, fmt.Errorf("config: invalid DB_MAX_CONN_LIFETIME %q: %w", lifetime, err)
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Stream = getEnv("EVENTS_STREAM", "orders.events")

	cfg.Telemetry.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", cfg.App.Name)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt32(key string, fallback int32) (int32, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, v)
	}
	return int32(n), nil
}
