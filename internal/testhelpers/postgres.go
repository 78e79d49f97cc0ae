//go:build container

// Package testhelpers starts throwaway infrastructure for the container tests.
package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/db"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresUser     = "orders"
	postgresPassword = "orders"
	postgresDB       = "orders_test"
)

// SetupPostgres starts a Postgres container, applies the migrations and
// returns a pool connected to it. The container is removed when t ends.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		// The entrypoint restarts the server once after init.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get postgres port: %v", err)
	}

	cfg := config.PostgresConfig{
		Host:            host,
		Port:            port.Port(),
		User:            postgresUser,
		Password:        postgresPassword,
		DBName:          postgresDB,
		SSLMode:         "disable",
		MaxConns:        20,
		MinConns:        1,
		MaxConnLifetime: time.Minute,
	}

	if err := db.Migrate(cfg.MigrateURL()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	pg, err := db.New(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pg.Close)

	return pg.Pool
}
