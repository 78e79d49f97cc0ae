package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/coupon"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/refdata"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/shipping"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/tax"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/telemetry"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/transport"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	log.Logger = log.With().Str("service", cfg.App.Name).Logger()
	log.Info().Msg("Order payment service starting...")

	ctx := context.Background()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	if err := db.Migrate(cfg.Postgres.MigrateURL()); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	coupons := coupon.NewEngine(coupon.NewRepository(pg.Pool), time.Now)
	taxes := tax.NewEngine(tax.NewRepository(pg.Pool))
	shipments := shipping.NewEngine(shipping.NewRepository(pg.Pool), time.Now)

	if cfg.App.SeedFile != "" {
		seedReferenceData(ctx, cfg.App.SeedFile, coupons, taxes, shipments)
	}

	var publisher order.EventPublisher
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		publisher = events.NewRedisPublisher(redisClient, cfg.Redis.Stream)
		log.Info().Str("addr", cfg.Redis.Addr).Str("stream", cfg.Redis.Stream).Msg("Publishing order events to Redis")
	} else {
		publisher = events.NewLogPublisher()
		log.Warn().Msg("REDIS_ADDR not set, order events are only logged")
	}

	orderService := order.NewService(order.Deps{
		Repo:         order.NewRepository(pg.Pool),
		UoW:          db.NewTransactor(pg.Pool),
		Coupons:      coupons,
		Taxes:        taxes,
		Shipping:     shipments,
		Publisher:    publisher,
		NumberPrefix: cfg.App.OrderNumberPrefix,
		Now:          time.Now,
	})

	router := transport.NewRouter(
		transport.RouterConfig{RequestTimeout: 30 * time.Second, Health: pg.Pool},
		handler.NewOrderHandler(orderService),
		handler.NewCatalogHandler(coupons, taxes, shipments),
	)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
	pg.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Order payment service stopped")
}

func seedReferenceData(ctx context.Context, path string, coupons coupon.Engine, taxes tax.Engine, shipments shipping.Engine) {
	file, err := refdata.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to read seed file")
	}
	summary, err := refdata.NewSeeder(coupons, taxes, shipments).Seed(ctx, file)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to seed reference data")
	}
	log.Info().
		Int("coupons", summary.Coupons).
		Int("tax_rules", summary.TaxRules).
		Int("shipping_rates", summary.ShippingRates).
		Msg("Reference data seeded")
}
