package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/db"
)

type Repository interface {
	FindRate(ctx context.Context, country string, method Method) (*Rate, error)
	FindRateByID(ctx context.Context, id uuid.UUID) (*Rate, error)
	// ListRates returns active rates serving country, or every rate when
	// country is empty.
	ListRates(ctx context.Context, country string) ([]Rate, error)
	CreateRate(ctx context.Context, rate *Rate) error

	CreateShipment(ctx context.Context, s *Shipment) error
	FindShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*Shipment, error)
	// UpdateShipment persists s only if the stored status still equals from.
	UpdateShipment(ctx context.Context, s *Shipment, from Status) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const rateColumns = `id, name, method, price, free_threshold, estimated_days, countries, is_active, created_at, updated_at`

func (r *postgresRepository) FindRate(ctx context.Context, country string, method Method) (*Rate, error) {
	query := `SELECT ` + rateColumns + ` FROM shipping_rates
		WHERE method = $1 AND is_active AND $2 = ANY(countries)
		ORDER BY price ASC
		LIMIT 1`

	rate, err := scanRate(db.Conn(ctx, r.db).QueryRow(ctx, query, string(method), country))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRateNotFound
		}
		return nil, fmt.Errorf("repository: failed to select %s rate for %s: %w", method, country, err)
	}
	return rate, nil
}

func (r *postgresRepository) FindRateByID(ctx context.Context, id uuid.UUID) (*Rate, error) {
	rate, err := scanRate(db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+rateColumns+` FROM shipping_rates WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRateNotFound
		}
		return nil, fmt.Errorf("repository: failed to select rate %s: %w", id, err)
	}
	return rate, nil
}

func (r *postgresRepository) ListRates(ctx context.Context, country string) ([]Rate, error) {
	query := `SELECT ` + rateColumns + ` FROM shipping_rates ORDER BY method, price`
	args := []any{}
	if country != "" {
		query = `SELECT ` + rateColumns + ` FROM shipping_rates
			WHERE is_active AND $1 = ANY(countries)
			ORDER BY price ASC, estimated_days ASC`
		args = append(args, country)
	}

	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list shipping rates: %w", err)
	}
	defer rows.Close()

	rates := make([]Rate, 0)
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan shipping rate: %w", err)
		}
		rates = append(rates, *rate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating shipping rates: %w", err)
	}
	return rates, nil
}

func (r *postgresRepository) CreateRate(ctx context.Context, rate *Rate) error {
	if rate.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate rate ID: %w", err)
		}
		rate.ID = id
	}
	now := time.Now().UTC()
	rate.CreatedAt, rate.UpdatedAt = now, now

	query := `
		INSERT INTO shipping_rates (id, name, method, price, free_threshold, estimated_days, countries, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.Conn(ctx, r.db).Exec(ctx, query,
		rate.ID, rate.Name, string(rate.Method), rate.Price, rate.FreeThreshold, rate.EstimatedDays,
		rate.Countries, rate.IsActive, rate.CreatedAt, rate.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert shipping rate: %w", err)
	}
	return nil
}

const shipmentColumns = `id, order_id, rate_id, tracking_number, tracking_url, carrier, status, address,
	estimated_delivery, shipped_at, delivered_at, created_at, updated_at`

func (r *postgresRepository) CreateShipment(ctx context.Context, s *Shipment) error {
	if s.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate shipment ID: %w", err)
		}
		s.ID = id
	}

	query := `INSERT INTO shipments (` + shipmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := db.Conn(ctx, r.db).Exec(ctx, query,
		s.ID, s.OrderID, s.RateID, s.TrackingNumber, s.TrackingURL, s.Carrier, string(s.Status), s.Address,
		s.EstimatedDelivery, s.ShippedAt, s.DeliveredAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "shipments_order_id_key") {
			return ErrShipmentExists
		}
		return fmt.Errorf("repository: failed to insert shipment for order %s: %w", s.OrderID, err)
	}
	return nil
}

func (r *postgresRepository) FindShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*Shipment, error) {
	var (
		s      Shipment
		status string
	)
	err := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1`, orderID).Scan(
		&s.ID, &s.OrderID, &s.RateID, &s.TrackingNumber, &s.TrackingURL, &s.Carrier, &status, &s.Address,
		&s.EstimatedDelivery, &s.ShippedAt, &s.DeliveredAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShipmentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select shipment for order %s: %w", orderID, err)
	}
	s.Status = Status(status)
	return &s, nil
}

func (r *postgresRepository) UpdateShipment(ctx context.Context, s *Shipment, from Status) error {
	query := `
		UPDATE shipments
		SET tracking_number = $1, tracking_url = $2, carrier = $3, status = $4,
			shipped_at = $5, delivered_at = $6, updated_at = $7
		WHERE id = $8 AND status = $9
	`
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query,
		s.TrackingNumber, s.TrackingURL, s.Carrier, string(s.Status),
		s.ShippedAt, s.DeliveredAt, s.UpdatedAt, s.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update shipment %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShipmentChanged
	}
	return nil
}

func scanRate(row pgx.Row) (*Rate, error) {
	var (
		rate   Rate
		method string
	)
	err := row.Scan(&rate.ID, &rate.Name, &method, &rate.Price, &rate.FreeThreshold, &rate.EstimatedDays,
		&rate.Countries, &rate.IsActive, &rate.CreatedAt, &rate.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rate.Method = Method(method)
	return &rate, nil
}
