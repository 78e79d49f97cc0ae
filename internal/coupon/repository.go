package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/db"
)

type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	SetStatus(ctx context.Context, code string, status Status) error
	// IncrementUsage atomically adds one use if the coupon is active and
	// below its limit; otherwise it returns ErrCouponExhausted.
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]Coupon, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const couponColumns = `id, code, description, type, value::text, min_order_amount, max_discount_amount,
	usage_limit, usage_count, expires_at, status, created_at, updated_at`

func (r *postgresRepository) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	c, err := scanCoupon(db.Conn(ctx, r.db).QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to select coupon %s: %w", code, err)
	}
	return c, nil
}

func (r *postgresRepository) Create(ctx context.Context, c *Coupon) error {
	if c.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate coupon ID: %w", err)
		}
		c.ID = id
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	query := `
		INSERT INTO coupons (id, code, description, type, value, min_order_amount, max_discount_amount,
			usage_limit, usage_count, expires_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, 0, $9, $10, $11, $12)
	`
	_, err := db.Conn(ctx, r.db).Exec(ctx, query,
		c.ID, c.Code, c.Description, string(c.Type), c.Value.String(), c.MinOrderAmount, c.MaxDiscountAmount,
		c.UsageLimit, c.ExpiresAt, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "coupons_code_key") {
			return ErrCouponExists
		}
		return fmt.Errorf("repository: failed to insert coupon: %w", err)
	}
	return nil
}

func (r *postgresRepository) SetStatus(ctx context.Context, code string, status Status) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx,
		`UPDATE coupons SET status = $1, updated_at = $2 WHERE UPPER(code) = UPPER($3)`,
		string(status), time.Now().UTC(), code)
	if err != nil {
		return fmt.Errorf("repository: failed to update coupon %s status: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}

func (r *postgresRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE coupons
		SET usage_count = usage_count + 1, updated_at = $2
		WHERE id = $1
		  AND status = 'ACTIVE'
		  AND (usage_limit IS NULL OR usage_count < usage_limit)
	`
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		if db.IsCheckViolation(err, "coupons_usage_within_limit") {
			return ErrCouponExhausted
		}
		return fmt.Errorf("repository: failed to increment coupon %s usage: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		log.Warn().Ctx(ctx).Stringer("coupon_id", id).Msg("repository: coupon usage increment rejected")
		return ErrCouponExhausted
	}
	return nil
}

func (r *postgresRepository) List(ctx context.Context) ([]Coupon, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list coupons: %w", err)
	}
	defer rows.Close()

	coupons := make([]Coupon, 0)
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating coupons: %w", err)
	}
	return coupons, nil
}

func scanCoupon(row pgx.Row) (*Coupon, error) {
	var (
		c          Coupon
		couponType string
		value      string
		status     string
	)
	err := row.Scan(&c.ID, &c.Code, &c.Description, &couponType, &value, &c.MinOrderAmount, &c.MaxDiscountAmount,
		&c.UsageLimit, &c.UsageCount, &c.ExpiresAt, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Value, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid coupon value %q: %w", value, err)
	}
	c.Type = Type(couponType)
	c.Status = Status(status)
	return &c, nil
}
