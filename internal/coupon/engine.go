package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/money"
)

var (
	ErrCouponNotFound     = apperr.New(apperr.ErrNotFound, "coupon not found")
	ErrCouponInactive     = apperr.New(apperr.ErrInvalidCoupon, "coupon is not active")
	ErrCouponExpired      = apperr.New(apperr.ErrInvalidCoupon, "coupon has expired")
	ErrCouponExhausted    = apperr.New(apperr.ErrInvalidCoupon, "coupon usage limit reached")
	ErrBelowMinimum       = apperr.New(apperr.ErrInvalidCoupon, "order amount below coupon minimum")
	ErrCouponExists       = apperr.New(apperr.ErrConflict, "coupon code already exists")
	ErrInvalidCouponValue = apperr.New(apperr.ErrValidation, "invalid coupon value")
	ErrNegativeAmount     = apperr.New(apperr.ErrValidation, "order amount cannot be negative")
)

var hundred = decimal.NewFromInt(100)

type Engine interface {
	// ApplyCoupon prices code against orderAmount without consuming a use.
	ApplyCoupon(ctx context.Context, code string, orderAmount int64) (Application, error)
	// RedeemCoupon consumes one use. Run it inside the transaction that
	// persists whatever the coupon was applied to.
	RedeemCoupon(ctx context.Context, id uuid.UUID) error
	CreateCoupon(ctx context.Context, input CreateInput) (*Coupon, error)
	DeactivateCoupon(ctx context.Context, code string) error
	GetCoupon(ctx context.Context, code string) (*Coupon, error)
	ListCoupons(ctx context.Context) ([]Coupon, error)
}

type engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine builds the coupon engine. A nil clock means time.Now.
func NewEngine(repo Repository, clock func() time.Time) Engine {
	if clock == nil {
		clock = time.Now
	}
	return &engine{repo: repo, now: clock}
}

func (e *engine) ApplyCoupon(ctx context.Context, code string, orderAmount int64) (Application, error) {
	if orderAmount < 0 {
		return Application{}, fmt.Errorf("%w: %d", ErrNegativeAmount, orderAmount)
	}

	c, err := e.GetCoupon(ctx, code)
	if err != nil {
		return Application{}, err
	}

	if err := e.checkUsable(c, orderAmount); err != nil {
		log.Info().Ctx(ctx).Str("coupon_code", c.Code).Int64("order_amount", orderAmount).Err(err).Msg("coupon: rejected")
		return Application{}, err
	}

	discount := Discount(c, orderAmount)
	return Application{
		CouponID:       c.ID,
		Code:           c.Code,
		DiscountAmount: discount,
		FinalAmount:    orderAmount - discount,
	}, nil
}

func (e *engine) checkUsable(c *Coupon, orderAmount int64) error {
	if c.Status != StatusActive {
		return fmt.Errorf("%w: %s", ErrCouponInactive, c.Code)
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(e.now()) {
		return fmt.Errorf("%w: %s expired at %s", ErrCouponExpired, c.Code, c.ExpiresAt.Format(time.RFC3339))
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return fmt.Errorf("%w: %s", ErrCouponExhausted, c.Code)
	}
	if c.MinOrderAmount != nil && orderAmount < *c.MinOrderAmount {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinimum, orderAmount, *c.MinOrderAmount)
	}
	return nil
}

// Discount computes the discount c grants on orderAmount. It never exceeds
// orderAmount. MaxDiscountAmount caps percentage coupons only.
func Discount(c *Coupon, orderAmount int64) int64 {
	var discount int64
	switch c.Type {
	case TypePercentage:
		discount = money.Percent(orderAmount, c.Value)
		if c.MaxDiscountAmount != nil && discount > *c.MaxDiscountAmount {
			discount = *c.MaxDiscountAmount
		}
	case TypeFixed:
		discount = c.Value.Round(0).IntPart()
	}
	return max(0, min(discount, orderAmount))
}

func (e *engine) RedeemCoupon(ctx context.Context, id uuid.UUID) error {
	if err := e.repo.IncrementUsage(ctx, id); err != nil {
		if errors.Is(err, ErrCouponExhausted) {
			return err
		}
		return fmt.Errorf("coupon: failed to redeem %s: %w", id, err)
	}
	log.Info().Ctx(ctx).Stringer("coupon_id", id).Msg("coupon: redeemed")
	return nil
}

func (e *engine) CreateCoupon(ctx context.Context, input CreateInput) (*Coupon, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, apperr.Validationf("coupon code is required")
	}
	if err := validateValue(input.Type, input.Value); err != nil {
		return nil, err
	}

	c := &Coupon{
		Code:              code,
		Description:       strings.TrimSpace(input.Description),
		Type:              input.Type,
		Value:             input.Value,
		MinOrderAmount:    input.MinOrderAmount,
		MaxDiscountAmount: input.MaxDiscountAmount,
		UsageLimit:        input.UsageLimit,
		ExpiresAt:         input.ExpiresAt,
		Status:            StatusActive,
	}
	if err := e.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCouponExists) {
			log.Warn().Ctx(ctx).Str("coupon_code", code).Msg("coupon: duplicate code")
			return nil, fmt.Errorf("%w: %s", ErrCouponExists, code)
		}
		log.Error().Ctx(ctx).Err(err).Str("coupon_code", code).Msg("coupon: failed to create coupon")
		return nil, fmt.Errorf("coupon: failed to create %s: %w", code, err)
	}

	log.Info().Ctx(ctx).Stringer("coupon_id", c.ID).Str("coupon_code", code).Msg("coupon: created")
	return c, nil
}

func validateValue(t Type, value decimal.Decimal) error {
	switch t {
	case TypePercentage:
		if !value.IsPositive() || value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be in (0, 100], got %s", ErrInvalidCouponValue, value)
		}
	case TypeFixed:
		if !value.IsPositive() {
			return fmt.Errorf("%w: fixed amount must be positive, got %s", ErrInvalidCouponValue, value)
		}
	default:
		return apperr.Validationf("unknown coupon type %q", t)
	}
	return nil
}

func (e *engine) DeactivateCoupon(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if err := e.repo.SetStatus(ctx, code, StatusInactive); err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return fmt.Errorf("coupon: failed to deactivate %s: %w", code, err)
	}
	log.Info().Ctx(ctx).Str("coupon_code", code).Msg("coupon: deactivated")
	return nil
}

func (e *engine) GetCoupon(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.Validationf("coupon code is required")
	}
	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return nil, fmt.Errorf("coupon: failed to load %s: %w", code, err)
	}
	return c, nil
}

func (e *engine) ListCoupons(ctx context.Context) ([]Coupon, error) {
	coupons, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("coupon: failed to list coupons: %w", err)
	}
	return coupons, nil
}

// NormalizeCode is the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
