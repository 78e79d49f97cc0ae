package coupon

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePercentage Type = "PERCENTAGE"
	TypeFixed      Type = "FIXED"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Coupon is a redeemable discount code. Value is a percentage for PERCENTAGE
// coupons and minor units for FIXED coupons. UsageCount is only ever changed
// by Repository.IncrementUsage.
type Coupon struct {
	ID                uuid.UUID       `json:"id"`
	Code              string          `json:"code"`
	Description       string          `json:"description,omitempty"`
	Type              Type            `json:"type"`
	Value             decimal.Decimal `json:"value"`
	MinOrderAmount    *int64          `json:"min_order_amount,omitempty"`
	MaxDiscountAmount *int64          `json:"max_discount_amount,omitempty"`
	UsageLimit        *int64          `json:"usage_limit,omitempty"`
	UsageCount        int64           `json:"usage_count"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	Status            Status          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Application is the priced outcome of applying a coupon to an order amount.
type Application struct {
	CouponID       uuid.UUID `json:"coupon_id"`
	Code           string    `json:"code"`
	DiscountAmount int64     `json:"discount_amount"`
	FinalAmount    int64     `json:"final_amount"`
}

type CreateInput struct {
	Code              string          `json:"code" yaml:"code" validate:"required,min=3,max=32"`
	Description       string          `json:"description" yaml:"description"`
	Type              Type            `json:"type" yaml:"type" validate:"required,oneof=PERCENTAGE FIXED"`
	Value             decimal.Decimal `json:"value" yaml:"value"`
	MinOrderAmount    *int64          `json:"min_order_amount,omitempty" yaml:"min_order_amount" validate:"omitempty,gte=0"`
	MaxDiscountAmount *int64          `json:"max_discount_amount,omitempty" yaml:"max_discount_amount" validate:"omitempty,gt=0"`
	UsageLimit        *int64          `json:"usage_limit,omitempty" yaml:"usage_limit" validate:"omitempty,gt=0"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty" yaml:"expires_at"`
}
