package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type CreateOrderDTO struct {
	CustomerID      uuid.UUID       `json:"customer_id" validate:"required"`
	Items           []CreateItemDTO `json:"items" validate:"required,min=1,dive"`
	ShippingAddress Address         `json:"shipping_address" validate:"required"`
	BillingAddress  Address         `json:"billing_address" validate:"required"`
	CouponCode      *string         `json:"coupon_code,omitempty" validate:"omitempty,max=32"`
	ShippingMethod  *string         `json:"shipping_method,omitempty" validate:"omitempty,oneof=STANDARD EXPRESS OVERNIGHT"`
	Notes           *string         `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type CreateItemDTO struct {
	ProductID   string  `json:"product_id" validate:"required"`
	ProductName string  `json:"product_name" validate:"required,max=200"`
	SKU         string  `json:"sku" validate:"required,max=64"`
	VariantID   *string `json:"variant_id,omitempty"`
	VariantName *string `json:"variant_name,omitempty"`
	TaxCategory string  `json:"tax_category,omitempty" validate:"omitempty,max=50"`
	Quantity    int     `json:"quantity" validate:"required,min=1,max=999"`
	UnitPrice   int64   `json:"unit_price" validate:"gte=0"`
}

type UpdateOrderStatusDTO struct {
	Status Status  `json:"status" validate:"required,oneof=PENDING CONFIRMED PROCESSING SHIPPED DELIVERED CANCELLED"`
	Notes  *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type CancelOrderDTO struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type AddTrackingInfoDTO struct {
	TrackingNumber string  `json:"tracking_number" validate:"required,max=64"`
	TrackingURL    *string `json:"tracking_url,omitempty" validate:"omitempty,url"`
	Carrier        *string `json:"carrier,omitempty" validate:"omitempty,max=64"`
}

type BulkUpdateStatusDTO struct {
	OrderIDs []uuid.UUID `json:"order_ids" validate:"required,min=1,max=100"`
	Status   Status      `json:"status" validate:"required,oneof=PENDING CONFIRMED PROCESSING SHIPPED DELIVERED CANCELLED"`
	Notes    *string     `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type UpdateNotesDTO struct {
	Notes         *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	InternalNotes *string `json:"internal_notes,omitempty" validate:"omitempty,max=1000"`
}

// Money carries an amount both in minor units and rendered in major units.
type Money struct {
	Minor int64           `json:"minor"`
	Major decimal.Decimal `json:"major"`
}

type OrderResponse struct {
	ID                    uuid.UUID      `json:"id"`
	OrderNumber           string         `json:"order_number"`
	CustomerID            uuid.UUID      `json:"customer_id"`
	Status                Status         `json:"status"`
	PaymentStatus         PaymentStatus  `json:"payment_status"`
	Subtotal              Money          `json:"subtotal"`
	DiscountAmount        Money          `json:"discount_amount"`
	TaxAmount             Money          `json:"tax_amount"`
	ShippingCost          Money          `json:"shipping_cost"`
	TotalAmount           Money          `json:"total_amount"`
	ShippingAddress       Address        `json:"shipping_address"`
	BillingAddress        Address        `json:"billing_address"`
	CouponCode            *string        `json:"coupon_code,omitempty"`
	ShippingMethod        string         `json:"shipping_method"`
	TrackingNumber        *string        `json:"tracking_number,omitempty"`
	TrackingURL           *string        `json:"tracking_url,omitempty"`
	Carrier               *string        `json:"carrier,omitempty"`
	EstimatedDeliveryDate *time.Time     `json:"estimated_delivery_date,omitempty"`
	Notes                 *string        `json:"notes,omitempty"`
	CancelledAt           *time.Time     `json:"cancelled_at,omitempty"`
	CancellationReason    *string        `json:"cancellation_reason,omitempty"`
	IsEditable            bool           `json:"is_editable"`
	IsCancellable         bool           `json:"is_cancellable"`
	CanRefund             bool           `json:"can_refund"`
	Items                 []ItemResponse `json:"items"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

type ItemResponse struct {
	ID          uuid.UUID `json:"id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	SKU         string    `json:"sku"`
	VariantID   *string   `json:"variant_id,omitempty"`
	VariantName *string   `json:"variant_name,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   Money     `json:"unit_price"`
	Discount    Money     `json:"discount"`
	TaxAmount   Money     `json:"tax_amount"`
	Subtotal    Money     `json:"subtotal"`
	Total       Money     `json:"total"`
}

type OrderListResponse struct {
	Orders     []OrderResponse `json:"orders"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"total_pages"`
}

// PreviewResponse is the priced breakdown returned without persisting anything.
type PreviewResponse struct {
	Subtotal          Money          `json:"subtotal"`
	DiscountAmount    Money          `json:"discount_amount"`
	TaxAmount         Money          `json:"tax_amount"`
	ShippingCost      Money          `json:"shipping_cost"`
	TotalAmount       Money          `json:"total_amount"`
	CouponCode        *string        `json:"coupon_code,omitempty"`
	ShippingMethod    string         `json:"shipping_method"`
	EstimatedDelivery time.Time      `json:"estimated_delivery"`
	Items             []ItemResponse `json:"items"`
}
