package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusReturned   Status = "RETURNED"
	StatusRefunded   Status = "REFUNDED"
)

func (s Status) String() string {
	return string(s)
}

// PaymentStatus is owned by the payment subsystem and only read here.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

type Address struct {
	FirstName    string  `json:"first_name" validate:"required,max=100"`
	LastName     string  `json:"last_name" validate:"required,max=100"`
	Company      *string `json:"company,omitempty" validate:"omitempty,max=100"`
	AddressLine1 string  `json:"address_line1" validate:"required,max=200"`
	AddressLine2 *string `json:"address_line2,omitempty" validate:"omitempty,max=200"`
	City         string  `json:"city" validate:"required,max=100"`
	State        *string `json:"state,omitempty" validate:"omitempty,max=100"`
	PostalCode   string  `json:"postal_code" validate:"required,max=20"`
	Country      string  `json:"country" validate:"required,len=2"`
	Phone        *string `json:"phone,omitempty" validate:"omitempty,max=30"`
}

// Order amounts are minor units. TotalAmount always equals
// Subtotal - DiscountAmount + TaxAmount + ShippingAmount.
type Order struct {
	ID                    uuid.UUID     `json:"id"`
	OrderNumber           string        `json:"order_number"`
	CustomerID            uuid.UUID     `json:"customer_id"`
	Status                Status        `json:"status"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	Subtotal              int64         `json:"subtotal"`
	DiscountAmount        int64         `json:"discount_amount"`
	TaxAmount             int64         `json:"tax_amount"`
	ShippingAmount        int64         `json:"shipping_amount"`
	TotalAmount           int64         `json:"total_amount"`
	ShippingAddress       Address       `json:"shipping_address"`
	BillingAddress        Address       `json:"billing_address"`
	CouponID              *uuid.UUID    `json:"coupon_id,omitempty"`
	CouponCode            *string       `json:"coupon_code,omitempty"`
	ShippingMethod        string        `json:"shipping_method"`
	ShippingRateID        *uuid.UUID    `json:"shipping_rate_id,omitempty"`
	TrackingNumber        *string       `json:"tracking_number,omitempty"`
	TrackingURL           *string       `json:"tracking_url,omitempty"`
	Carrier               *string       `json:"carrier,omitempty"`
	EstimatedDeliveryDate *time.Time    `json:"estimated_delivery_date,omitempty"`
	Notes                 *string       `json:"notes,omitempty"`
	InternalNotes         *string       `json:"internal_notes,omitempty"`
	CancelledAt           *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason    *string       `json:"cancellation_reason,omitempty"`
	DeletedAt             *time.Time    `json:"deleted_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	Items                 []OrderItem   `json:"items"`
}

type OrderItem struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	SKU         string    `json:"sku"`
	VariantID   *string   `json:"variant_id,omitempty"`
	VariantName *string   `json:"variant_name,omitempty"`
	TaxCategory string    `json:"tax_category"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unit_price"`
	Discount    int64     `json:"discount"`
	TaxAmount   int64     `json:"tax_amount"`
	Subtotal    int64     `json:"subtotal"`
	Total       int64     `json:"total"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusHistory is one row of the append-only transition log. FromStatus is
// nil for the row written when the order is created.
type StatusHistory struct {
	ID         uuid.UUID `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	FromStatus *Status   `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	Notes      *string   `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Calculation is the priced breakdown of an order before it is persisted.
type Calculation struct {
	Subtotal          int64
	DiscountAmount    int64
	TaxAmount         int64
	ShippingAmount    int64
	TotalAmount       int64
	CouponID          *uuid.UUID
	CouponCode        *string
	ShippingMethod    string
	ShippingRateID    uuid.UUID
	EstimatedDelivery time.Time
	Items             []ItemCalculation
}

type ItemCalculation struct {
	Discount  int64
	TaxAmount int64
	Subtotal  int64
	Total     int64
}

// Patch lists the optional columns a status write may also set. Nil fields
// are left untouched.
type Patch struct {
	TrackingNumber        *string
	TrackingURL           *string
	Carrier               *string
	EstimatedDeliveryDate *time.Time
	Notes                 *string
	InternalNotes         *string
	CancelledAt           *time.Time
	CancellationReason    *string
}

// StatusChange is one guarded transition inside a bulk update.
type StatusChange struct {
	OrderID uuid.UUID
	From    Status
	To      Status
	Patch   Patch
}

type Filter struct {
	CustomerID    *uuid.UUID
	Status        *Status
	PaymentStatus *PaymentStatus
	From          *time.Time
	To            *time.Time
	Search        string
}

type PageRequest struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

type StatisticsFilter struct {
	CustomerID *uuid.UUID
	From       *time.Time
	To         *time.Time
}

type Statistics struct {
	TotalOrders       int64            `json:"total_orders"`
	CountByStatus     map[Status]int64 `json:"count_by_status"`
	TotalRevenue      int64            `json:"total_revenue"`
	AverageOrderValue int64            `json:"average_order_value"`
}

type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

type RevenuePoint struct {
	Period     time.Time `json:"period"`
	Revenue    int64     `json:"revenue"`
	OrderCount int64     `json:"order_count"`
}

type CustomerRevenue struct {
	CustomerID uuid.UUID `json:"customer_id"`
	OrderCount int64     `json:"order_count"`
	Revenue    int64     `json:"revenue"`
}
