package shipping

import (
	"time"

	"github.com/gofrs/uuid"
)

type Method string

const (
	MethodStandard  Method = "STANDARD"
	MethodExpress   Method = "EXPRESS"
	MethodOvernight Method = "OVERNIGHT"
)

// DefaultMethod is used when an order does not ask for a specific method.
const DefaultMethod = MethodStandard

type Rate struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Method        Method    `json:"method"`
	Price         int64     `json:"price"`
	FreeThreshold *int64    `json:"free_threshold,omitempty"`
	EstimatedDays int       `json:"estimated_days"`
	Countries     []string  `json:"countries"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Cost is what the rate charges for an order of orderAmount.
func (r *Rate) Cost(orderAmount int64) int64 {
	if r.FreeThreshold != nil && orderAmount >= *r.FreeThreshold {
		return 0
	}
	return r.Price
}

// Quote is a priced shipping option for one order amount and destination.
type Quote struct {
	RateID            uuid.UUID `json:"rate_id"`
	Method            Method    `json:"method"`
	Name              string    `json:"name"`
	Cost              int64     `json:"cost"`
	IsFree            bool      `json:"is_free"`
	EstimatedDays     int       `json:"estimated_days"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Shipment tracks the physical delivery of one order. Address is the
// destination serialized by the caller.
type Shipment struct {
	ID                uuid.UUID  `json:"id"`
	OrderID           uuid.UUID  `json:"order_id"`
	RateID            uuid.UUID  `json:"rate_id"`
	TrackingNumber    *string    `json:"tracking_number,omitempty"`
	TrackingURL       *string    `json:"tracking_url,omitempty"`
	Carrier           *string    `json:"carrier,omitempty"`
	Status            Status     `json:"status"`
	Address           string     `json:"address"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type CreateShipmentInput struct {
	OrderID uuid.UUID
	RateID  uuid.UUID
	Address string
}

type TrackingInput struct {
	TrackingNumber string  `json:"tracking_number" validate:"required,max=64"`
	TrackingURL    *string `json:"tracking_url,omitempty" validate:"omitempty,url"`
	Carrier        *string `json:"carrier,omitempty" validate:"omitempty,max=64"`
}

type CreateRateInput struct {
	Name          string   `json:"name" yaml:"name"`
	Method        Method   `json:"method" yaml:"method" validate:"required,oneof=STANDARD EXPRESS OVERNIGHT"`
	Price         int64    `json:"price" yaml:"price" validate:"gte=0"`
	FreeThreshold *int64   `json:"free_threshold,omitempty" yaml:"free_threshold" validate:"omitempty,gte=0"`
	EstimatedDays int      `json:"estimated_days" yaml:"estimated_days" validate:"gte=0"`
	Countries     []string `json:"countries" yaml:"countries" validate:"required,min=1,dive,len=2"`
}
