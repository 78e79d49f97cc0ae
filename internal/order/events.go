package order

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
)

// Event is a domain event published after the transaction that produced it
// has committed.
type Event interface {
	EventName() string
	AggregateID() uuid.UUID
}

type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type EventItem struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type OrderCreated struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	CustomerID  uuid.UUID   `json:"customer_id"`
	TotalAmount int64       `json:"total_amount"`
	Items       []EventItem `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (e OrderCreated) EventName() string      { return EventOrderCreated }
func (e OrderCreated) AggregateID() uuid.UUID { return e.OrderID }

type OrderStatusChanged struct {
	OrderID    uuid.UUID `json:"order_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	ChangedAt  time.Time `json:"changed_at"`
}

func (e OrderStatusChanged) EventName() string      { return EventOrderStatusChanged }
func (e OrderStatusChanged) AggregateID() uuid.UUID { return e.OrderID }

// OrderCancelled carries RefundAmount when the order had been paid, which
// tells the payment subsystem a refund is due.
type OrderCancelled struct {
	OrderID      uuid.UUID `json:"order_id"`
	CancelReason string    `json:"cancel_reason"`
	RefundAmount *int64    `json:"refund_amount,omitempty"`
	CancelledAt  time.Time `json:"cancelled_at"`
}

func (e OrderCancelled) EventName() string      { return EventOrderCancelled }
func (e OrderCancelled) AggregateID() uuid.UUID { return e.OrderID }
