package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/money"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/tax"
)

func MarshalAddress(a Address) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("mapper: failed to marshal address: %w", err)
	}
	return string(raw), nil
}

func UnmarshalAddress(raw string) (Address, error) {
	var a Address
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return Address{}, fmt.Errorf("mapper: failed to unmarshal address: %w", err)
	}
	return a, nil
}

func toMoney(minor int64) Money {
	return Money{Minor: minor, Major: money.ToMajor(minor)}
}

func ToResponse(o *Order) OrderResponse {
	items := make([]ItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			SKU:         it.SKU,
			VariantID:   it.VariantID,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   toMoney(it.UnitPrice),
			Discount:    toMoney(it.Discount),
			TaxAmount:   toMoney(it.TaxAmount),
			Subtotal:    toMoney(it.Subtotal),
			Total:       toMoney(it.Total),
		})
	}

	return OrderResponse{
		ID:                    o.ID,
		OrderNumber:           o.OrderNumber,
		CustomerID:            o.CustomerID,
		Status:                o.Status,
		PaymentStatus:         o.PaymentStatus,
		Subtotal:              toMoney(o.Subtotal),
		DiscountAmount:        toMoney(o.DiscountAmount),
		TaxAmount:             toMoney(o.TaxAmount),
		ShippingCost:          toMoney(o.ShippingAmount),
		TotalAmount:           toMoney(o.TotalAmount),
		ShippingAddress:       o.ShippingAddress,
		BillingAddress:        o.BillingAddress,
		CouponCode:            o.CouponCode,
		ShippingMethod:        o.ShippingMethod,
		TrackingNumber:        o.TrackingNumber,
		TrackingURL:           o.TrackingURL,
		Carrier:               o.Carrier,
		EstimatedDeliveryDate: o.EstimatedDeliveryDate,
		Notes:                 o.Notes,
		CancelledAt:           o.CancelledAt,
		CancellationReason:    o.CancellationReason,
		IsEditable:            IsOrderEditable(o.Status),
		IsCancellable:         IsOrderCancellable(o.Status),
		CanRefund:             CanRefund(o.Status, o.PaymentStatus),
		Items:                 items,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

func ToListResponse(orders []Order, total int64, page, limit int) OrderListResponse {
	resp := OrderListResponse{
		Orders: make([]OrderResponse, 0, len(orders)),
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
	for i := range orders {
		resp.Orders = append(resp.Orders, ToResponse(&orders[i]))
	}
	if limit > 0 {
		resp.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return resp
}

func ToPreviewResponse(dto CreateOrderDTO, calc Calculation) PreviewResponse {
	items := make([]ItemResponse, 0, len(dto.Items))
	for i, it := range dto.Items {
		items = append(items, ItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			SKU:         it.SKU,
			VariantID:   it.VariantID,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   toMoney(it.UnitPrice),
			Discount:    toMoney(calc.Items[i].Discount),
			TaxAmount:   toMoney(calc.Items[i].TaxAmount),
			Subtotal:    toMoney(calc.Items[i].Subtotal),
			Total:       toMoney(calc.Items[i].Total),
		})
	}
	return PreviewResponse{
		Subtotal:          toMoney(calc.Subtotal),
		DiscountAmount:    toMoney(calc.DiscountAmount),
		TaxAmount:         toMoney(calc.TaxAmount),
		ShippingCost:      toMoney(calc.ShippingAmount),
		TotalAmount:       toMoney(calc.TotalAmount),
		CouponCode:        calc.CouponCode,
		ShippingMethod:    calc.ShippingMethod,
		EstimatedDelivery: calc.EstimatedDelivery,
		Items:             items,
	}
}

// ToCreateRecord assembles the order to persist from the request and its
// calculation. IDs are assigned by the repository.
func ToCreateRecord(dto CreateOrderDTO, calc Calculation, orderNumber string, now time.Time) *Order {
	items := make([]OrderItem, 0, len(dto.Items))
	for i, it := range dto.Items {
		category := strings.ToLower(strings.TrimSpace(it.TaxCategory))
		if category == "" {
			category = tax.DefaultCategory
		}
		items = append(items, OrderItem{
			ProductID:   it.ProductID,
			ProductName: strings.TrimSpace(it.ProductName),
			SKU:         strings.TrimSpace(it.SKU),
			VariantID:   it.VariantID,
			VariantName: it.VariantName,
			TaxCategory: category,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Discount:    calc.Items[i].Discount,
			TaxAmount:   calc.Items[i].TaxAmount,
			Subtotal:    calc.Items[i].Subtotal,
			Total:       calc.Items[i].Total,
			CreatedAt:   now,
		})
	}

	rateID := calc.ShippingRateID
	eta := calc.EstimatedDelivery
	o := &Order{
		OrderNumber:     orderNumber,
		CustomerID:      dto.CustomerID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		Subtotal:        calc.Subtotal,
		DiscountAmount:  calc.DiscountAmount,
		TaxAmount:       calc.TaxAmount,
		ShippingAmount:  calc.ShippingAmount,
		TotalAmount:     calc.TotalAmount,
		ShippingAddress: dto.ShippingAddress,
		BillingAddress:  dto.BillingAddress,
		CouponID:        calc.CouponID,
		CouponCode:      calc.CouponCode,
		ShippingMethod:  calc.ShippingMethod,
		Notes:           dto.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           items,
	}
	if rateID != uuid.Nil {
		o.ShippingRateID = &rateID
	}
	if !eta.IsZero() {
		o.EstimatedDeliveryDate = &eta
	}
	return o
}

func ToCreatedEvent(o *Order) OrderCreated {
	items := make([]EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, EventItem{
			ProductID: it.ProductID,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Total:     it.Total,
		})
	}
	return OrderCreated{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		TotalAmount: o.TotalAmount,
		Items:       items,
		CreatedAt:   o.CreatedAt,
	}
}

func ToStatusChangedEvent(orderID uuid.UUID, from, to Status, changedBy string, at time.Time) OrderStatusChanged {
	return OrderStatusChanged{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  changedBy,
		ChangedAt:  at,
	}
}

func ToCancelledEvent(o *Order) OrderCancelled {
	ev := OrderCancelled{OrderID: o.ID}
	if o.CancellationReason != nil {
		ev.CancelReason = *o.CancellationReason
	}
	if o.CancelledAt != nil {
		ev.CancelledAt = *o.CancelledAt
	}
	if o.PaymentStatus == PaymentPaid {
		refund := o.TotalAmount
		ev.RefundAmount = &refund
	}
	return ev
}

// IsOrderEditable reports whether notes and other details may still change.
func IsOrderEditable(s Status) bool {
	return s == StatusPending || s == StatusProcessing
}

func IsOrderCancellable(s Status) bool {
	switch s {
	case StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded, StatusReturned:
		return false
	}
	return CanTransition(s, StatusCancelled)
}

func CanRefund(s Status, payment PaymentStatus) bool {
	return (s == StatusCancelled || s == StatusReturned) && payment == PaymentPaid
}

// countsTowardsRevenue excludes orders whose money was never kept.
func countsTowardsRevenue(s Status) bool {
	return s != StatusCancelled && s != StatusRefunded
}

func CalculateTotalRevenue(orders []Order) int64 {
	var total int64
	for i := range orders {
		if orders[i].DeletedAt == nil && countsTowardsRevenue(orders[i].Status) {
			total += orders[i].TotalAmount
		}
	}
	return total
}

func AverageOrderValue(orders []Order) int64 {
	var count int64
	for i := range orders {
		if orders[i].DeletedAt == nil && countsTowardsRevenue(orders[i].Status) {
			count++
		}
	}
	return averageAmount(CalculateTotalRevenue(orders), count)
}

func averageAmount(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(count)).Round(0).IntPart()
}

func GroupByStatus(orders []Order) map[Status]int64 {
	groups := make(map[Status]int64)
	for i := range orders {
		if orders[i].DeletedAt == nil {
			groups[orders[i].Status]++
		}
	}
	return groups
}
