package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/coupon"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/money"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/shipping"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/tax"
)

const (
	maxItemsPerOrder    = 100
	maxQuantityPerOrder = 999
	maxItemQuantity     = 999
	maxBulkOrders       = 100
	defaultPageLimit    = 20
	maxPageLimit        = 100
	numberAttempts      = 3
)

var (
	ErrInvalidStatusTransition = apperr.New(apperr.ErrOrderCancellation, "invalid order status transition")
	ErrOrderNotCancellable     = apperr.New(apperr.ErrOrderCancellation, "order cannot be cancelled in its current status")
	ErrOrderNotRefundable      = apperr.New(apperr.ErrOrderCancellation, "order is not eligible for refund")
	ErrOrderNotEditable        = apperr.New(apperr.ErrConflict, "order can no longer be edited")
	ErrOrderNotShippable       = apperr.New(apperr.ErrConflict, "order is not ready for shipping")
	ErrOrderNotDeletable       = apperr.New(apperr.ErrConflict, "only finished orders can be deleted")
	ErrInvalidOrder            = apperr.New(apperr.ErrValidation, "invalid order")
)

var tracer = otel.Tracer("github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/order")

// Coupons is the part of the coupon engine orders depend on.
type Coupons interface {
	ApplyCoupon(ctx context.Context, code string, orderAmount int64) (coupon.Application, error)
	RedeemCoupon(ctx context.Context, id uuid.UUID) error
}

type Taxes interface {
	CalculateTax(ctx context.Context, amount int64, country, region, category string) (tax.Result, error)
}

type Shipping interface {
	CalculateShipping(ctx context.Context, orderAmount int64, country string, method shipping.Method) (shipping.Quote, error)
	CreateShipment(ctx context.Context, input shipping.CreateShipmentInput) (*shipping.Shipment, error)
	GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error)
	UpdateTrackingInfo(ctx context.Context, orderID uuid.UUID, input shipping.TrackingInput) (*shipping.Shipment, error)
	MarkShipped(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error)
	CancelShipment(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error)
}

// UnitOfWork runs fn in one database transaction that every repository joins.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service interface {
	CreateOrder(ctx context.Context, dto CreateOrderDTO, requestedBy string) (*OrderResponse, error)
	PreviewOrder(ctx context.Context, dto CreateOrderDTO) (*PreviewResponse, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*OrderResponse, error)
	GetOrderByNumber(ctx context.Context, number string) (*OrderResponse, error)
	ListOrders(ctx context.Context, filter Filter, page PageRequest) (*OrderListResponse, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, dto UpdateOrderStatusDTO, changedBy string) (*OrderResponse, error)
	CancelOrder(ctx context.Context, id uuid.UUID, dto CancelOrderDTO, requestedBy string) (*OrderResponse, error)
	BulkUpdateStatus(ctx context.Context, dto BulkUpdateStatusDTO, changedBy string) (int, error)
	AddTrackingInfo(ctx context.Context, id uuid.UUID, dto AddTrackingInfoDTO, changedBy string) (*OrderResponse, error)
	UpdateOrderNotes(ctx context.Context, id uuid.UUID, dto UpdateNotesDTO) (*OrderResponse, error)
	MarkReturned(ctx context.Context, id uuid.UUID, notes *string, changedBy string) (*OrderResponse, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, notes *string, changedBy string) (*OrderResponse, error)
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	RestoreOrder(ctx context.Context, id uuid.UUID) (*OrderResponse, error)
	GetStatusHistory(ctx context.Context, id uuid.UUID) ([]StatusHistory, error)
	GetOrderStatistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error)
	GetRevenueByPeriod(ctx context.Context, start, end time.Time, groupBy GroupBy) ([]RevenuePoint, error)
	GetTopCustomers(ctx context.Context, limit int) ([]CustomerRevenue, error)
	GetStalePendingOrders(ctx context.Context, hours int) ([]OrderResponse, error)
	GetUnpaidOrders(ctx context.Context) ([]OrderResponse, error)
}

type Deps struct {
	Repo      Repository
	UoW       UnitOfWork
	Coupons   Coupons
	Taxes     Taxes
	Shipping  Shipping
	Publisher EventPublisher
	// NumberPrefix starts every order number; "ORD" when empty.
	NumberPrefix string
	Now          func() time.Time
}

type service struct {
	repo      Repository
	uow       UnitOfWork
	coupons   Coupons
	taxes     Taxes
	shipping  Shipping
	publisher EventPublisher
	prefix    string
	now       func() time.Time
}

func NewService(deps Deps) Service {
	s := &service{
		repo:      deps.Repo,
		uow:       deps.UoW,
		coupons:   deps.Coupons,
		taxes:     deps.Taxes,
		shipping:  deps.Shipping,
		publisher: deps.Publisher,
		prefix:    strings.ToUpper(strings.TrimSpace(deps.NumberPrefix)),
		now:       deps.Now,
	}
	if s.prefix == "" {
		s.prefix = "ORD"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *service) CreateOrder(ctx context.Context, dto CreateOrderDTO, requestedBy string) (_ *OrderResponse, err error) {
	ctx, span := tracer.Start(ctx, "order.CreateOrder", trace.WithAttributes(
		attribute.String("customer_id", dto.CustomerID.String()),
		attribute.Int("items", len(dto.Items)),
	))
	defer func() { endSpan(span, err) }()

	calc, err := s.calculate(ctx, dto)
	if err != nil {
		return nil, err
	}

	var created *Order
	for attempt := 1; attempt <= numberAttempts; attempt++ {
		now := s.now().UTC()
		o := ToCreateRecord(dto, calc, NewOrderNumber(s.prefix, now), now)

		err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
			if calc.CouponID != nil {
				if err := s.coupons.RedeemCoupon(ctx, *calc.CouponID); err != nil {
					return err
				}
			}
			return s.repo.Create(ctx, o, requestedBy)
		})
		if errors.Is(err, ErrDuplicateOrderNumber) {
			log.Warn().Ctx(ctx).Str("order_number", o.OrderNumber).Int("attempt", attempt).Msg("service: order number collision, retrying")
			continue
		}
		if err != nil {
			log.Error().Ctx(ctx).Err(err).Stringer("customer_id", dto.CustomerID).Msg("service: failed to create order")
			if apperr.Kind(err) != nil {
				return nil, err
			}
			return nil, fmt.Errorf("service: failed to create order: %w", err)
		}
		created = o
		break
	}
	if created == nil {
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	span.SetAttributes(attribute.String("order_id", created.ID.String()))
	log.Info().Ctx(ctx).Stringer("order_id", created.ID).Str("order_number", created.OrderNumber).
		Int64("total_amount", created.TotalAmount).Msg("service: order created")

	s.publish(ctx, ToCreatedEvent(created))

	resp := ToResponse(created)
	return &resp, nil
}

func (s *service) PreviewOrder(ctx context.Context, dto CreateOrderDTO) (_ *PreviewResponse, err error) {
	ctx, span := tracer.Start(ctx, "order.PreviewOrder")
	defer func() { endSpan(span, err) }()

	calc, err := s.calculate(ctx, dto)
	if err != nil {
		return nil, err
	}
	resp := ToPreviewResponse(dto, calc)
	return &resp, nil
}

// calculate prices an order: subtotal, then the coupon discount, then tax on
// each discounted line, then shipping on the discounted subtotal.
func (s *service) calculate(ctx context.Context, dto CreateOrderDTO) (Calculation, error) {
	if err := validateCreate(dto); err != nil {
		log.Warn().Ctx(ctx).Err(err).Stringer("customer_id", dto.CustomerID).Msg("service: rejected order request")
		return Calculation{}, err
	}

	lines := make([]int64, len(dto.Items))
	var calc Calculation
	for i, it := range dto.Items {
		lines[i] = int64(it.Quantity) * it.UnitPrice
		calc.Subtotal += lines[i]
	}

	if dto.CouponCode != nil && strings.TrimSpace(*dto.CouponCode) != "" {
		app, err := s.coupons.ApplyCoupon(ctx, *dto.CouponCode, calc.Subtotal)
		if err != nil {
			return Calculation{}, err
		}
		couponID, code := app.CouponID, app.Code
		calc.DiscountAmount = app.DiscountAmount
		calc.CouponID = &couponID
		calc.CouponCode = &code
	}

	country := strings.ToUpper(strings.TrimSpace(dto.ShippingAddress.Country))
	region := ""
	if dto.ShippingAddress.State != nil {
		region = *dto.ShippingAddress.State
	}

	// A FIXED rule is a flat per-order charge: it lands on the first line it
	// matches and later lines under the same rule carry none of it.
	discounts := money.Allocate(calc.DiscountAmount, lines)
	calc.Items = make([]ItemCalculation, len(dto.Items))
	fixedCharged := make(map[uuid.UUID]bool)
	for i, it := range dto.Items {
		net := lines[i] - discounts[i]
		res, err := s.taxes.CalculateTax(ctx, net, country, region, it.TaxCategory)
		if err != nil {
			return Calculation{}, err
		}
		taxAmount := res.TaxAmount
		if res.TaxType == tax.TypeFixed && res.RuleID != nil {
			if fixedCharged[*res.RuleID] {
				taxAmount = 0
			}
			fixedCharged[*res.RuleID] = true
		}
		calc.Items[i] = ItemCalculation{
			Discount:  discounts[i],
			TaxAmount: taxAmount,
			Subtotal:  net,
			Total:     net + taxAmount,
		}
		calc.TaxAmount += taxAmount
	}

	method := shipping.DefaultMethod
	if dto.ShippingMethod != nil && strings.TrimSpace(*dto.ShippingMethod) != "" {
		method = shipping.Method(strings.ToUpper(strings.TrimSpace(*dto.ShippingMethod)))
	}
	quote, err := s.shipping.CalculateShipping(ctx, calc.Subtotal-calc.DiscountAmount, country, method)
	if err != nil {
		return Calculation{}, err
	}
	calc.ShippingAmount = quote.Cost
	calc.ShippingMethod = string(quote.Method)
	calc.ShippingRateID = quote.RateID
	calc.EstimatedDelivery = quote.EstimatedDelivery

	calc.TotalAmount = calc.Subtotal - calc.DiscountAmount + calc.TaxAmount + calc.ShippingAmount
	if calc.TotalAmount < 0 {
		return Calculation{}, fmt.Errorf("%w: computed total %d is negative", ErrInvalidOrder, calc.TotalAmount)
	}
	return calc, nil
}

func validateCreate(dto CreateOrderDTO) error {
	if dto.CustomerID == uuid.Nil {
		return fmt.Errorf("%w: customer id is required", ErrInvalidOrder)
	}
	if len(dto.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrInvalidOrder)
	}
	if len(dto.Items) > maxItemsPerOrder {
		return fmt.Errorf("%w: %d items exceeds the limit of %d", ErrInvalidOrder, len(dto.Items), maxItemsPerOrder)
	}

	total := 0
	for _, it := range dto.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: product id is required", ErrInvalidOrder)
		}
		if it.Quantity < 1 || it.Quantity > maxItemQuantity {
			return fmt.Errorf("%w: quantity for product %s must be between 1 and %d", ErrInvalidOrder, it.ProductID, maxItemQuantity)
		}
		if it.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price for product %s cannot be negative", ErrInvalidOrder, it.ProductID)
		}
		total += it.Quantity
	}
	if total > maxQuantityPerOrder {
		return fmt.Errorf("%w: total quantity %d exceeds the limit of %d", ErrInvalidOrder, total, maxQuantityPerOrder)
	}

	if err := validateAddress("shipping", dto.ShippingAddress); err != nil {
		return err
	}
	return validateAddress("billing", dto.BillingAddress)
}

func validateAddress(kind string, a Address) error {
	fields := []struct{ name, value string }{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"address_line1", a.AddressLine1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s address %s is required", ErrInvalidOrder, kind, f.name)
		}
	}
	return nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*OrderResponse, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToResponse(o)
	return &resp, nil
}

func (s *service) GetOrderByNumber(ctx context.Context, number string) (*OrderResponse, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	o, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Ctx(ctx).Str("order_number", number).Msg("service: order not found by number")
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, number)
		}
		log.Error().Ctx(ctx).Err(err).Str("order_number", number).Msg("service: failed to fetch order by number")
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	resp := ToResponse(o)
	return &resp, nil
}

func (s *service) ListOrders(ctx context.Context, filter Filter, page PageRequest) (*OrderListResponse, error) {
	if page.Page < 1 {
		page.Page = 1
	}
	if page.Limit < 1 {
		page.Limit = defaultPageLimit
	}
	page.Limit = min(page.Limit, maxPageLimit)
	if page.SortBy == "" {
		page.SortBy = "created_at"
	}
	if _, ok := sortColumns[page.SortBy]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSortField, page.SortBy)
	}

	orders, total, err := s.repo.FindPaginated(ctx, filter, page)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Msg("service: failed to list orders")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	resp := ToListResponse(orders, total, page.Page, page.Limit)
	return &resp, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, id uuid.UUID, dto UpdateOrderStatusDTO, changedBy string) (_ *OrderResponse, err error) {
	ctx, span := tracer.Start(ctx, "order.UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order_id", id.String()),
		attribute.String("to_status", dto.Status.String()),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	from, to := current.Status, dto.Status
	if !CanTransition(from, to) {
		log.Warn().Ctx(ctx).Stringer("order_id", id).Stringer("current_status", from).Stringer("new_status", to).
			Msg("service: invalid status transition")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, from, to)
	}

	now := s.now().UTC()
	patch := Patch{}
	if to == StatusCancelled {
		patch.CancelledAt = &now
		if dto.Notes != nil {
			patch.CancellationReason = dto.Notes
		}
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateWithHistory(ctx, id, patch, from, to, changedBy, dto.Notes); err != nil {
			return err
		}
		return s.applyShipmentEffects(ctx, current, to)
	})
	if err != nil {
		return nil, s.writeError(ctx, id, "update order status", err)
	}

	log.Info().Ctx(ctx).Stringer("order_id", id).Stringer("from", from).Stringer("to", to).Msg("service: order status updated")

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	events := []Event{ToStatusChangedEvent(id, from, to, changedBy, now)}
	if to == StatusCancelled {
		events = append(events, ToCancelledEvent(updated))
	}
	s.publish(ctx, events...)

	resp := ToResponse(updated)
	return &resp, nil
}

// applyShipmentEffects keeps the shipment in step with an order entering
// status to. It runs inside the status transaction.
func (s *service) applyShipmentEffects(ctx context.Context, o *Order, to Status) error {
	switch to {
	case StatusProcessing:
		_, err := s.ensureShipment(ctx, o)
		return err
	case StatusShipped:
		sh, err := s.ensureShipment(ctx, o)
		if err != nil {
			return err
		}
		if sh.Status == shipping.StatusPending {
			_, err = s.shipping.MarkShipped(ctx, o.ID)
		}
		return err
	case StatusDelivered:
		sh, err := s.shipping.GetShipmentByOrder(ctx, o.ID)
		if errors.Is(err, shipping.ErrShipmentNotFound) {
			return fmt.Errorf("%w: order %s has no shipment to deliver", shipping.ErrInvalidTransition, o.ID)
		}
		if err != nil {
			return err
		}
		if sh.Status != shipping.StatusDelivered {
			_, err = s.shipping.MarkDelivered(ctx, o.ID)
		}
		return err
	case StatusCancelled:
		sh, err := s.shipping.GetShipmentByOrder(ctx, o.ID)
		if errors.Is(err, shipping.ErrShipmentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if sh.Status == shipping.StatusPending || sh.Status == shipping.StatusShipped {
			_, err = s.shipping.CancelShipment(ctx, o.ID)
		}
		return err
	}
	return nil
}

// ensureShipment returns the order's shipment, creating it on first use.
func (s *service) ensureShipment(ctx context.Context, o *Order) (*shipping.Shipment, error) {
	sh, err := s.shipping.GetShipmentByOrder(ctx, o.ID)
	if err == nil {
		return sh, nil
	}
	if !errors.Is(err, shipping.ErrShipmentNotFound) {
		return nil, err
	}

	var rateID uuid.UUID
	if o.ShippingRateID != nil {
		rateID = *o.ShippingRateID
	} else {
		quote, err := s.shipping.CalculateShipping(ctx, o.Subtotal-o.DiscountAmount, o.ShippingAddress.Country, shipping.Method(o.ShippingMethod))
		if err != nil {
			return nil, err
		}
		rateID = quote.RateID
	}

	address, err := MarshalAddress(o.ShippingAddress)
	if err != nil {
		return nil, err
	}
	return s.shipping.CreateShipment(ctx, shipping.CreateShipmentInput{
		OrderID: o.ID,
		RateID:  rateID,
		Address: address,
	})
}

func (s *service) CancelOrder(ctx context.Context, id uuid.UUID, dto CancelOrderDTO, requestedBy string) (_ *OrderResponse, err error) {
	ctx, span := tracer.Start(ctx, "order.CancelOrder", trace.WithAttributes(attribute.String("order_id", id.String())))
	defer func() { endSpan(span, err) }()

	reason := strings.TrimSpace(dto.Reason)
	if reason == "" {
		return nil, apperr.Validationf("cancellation reason is required")
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !IsOrderCancellable(current.Status) {
		log.Warn().Ctx(ctx).Stringer("order_id", id).Stringer("status", current.Status).Msg("service: order not cancellable")
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotCancellable, current.Status)
	}

	now := s.now().UTC()
	from := current.Status
	patch := Patch{CancelledAt: &now, CancellationReason: &reason}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateWithHistory(ctx, id, patch, from, StatusCancelled, requestedBy, &reason); err != nil {
			return err
		}
		return s.applyShipmentEffects(ctx, current, StatusCancelled)
	})
	if err != nil {
		return nil, s.writeError(ctx, id, "cancel order", err)
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	cancelled := ToCancelledEvent(updated)
	if cancelled.RefundAmount != nil {
		log.Info().Ctx(ctx).Stringer("order_id", id).Int64("refund_amount", *cancelled.RefundAmount).
			Msg("service: cancelled paid order is eligible for refund")
	}
	log.Info().Ctx(ctx).Stringer("order_id", id).Str("reason", reason).Msg("service: order cancelled")
	s.publish(ctx, ToStatusChangedEvent(id, from, StatusCancelled, requestedBy, now), cancelled)

	resp := ToResponse(updated)
	return &resp, nil
}

func (s *service) BulkUpdateStatus(ctx context.Context, dto BulkUpdateStatusDTO, changedBy string) (_ int, err error) {
	ctx, span := tracer.Start(ctx, "order.BulkUpdateStatus", trace.WithAttributes(
		attribute.Int("orders", len(dto.OrderIDs)),
		attribute.String("to_status", dto.Status.String()),
	))
	defer func() { endSpan(span, err) }()

	ids := make([]uuid.UUID, 0, len(dto.OrderIDs))
	for _, id := range dto.OrderIDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, apperr.Validationf("at least one order id is required")
	}
	if len(ids) > maxBulkOrders {
		return 0, apperr.Validationf("bulk update is limited to %d orders", maxBulkOrders)
	}

	now := s.now().UTC()
	to := dto.Status
	var changes []StatusChange

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		changes = make([]StatusChange, 0, len(ids))
		orders := make([]*Order, 0, len(ids))
		for _, id := range ids {
			o, err := s.repo.FindByID(ctx, id)
			if err != nil {
				if errors.Is(err, ErrOrderNotFound) {
					return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
				}
				return err
			}
			if !CanTransition(o.Status, to) {
				return fmt.Errorf("%w: order %s from %s to %s", ErrInvalidStatusTransition, id, o.Status, to)
			}
			change := StatusChange{OrderID: id, From: o.Status, To: to}
			if to == StatusCancelled {
				change.Patch.CancelledAt = &now
			}
			changes = append(changes, change)
			orders = append(orders, o)
		}

		if err := s.repo.BulkUpdateStatus(ctx, changes, changedBy, dto.Notes); err != nil {
			return err
		}
		for _, o := range orders {
			if err := s.applyShipmentEffects(ctx, o, to); err != nil {
				return fmt.Errorf("order %s: %w", o.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Ctx(ctx).Err(err).Stringer("to_status", to).Msg("service: bulk status update aborted")
		if apperr.Kind(err) != nil {
			return 0, err
		}
		return 0, fmt.Errorf("service: failed to bulk update status: %w", err)
	}

	events := make([]Event, 0, len(changes))
	for _, c := range changes {
		events = append(events, ToStatusChangedEvent(c.OrderID, c.From, c.To, changedBy, now))
	}
	s.publish(ctx, events...)

	log.Info().Ctx(ctx).Int("orders", len(changes)).Stringer("to_status", to).Msg("service: bulk status update applied")
	return len(changes), nil
}

func (s *service) AddTrackingInfo(ctx context.Context, id uuid.UUID, dto AddTrackingInfoDTO, changedBy string) (_ *OrderResponse, err error) {
	ctx, span := tracer.Start(ctx, "order.AddTrackingInfo", trace.WithAttributes(attribute.String("order_id", id.String())))
	defer func() { endSpan(span, err) }()

	number := strings.TrimSpace(dto.TrackingNumber)
	if number == "" {
		return nil, apperr.Validationf("tracking number is required")
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusProcessing && current.Status != StatusShipped {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotShippable, current.Status)
	}

	now := s.now().UTC()
	from := current.Status
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.ensureShipment(ctx, current); err != nil {
			return err
		}
		sh, err := s.shipping.UpdateTrackingInfo(ctx, id, shipping.TrackingInput{
			TrackingNumber: number,
			TrackingURL:    dto.TrackingURL,
			Carrier:        dto.Carrier,
		})
		if err != nil {
			return err
		}

		patch := Patch{
			TrackingNumber:        &number,
			TrackingURL:           dto.TrackingURL,
			Carrier:               dto.Carrier,
			EstimatedDeliveryDate: sh.EstimatedDelivery,
		}
		if from == StatusShipped {
			return s.repo.Update(ctx, id, from, patch)
		}
		notes := "Tracking number added: " + number
		return s.repo.UpdateWithHistory(ctx, id, patch, from, StatusShipped, changedBy, &notes)
	})
	if err != nil {
		return nil, s.writeError(ctx, id, "add tracking info", err)
	}

	log.Info().Ctx(ctx).Stringer("order_id", id).Str("tracking_number", number).Msg("service: tracking info added")
	if from != StatusShipped {
		s.publish(ctx, ToStatusChangedEvent(id, from, StatusShipped, changedBy, now))
	}
	return s.GetOrder(ctx, id)
}

func (s *service) UpdateOrderNotes(ctx context.Context, id uuid.UUID, dto UpdateNotesDTO) (*OrderResponse, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !IsOrderEditable(current.Status) {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotEditable, current.Status)
	}

	if err := s.repo.Update(ctx, id, current.Status, Patch{Notes: dto.Notes, InternalNotes: dto.InternalNotes}); err != nil {
		return nil, s.writeError(ctx, id, "update order notes", err)
	}
	return s.GetOrder(ctx, id)
}

func (s *service) MarkReturned(ctx context.Context, id uuid.UUID, notes *string, changedBy string) (*OrderResponse, error) {
	return s.afterSalesTransition(ctx, id, StatusReturned, notes, changedBy, func(o *Order) error {
		if !canTransitionAfterSales(o.Status, StatusReturned) {
			return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, o.Status, StatusReturned)
		}
		return nil
	})
}

func (s *service) MarkRefunded(ctx context.Context, id uuid.UUID, notes *string, changedBy string) (*OrderResponse, error) {
	return s.afterSalesTransition(ctx, id, StatusRefunded, notes, changedBy, func(o *Order) error {
		if o.Status == StatusDelivered && o.PaymentStatus == PaymentPaid {
			return fmt.Errorf("%w: delivered order must be marked %s before refund", ErrOrderNotRefundable, StatusReturned)
		}
		if !CanRefund(o.Status, o.PaymentStatus) || !canTransitionAfterSales(o.Status, StatusRefunded) {
			return fmt.Errorf("%w: status %s, payment %s", ErrOrderNotRefundable, o.Status, o.PaymentStatus)
		}
		return nil
	})
}

func (s *service) afterSalesTransition(ctx context.Context, id uuid.UUID, to Status, notes *string, changedBy string, check func(o *Order) error) (_ *OrderResponse, err error) {
	ctx, span := tracer.Start(ctx, "order.AfterSales", trace.WithAttributes(
		attribute.String("order_id", id.String()),
		attribute.String("to_status", to.String()),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := check(current); err != nil {
		log.Warn().Ctx(ctx).Err(err).Stringer("order_id", id).Msg("service: after-sales transition rejected")
		return nil, err
	}

	from := current.Status
	if err := s.repo.UpdateWithHistory(ctx, id, Patch{}, from, to, changedBy, notes); err != nil {
		return nil, s.writeError(ctx, id, "record after-sales transition", err)
	}

	log.Info().Ctx(ctx).Stringer("order_id", id).Stringer("from", from).Stringer("to", to).Msg("service: after-sales transition recorded")
	s.publish(ctx, ToStatusChangedEvent(id, from, to, changedBy, s.now().UTC()))
	return s.GetOrder(ctx, id)
}

func (s *service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	switch current.Status {
	case StatusCancelled, StatusDelivered, StatusRefunded:
	default:
		return fmt.Errorf("%w: status %s", ErrOrderNotDeletable, current.Status)
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return s.writeError(ctx, id, "delete order", err)
	}
	log.Info().Ctx(ctx).Stringer("order_id", id).Msg("service: order soft deleted")
	return nil
}

func (s *service) RestoreOrder(ctx context.Context, id uuid.UUID) (*OrderResponse, error) {
	if err := s.repo.Restore(ctx, id); err != nil {
		return nil, s.writeError(ctx, id, "restore order", err)
	}
	log.Info().Ctx(ctx).Stringer("order_id", id).Msg("service: order restored")
	return s.GetOrder(ctx, id)
}

func (s *service) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]StatusHistory, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.repo.GetStatusHistory(ctx, id)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Stringer("order_id", id).Msg("service: failed to fetch status history")
		return nil, fmt.Errorf("service: failed to fetch status history: %w", err)
	}
	return history, nil
}

func (s *service) GetOrderStatistics(ctx context.Context, filter StatisticsFilter) (_ *Statistics, err error) {
	ctx, span := tracer.Start(ctx, "order.GetOrderStatistics")
	defer func() { endSpan(span, err) }()

	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, ErrInvalidStatisticsSpan
	}
	stats, err := s.repo.GetStatistics(ctx, filter)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Msg("service: failed to compute order statistics")
		return nil, fmt.Errorf("service: failed to compute order statistics: %w", err)
	}
	return stats, nil
}

func (s *service) GetRevenueByPeriod(ctx context.Context, start, end time.Time, groupBy GroupBy) ([]RevenuePoint, error) {
	switch groupBy {
	case GroupByDay, GroupByWeek, GroupByMonth:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRevenuePeriod, groupBy)
	}
	if !start.Before(end) {
		return nil, ErrInvalidStatisticsSpan
	}
	points, err := s.repo.GetRevenueByPeriod(ctx, start, end, groupBy)
	if err != nil {
		return nil, fmt.Errorf("service: failed to compute revenue: %w", err)
	}
	return points, nil
}

func (s *service) GetTopCustomers(ctx context.Context, limit int) ([]CustomerRevenue, error) {
	if limit < 1 {
		limit = 10
	}
	limit = min(limit, maxPageLimit)
	customers, err := s.repo.GetTopCustomersByRevenue(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch top customers: %w", err)
	}
	return customers, nil
}

func (s *service) GetStalePendingOrders(ctx context.Context, hours int) ([]OrderResponse, error) {
	if hours < 1 {
		return nil, apperr.Validationf("hours must be positive, got %d", hours)
	}
	orders, err := s.repo.GetPendingOrdersOlderThan(ctx, hours)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch stale pending orders: %w", err)
	}
	return toResponses(orders), nil
}

func (s *service) GetUnpaidOrders(ctx context.Context) ([]OrderResponse, error) {
	orders, err := s.repo.GetOrdersWithoutPayment(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch unpaid orders: %w", err)
	}
	return toResponses(orders), nil
}

func toResponses(orders []Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, ToResponse(&orders[i]))
	}
	return out
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Ctx(ctx).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		log.Error().Ctx(ctx).Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

// writeError keeps domain errors intact and wraps storage failures.
func (s *service) writeError(ctx context.Context, id uuid.UUID, action string, err error) error {
	if apperr.Kind(err) != nil {
		log.Warn().Ctx(ctx).Err(err).Stringer("order_id", id).Msgf("service: failed to %s", action)
		return err
	}
	log.Error().Ctx(ctx).Err(err).Stringer("order_id", id).Msgf("service: failed to %s", action)
	return fmt.Errorf("service: failed to %s: %w", action, err)
}

// publish sends events after commit. A failed publish is logged and never
// undoes the committed change.
func (s *service) publish(ctx context.Context, events ...Event) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		log.Error().Ctx(ctx).Err(err).Str("event", events[0].EventName()).Stringer("order_id", events[0].AggregateID()).
			Msg("service: failed to publish events")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
