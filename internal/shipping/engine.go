package shipping

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
)

var (
	ErrRateNotFound      = apperr.New(apperr.ErrNotFound, "shipping rate not found")
	ErrShipmentNotFound  = apperr.New(apperr.ErrNotFound, "shipment not found")
	ErrShipmentExists    = apperr.New(apperr.ErrConflict, "order already has a shipment")
	ErrShipmentChanged   = apperr.New(apperr.ErrConflict, "shipment was modified concurrently")
	ErrInvalidTransition = apperr.New(apperr.ErrConflict, "invalid shipment status transition")
	ErrNegativeAmount    = apperr.New(apperr.ErrValidation, "order amount cannot be negative")
	ErrInvalidRate       = apperr.New(apperr.ErrValidation, "invalid shipping rate")
)

var shipmentTransitions = map[Status][]Status{
	StatusPending: {StatusShipped, StatusCancelled},
	StatusShipped: {StatusShipped, StatusDelivered, StatusCancelled},
}

type Engine interface {
	CalculateShipping(ctx context.Context, orderAmount int64, country string, method Method) (Quote, error)
	GetAvailableMethods(ctx context.Context, country string, orderAmount int64) ([]Quote, error)

	CreateShipment(ctx context.Context, input CreateShipmentInput) (*Shipment, error)
	UpdateTrackingInfo(ctx context.Context, orderID uuid.UUID, input TrackingInput) (*Shipment, error)
	MarkShipped(ctx context.Context, orderID uuid.UUID) (*Shipment, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID) (*Shipment, error)
	CancelShipment(ctx context.Context, orderID uuid.UUID) (*Shipment, error)
	GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*Shipment, error)

	CreateRate(ctx context.Context, input CreateRateInput) (*Rate, error)
	ListRates(ctx context.Context, country string) ([]Rate, error)
}

type engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine builds the shipping engine. A nil clock means time.Now.
func NewEngine(repo Repository, clock func() time.Time) Engine {
	if clock == nil {
		clock = time.Now
	}
	return &engine{repo: repo, now: clock}
}

func (e *engine) CalculateShipping(ctx context.Context, orderAmount int64, country string, method Method) (Quote, error) {
	if orderAmount < 0 {
		return Quote{}, fmt.Errorf("%w: %d", ErrNegativeAmount, orderAmount)
	}
	country, method = normalizeCountry(country), normalizeMethod(method)

	rate, err := e.repo.FindRate(ctx, country, method)
	if err != nil {
		if errors.Is(err, ErrRateNotFound) {
			return Quote{}, fmt.Errorf("%w: no active %s rate for %s", ErrRateNotFound, method, country)
		}
		log.Error().Ctx(ctx).Err(err).Str("country", country).Str("method", string(method)).Msg("shipping: failed to load rate")
		return Quote{}, fmt.Errorf("shipping: failed to resolve rate: %w", err)
	}
	return e.quote(rate, orderAmount), nil
}

func (e *engine) GetAvailableMethods(ctx context.Context, country string, orderAmount int64) ([]Quote, error) {
	if orderAmount < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeAmount, orderAmount)
	}
	country = normalizeCountry(country)
	if country == "" {
		return nil, apperr.Validationf("country is required")
	}

	rates, err := e.repo.ListRates(ctx, country)
	if err != nil {
		return nil, fmt.Errorf("shipping: failed to list rates for %s: %w", country, err)
	}

	quotes := make([]Quote, 0, len(rates))
	for i := range rates {
		if !rates[i].IsActive {
			continue
		}
		quotes = append(quotes, e.quote(&rates[i], orderAmount))
	}
	return quotes, nil
}

func (e *engine) quote(rate *Rate, orderAmount int64) Quote {
	cost := rate.Cost(orderAmount)
	return Quote{
		RateID:            rate.ID,
		Method:            rate.Method,
		Name:              rate.Name,
		Cost:              cost,
		IsFree:            cost == 0,
		EstimatedDays:     rate.EstimatedDays,
		EstimatedDelivery: e.now().UTC().AddDate(0, 0, rate.EstimatedDays),
	}
}

func (e *engine) CreateShipment(ctx context.Context, input CreateShipmentInput) (*Shipment, error) {
	rate, err := e.repo.FindRateByID(ctx, input.RateID)
	if err != nil {
		if errors.Is(err, ErrRateNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRateNotFound, input.RateID)
		}
		return nil, fmt.Errorf("shipping: failed to load rate %s: %w", input.RateID, err)
	}

	now := e.now().UTC()
	eta := now.AddDate(0, 0, rate.EstimatedDays)
	s := &Shipment{
		OrderID:           input.OrderID,
		RateID:            rate.ID,
		Status:            StatusPending,
		Address:           input.Address,
		EstimatedDelivery: &eta,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.repo.CreateShipment(ctx, s); err != nil {
		if errors.Is(err, ErrShipmentExists) {
			return nil, fmt.Errorf("%w: order %s", ErrShipmentExists, input.OrderID)
		}
		log.Error().Ctx(ctx).Err(err).Stringer("order_id", input.OrderID).Msg("shipping: failed to create shipment")
		return nil, fmt.Errorf("shipping: failed to create shipment: %w", err)
	}

	log.Info().Ctx(ctx).Stringer("order_id", input.OrderID).Stringer("shipment_id", s.ID).Msg("shipping: shipment created")
	return s, nil
}

func (e *engine) UpdateTrackingInfo(ctx context.Context, orderID uuid.UUID, input TrackingInput) (*Shipment, error) {
	number := strings.TrimSpace(input.TrackingNumber)
	if number == "" {
		return nil, apperr.Validationf("tracking number is required")
	}

	return e.transition(ctx, orderID, StatusShipped, func(s *Shipment, now time.Time) {
		s.TrackingNumber = &number
		if input.TrackingURL != nil {
			s.TrackingURL = input.TrackingURL
		}
		if input.Carrier != nil {
			s.Carrier = input.Carrier
		}
		if s.ShippedAt == nil {
			s.ShippedAt = &now
		}
	})
}

// MarkShipped hands a pending shipment to the carrier without tracking
// details. A shipment already shipped keeps its original ShippedAt.
func (e *engine) MarkShipped(ctx context.Context, orderID uuid.UUID) (*Shipment, error) {
	return e.transition(ctx, orderID, StatusShipped, func(s *Shipment, now time.Time) {
		if s.ShippedAt == nil {
			s.ShippedAt = &now
		}
	})
}

func (e *engine) MarkDelivered(ctx context.Context, orderID uuid.UUID) (*Shipment, error) {
	return e.transition(ctx, orderID, StatusDelivered, func(s *Shipment, now time.Time) {
		s.DeliveredAt = &now
	})
}

func (e *engine) CancelShipment(ctx context.Context, orderID uuid.UUID) (*Shipment, error) {
	return e.transition(ctx, orderID, StatusCancelled, func(*Shipment, time.Time) {})
}

func (e *engine) transition(ctx context.Context, orderID uuid.UUID, to Status, apply func(s *Shipment, now time.Time)) (*Shipment, error) {
	s, err := e.GetShipmentByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := s.Status
	if !slices.Contains(shipmentTransitions[from], to) {
		log.Warn().Ctx(ctx).Stringer("order_id", orderID).Str("from", string(from)).Str("to", string(to)).Msg("shipping: invalid status transition")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, from, to)
	}

	now := e.now().UTC()
	apply(s, now)
	s.Status = to
	s.UpdatedAt = now

	if err := e.repo.UpdateShipment(ctx, s, from); err != nil {
		if errors.Is(err, ErrShipmentChanged) {
			return nil, err
		}
		return nil, fmt.Errorf("shipping: failed to update shipment for order %s: %w", orderID, err)
	}

	log.Info().Ctx(ctx).Stringer("order_id", orderID).Str("from", string(from)).Str("to", string(to)).Msg("shipping: shipment status updated")
	return s, nil
}

func (e *engine) GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*Shipment, error) {
	s, err := e.repo.FindShipmentByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrShipmentNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrShipmentNotFound, orderID)
		}
		return nil, fmt.Errorf("shipping: failed to load shipment for order %s: %w", orderID, err)
	}
	return s, nil
}

func (e *engine) CreateRate(ctx context.Context, input CreateRateInput) (*Rate, error) {
	if input.Price < 0 || input.EstimatedDays < 0 {
		return nil, fmt.Errorf("%w: price and estimated days must not be negative", ErrInvalidRate)
	}
	if input.FreeThreshold != nil && *input.FreeThreshold < 0 {
		return nil, fmt.Errorf("%w: free threshold must not be negative", ErrInvalidRate)
	}
	if len(input.Countries) == 0 {
		return nil, fmt.Errorf("%w: at least one country is required", ErrInvalidRate)
	}

	countries := make([]string, 0, len(input.Countries))
	for _, c := range input.Countries {
		c = normalizeCountry(c)
		if len(c) != 2 {
			return nil, fmt.Errorf("%w: country %q must be an ISO 3166-1 alpha-2 code", ErrInvalidRate, c)
		}
		if !slices.Contains(countries, c) {
			countries = append(countries, c)
		}
	}

	rate := &Rate{
		Name:          strings.TrimSpace(input.Name),
		Method:        normalizeMethod(input.Method),
		Price:         input.Price,
		FreeThreshold: input.FreeThreshold,
		EstimatedDays: input.EstimatedDays,
		Countries:     countries,
		IsActive:      true,
	}
	if err := e.repo.CreateRate(ctx, rate); err != nil {
		log.Error().Ctx(ctx).Err(err).Str("method", string(rate.Method)).Msg("shipping: failed to create rate")
		return nil, fmt.Errorf("shipping: failed to create rate: %w", err)
	}

	log.Info().Ctx(ctx).Stringer("rate_id", rate.ID).Str("method", string(rate.Method)).Strs("countries", countries).Msg("shipping: rate created")
	return rate, nil
}

func (e *engine) ListRates(ctx context.Context, country string) ([]Rate, error) {
	rates, err := e.repo.ListRates(ctx, normalizeCountry(country))
	if err != nil {
		return nil, fmt.Errorf("shipping: failed to list rates: %w", err)
	}
	return rates, nil
}

func normalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

func normalizeMethod(method Method) Method {
	m := Method(strings.ToUpper(strings.TrimSpace(string(method))))
	if m == "" {
		return DefaultMethod
	}
	return m
}
