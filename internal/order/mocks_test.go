package order_test

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/coupon"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/shipping"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/tax"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, o *order.Order, changedBy string) error {
	args := m.Called(ctx, o, changedBy)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) FindByNumber(ctx context.Context, number string) (*order.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) FindPaginated(ctx context.Context, filter order.Filter, page order.PageRequest) ([]order.Order, int64, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]order.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) Update(ctx context.Context, id uuid.UUID, expected order.Status, patch order.Patch) error {
	args := m.Called(ctx, id, expected, patch)
	return args.Error(0)
}

func (m *MockRepository) UpdateWithHistory(ctx context.Context, id uuid.UUID, patch order.Patch, from, to order.Status, changedBy string, notes *string) error {
	args := m.Called(ctx, id, patch, from, to, changedBy, notes)
	return args.Error(0)
}

func (m *MockRepository) BulkUpdateStatus(ctx context.Context, changes []order.StatusChange, changedBy string, notes *string) error {
	args := m.Called(ctx, changes, changedBy, notes)
	return args.Error(0)
}

func (m *MockRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) Restore(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]order.StatusHistory, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.StatusHistory), args.Error(1)
}

func (m *MockRepository) GetStatistics(ctx context.Context, filter order.StatisticsFilter) (*order.Statistics, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Statistics), args.Error(1)
}

func (m *MockRepository) GetRevenueByPeriod(ctx context.Context, start, end time.Time, groupBy order.GroupBy) ([]order.RevenuePoint, error) {
	args := m.Called(ctx, start, end, groupBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.RevenuePoint), args.Error(1)
}

func (m *MockRepository) GetTopCustomersByRevenue(ctx context.Context, limit int) ([]order.CustomerRevenue, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.CustomerRevenue), args.Error(1)
}

func (m *MockRepository) GetPendingOrdersOlderThan(ctx context.Context, hours int) ([]order.Order, error) {
	args := m.Called(ctx, hours)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockRepository) GetOrdersWithoutPayment(ctx context.Context) ([]order.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

type MockCoupons struct {
	mock.Mock
}

func (m *MockCoupons) ApplyCoupon(ctx context.Context, code string, orderAmount int64) (coupon.Application, error) {
	args := m.Called(ctx, code, orderAmount)
	return args.Get(0).(coupon.Application), args.Error(1)
}

func (m *MockCoupons) RedeemCoupon(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockTaxes struct {
	mock.Mock
}

func (m *MockTaxes) CalculateTax(ctx context.Context, amount int64, country, region, category string) (tax.Result, error) {
	args := m.Called(ctx, amount, country, region, category)
	return args.Get(0).(tax.Result), args.Error(1)
}

type MockShipping struct {
	mock.Mock
}

func (m *MockShipping) CalculateShipping(ctx context.Context, orderAmount int64, country string, method shipping.Method) (shipping.Quote, error) {
	args := m.Called(ctx, orderAmount, country, method)
	return args.Get(0).(shipping.Quote), args.Error(1)
}

func (m *MockShipping) CreateShipment(ctx context.Context, input shipping.CreateShipmentInput) (*shipping.Shipment, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipping) GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipping) UpdateTrackingInfo(ctx context.Context, orderID uuid.UUID, input shipping.TrackingInput) (*shipping.Shipment, error) {
	args := m.Called(ctx, orderID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipping) MarkShipped(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipping) MarkDelivered(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipping) CancelShipment(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, events ...order.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// inlineUoW runs the unit of work without a database; rollback is the
// caller's concern and is covered by the container tests.
type inlineUoW struct{}

func (inlineUoW) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
