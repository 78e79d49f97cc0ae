package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/coupon"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/shipping"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/tax"
)

type MockCoupons struct {
	mock.Mock
}

func (m *MockCoupons) ApplyCoupon(ctx context.Context, code string, orderAmount int64) (coupon.Application, error) {
	args := m.Called(ctx, code, orderAmount)
	return args.Get(0).(coupon.Application), args.Error(1)
}

func (m *MockCoupons) CreateCoupon(ctx context.Context, input coupon.CreateInput) (*coupon.Coupon, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Coupon), args.Error(1)
}

func (m *MockCoupons) DeactivateCoupon(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

func (m *MockCoupons) GetCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Coupon), args.Error(1)
}

func (m *MockCoupons) ListCoupons(ctx context.Context) ([]coupon.Coupon, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]coupon.Coupon), args.Error(1)
}

type MockTaxes struct {
	mock.Mock
}

func (m *MockTaxes) CalculateTax(ctx context.Context, amount int64, country, region, category string) (tax.Result, error) {
	args := m.Called(ctx, amount, country, region, category)
	return args.Get(0).(tax.Result), args.Error(1)
}

func (m *MockTaxes) CreateTaxRule(ctx context.Context, input tax.CreateRuleInput) (*tax.Rule, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tax.Rule), args.Error(1)
}

func (m *MockTaxes) ListTaxRules(ctx context.Context, country string) ([]tax.Rule, error) {
	args := m.Called(ctx, country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tax.Rule), args.Error(1)
}

func (m *MockTaxes) DeactivateTaxRule(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockShipping struct {
	mock.Mock
}

func (m *MockShipping) GetAvailableMethods(ctx context.Context, country string, orderAmount int64) ([]shipping.Quote, error) {
	args := m.Called(ctx, country, orderAmount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]shipping.Quote), args.Error(1)
}

func (m *MockShipping) CalculateShipping(ctx context.Context, orderAmount int64, country string, method shipping.Method) (shipping.Quote, error) {
	args := m.Called(ctx, orderAmount, country, method)
	return args.Get(0).(shipping.Quote), args.Error(1)
}

func (m *MockShipping) CreateRate(ctx context.Context, input shipping.CreateRateInput) (*shipping.Rate, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Rate), args.Error(1)
}

func (m *MockShipping) ListRates(ctx context.Context, country string) ([]shipping.Rate, error) {
	args := m.Called(ctx, country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]shipping.Rate), args.Error(1)
}

func (m *MockShipping) GetShipmentByOrder(ctx context.Context, orderID uuid.UUID) (*shipping.Shipment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

type catalogMocks struct {
	coupons  *MockCoupons
	taxes    *MockTaxes
	shipping *MockShipping
	router   *chi.Mux
}

func newCatalogRouter() catalogMocks {
	m := catalogMocks{coupons: new(MockCoupons), taxes: new(MockTaxes), shipping: new(MockShipping)}
	m.router = chi.NewRouter()
	handler.NewCatalogHandler(m.coupons, m.taxes, m.shipping).RegisterRoutes(m.router)
	return m
}

func TestCatalogHandler_ValidateCoupon(t *testing.T) {
	t.Run("applies", func(t *testing.T) {
		m := newCatalogRouter()
		app := coupon.Application{CouponID: uuid.Must(uuid.NewV4()), Code: "LOMASH20", DiscountAmount: 2000, FinalAmount: 8000}
		m.coupons.On("ApplyCoupon", mock.Anything, "lomash20", int64(10000)).Return(app, nil).Once()

		rr := serve(t, m.router, http.MethodPost, "/coupons/validate", `{"code":"lomash20","order_amount":10000}`)

		require.Equal(t, http.StatusOK, rr.Code)
		var got coupon.Application
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, app, got)
	})

	t.Run("exhausted", func(t *testing.T) {
		m := newCatalogRouter()
		m.coupons.On("ApplyCoupon", mock.Anything, "USED", int64(100)).Return(coupon.Application{}, coupon.ErrCouponExhausted).Once()

		rr := serve(t, m.router, http.MethodPost, "/coupons/validate", `{"code":"USED","order_amount":100}`)

		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "INVALID_COUPON", decodeError(t, rr).Code)
	})

	t.Run("missing_code", func(t *testing.T) {
		m := newCatalogRouter()

		rr := serve(t, m.router, http.MethodPost, "/coupons/validate", `{"order_amount":100}`)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, map[string]string{"code": "failed on required"}, decodeError(t, rr).Details)
	})
}

func TestCatalogHandler_CreateCoupon(t *testing.T) {
	m := newCatalogRouter()
	m.coupons.On("CreateCoupon", mock.Anything, mock.MatchedBy(func(in coupon.CreateInput) bool {
		return in.Code == "SPRING10" && in.Type == coupon.TypePercentage && in.Value.Equal(decimal.NewFromInt(10))
	})).Return(nil, coupon.ErrCouponExists).Once()

	rr := serve(t, m.router, http.MethodPost, "/coupons", `{"code":"SPRING10","type":"PERCENTAGE","value":"10"}`)

	require.Equal(t, http.StatusConflict, rr.Code)
	m.coupons.AssertExpectations(t)
}

func TestCatalogHandler_DeactivateCoupon(t *testing.T) {
	m := newCatalogRouter()
	m.coupons.On("DeactivateCoupon", mock.Anything, "WELCOME5").Return(nil).Once()

	rr := serve(t, m.router, http.MethodPost, "/coupons/WELCOME5/deactivate", nil)

	require.Equal(t, http.StatusNoContent, rr.Code)
	m.coupons.AssertExpectations(t)
}

func TestCatalogHandler_CalculateTax(t *testing.T) {
	m := newCatalogRouter()
	m.taxes.On("CalculateTax", mock.Anything, int64(10000), "GB", "", "books").
		Return(tax.Result{TaxAmount: 0, TaxRate: decimal.Zero, TotalWithTax: 10000}, nil).Once()

	rr := serve(t, m.router, http.MethodPost, "/tax/calculate", `{"amount":10000,"country":"GB","category":"books"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var got tax.Result
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, int64(10000), got.TotalWithTax)
	m.taxes.AssertExpectations(t)
}

func TestCatalogHandler_TaxRules(t *testing.T) {
	m := newCatalogRouter()
	id := uuid.Must(uuid.NewV4())
	m.taxes.On("ListTaxRules", mock.Anything, "GB").Return([]tax.Rule{{ID: id, Country: "GB"}}, nil).Once()
	m.taxes.On("DeactivateTaxRule", mock.Anything, id).Return(tax.ErrRuleNotFound).Once()

	rr := serve(t, m.router, http.MethodGet, "/tax/rules?country=GB", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, m.router, http.MethodDelete, "/tax/rules/"+id.String(), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	m.taxes.AssertExpectations(t)
}

func TestCatalogHandler_ShippingMethods(t *testing.T) {
	t.Run("lists_quotes", func(t *testing.T) {
		m := newCatalogRouter()
		quotes := []shipping.Quote{{Method: shipping.MethodStandard, Cost: 0, IsFree: true}}
		m.shipping.On("GetAvailableMethods", mock.Anything, "GB", int64(60000)).Return(quotes, nil).Once()

		rr := serve(t, m.router, http.MethodGet, "/shipping/methods?country=GB&order_amount=60000", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		var got []shipping.Quote
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.True(t, got[0].IsFree)
	})

	t.Run("requires_country", func(t *testing.T) {
		m := newCatalogRouter()

		rr := serve(t, m.router, http.MethodGet, "/shipping/methods", nil)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		m.shipping.AssertNotCalled(t, "GetAvailableMethods", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCatalogHandler_CalculateShipping_DefaultMethod(t *testing.T) {
	m := newCatalogRouter()
	m.shipping.On("CalculateShipping", mock.Anything, int64(2000), "IE", shipping.DefaultMethod).
		Return(shipping.Quote{Method: shipping.DefaultMethod, Cost: 1295}, nil).Once()

	rr := serve(t, m.router, http.MethodPost, "/shipping/calculate", `{"order_amount":2000,"country":"IE"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	m.shipping.AssertExpectations(t)
}

func TestCatalogHandler_GetShipment(t *testing.T) {
	m := newCatalogRouter()
	orderID := uuid.Must(uuid.NewV4())
	m.shipping.On("GetShipmentByOrder", mock.Anything, orderID).Return(nil, shipping.ErrShipmentNotFound).Once()

	rr := serve(t, m.router, http.MethodGet, "/shipping/shipments/"+orderID.String(), nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
	m.shipping.AssertExpectations(t)
}
