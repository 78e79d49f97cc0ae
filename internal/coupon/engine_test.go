package coupon_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/coupon"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Coupon), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) SetStatus(ctx context.Context, code string, status coupon.Status) error {
	args := m.Called(ctx, code, status)
	return args.Error(0)
}

func (m *MockRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]coupon.Coupon), args.Error(1)
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func int64Ptr(v int64) *int64 { return &v }

func lomash20() *coupon.Coupon {
	return &coupon.Coupon{
		ID:                uuid.Must(uuid.NewV4()),
		Code:              "LOMASH20",
		Type:              coupon.TypePercentage,
		Value:             decimal.NewFromInt(20),
		MinOrderAmount:    int64Ptr(50000),
		MaxDiscountAmount: int64Ptr(30000),
		Status:            coupon.StatusActive,
	}
}

func TestEngine_ApplyCoupon(t *testing.T) {
	tests := []struct {
		name         string
		amount       int64
		wantDiscount int64
		wantFinal    int64
		wantErr      error
	}{
		{"percentage", 100000, 20000, 80000, nil},
		{"capped_at_max_discount", 300000, 30000, 270000, nil},
		{"exactly_minimum", 50000, 10000, 40000, nil},
		{"below_minimum", 10000, 0, 0, coupon.ErrBelowMinimum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			c := lomash20()
			repo.On("FindByCode", mock.Anything, "LOMASH20").Return(c, nil).Once()

			app, err := coupon.NewEngine(repo, clock).ApplyCoupon(context.Background(), "  lomash20 ", tt.amount)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, apperr.ErrInvalidCoupon)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDiscount, app.DiscountAmount)
			assert.Equal(t, tt.wantFinal, app.FinalAmount)
			assert.Equal(t, c.ID, app.CouponID)
			assert.Equal(t, "LOMASH20", app.Code)
			repo.AssertExpectations(t)
		})
	}
}

func TestEngine_ApplyCoupon_Rejections(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	future := fixedNow.Add(time.Hour)

	tests := []struct {
		name    string
		mutate  func(c *coupon.Coupon)
		wantErr error
	}{
		{"inactive", func(c *coupon.Coupon) { c.Status = coupon.StatusInactive }, coupon.ErrCouponInactive},
		{"expired", func(c *coupon.Coupon) { c.ExpiresAt = &past }, coupon.ErrCouponExpired},
		{"exhausted", func(c *coupon.Coupon) { c.UsageLimit = int64Ptr(5); c.UsageCount = 5 }, coupon.ErrCouponExhausted},
		{"not_yet_expired", func(c *coupon.Coupon) { c.ExpiresAt = &future }, nil},
		{"one_use_left", func(c *coupon.Coupon) { c.UsageLimit = int64Ptr(5); c.UsageCount = 4 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := lomash20()
			tt.mutate(c)
			repo := new(MockRepository)
			repo.On("FindByCode", mock.Anything, "LOMASH20").Return(c, nil).Once()

			_, err := coupon.NewEngine(repo, clock).ApplyCoupon(context.Background(), "LOMASH20", 100000)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			require.ErrorIs(t, err, apperr.ErrInvalidCoupon)
		})
	}
}

func TestEngine_ApplyCoupon_NotFound(t *testing.T) {
	repo := new(MockRepository)
	repo.On("FindByCode", mock.Anything, "NOPE").Return(nil, coupon.ErrCouponNotFound).Once()

	_, err := coupon.NewEngine(repo, clock).ApplyCoupon(context.Background(), "nope", 1000)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, err.Error(), "NOPE")
}

func TestDiscount_Fixed(t *testing.T) {
	c := &coupon.Coupon{Type: coupon.TypeFixed, Value: decimal.NewFromInt(1500)}

	assert.Equal(t, int64(1500), coupon.Discount(c, 10000))
	assert.Equal(t, int64(900), coupon.Discount(c, 900), "fixed discount never exceeds the order amount")
	assert.Equal(t, int64(0), coupon.Discount(c, 0))
}

func TestDiscount_MaxAppliesToPercentageOnly(t *testing.T) {
	fixed := &coupon.Coupon{Type: coupon.TypeFixed, Value: decimal.NewFromInt(1000), MaxDiscountAmount: int64Ptr(500)}
	percentage := &coupon.Coupon{Type: coupon.TypePercentage, Value: decimal.NewFromInt(50), MaxDiscountAmount: int64Ptr(500)}

	assert.Equal(t, int64(1000), coupon.Discount(fixed, 5000), "fixed coupon ignores the cap")
	assert.Equal(t, int64(800), coupon.Discount(fixed, 800))
	assert.Equal(t, int64(500), coupon.Discount(percentage, 5000))
	assert.Equal(t, int64(400), coupon.Discount(percentage, 800))
}

func TestDiscount_PercentageRoundsHalfUp(t *testing.T) {
	c := &coupon.Coupon{Type: coupon.TypePercentage, Value: decimal.RequireFromString("12.5")}

	// 12.5% of 999 = 124.875
	assert.Equal(t, int64(125), coupon.Discount(c, 999))
}

func TestEngine_CreateCoupon(t *testing.T) {
	tests := []struct {
		name  string
		input coupon.CreateInput
	}{
		{"percentage_over_100", coupon.CreateInput{Code: "BIG", Type: coupon.TypePercentage, Value: decimal.NewFromInt(101)}},
		{"percentage_zero", coupon.CreateInput{Code: "ZERO", Type: coupon.TypePercentage, Value: decimal.Zero}},
		{"fixed_negative", coupon.CreateInput{Code: "NEG", Type: coupon.TypeFixed, Value: decimal.NewFromInt(-5)}},
		{"blank_code", coupon.CreateInput{Code: "   ", Type: coupon.TypeFixed, Value: decimal.NewFromInt(5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			_, err := coupon.NewEngine(repo, clock).CreateCoupon(context.Background(), tt.input)
			require.ErrorIs(t, err, apperr.ErrValidation)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}

	t.Run("duplicate_code", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Create", mock.Anything, mock.Anything).Return(coupon.ErrCouponExists).Once()

		_, err := coupon.NewEngine(repo, clock).CreateCoupon(context.Background(), coupon.CreateInput{
			Code: "welcome", Type: coupon.TypeFixed, Value: decimal.NewFromInt(500),
		})
		require.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("success_normalizes_code", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(c *coupon.Coupon) bool {
			return c.Code == "WELCOME10" && c.Status == coupon.StatusActive && c.UsageCount == 0
		})).Return(nil).Once()

		c, err := coupon.NewEngine(repo, clock).CreateCoupon(context.Background(), coupon.CreateInput{
			Code: " welcome10 ", Type: coupon.TypePercentage, Value: decimal.NewFromInt(10),
		})
		require.NoError(t, err)
		assert.Equal(t, "WELCOME10", c.Code)
		repo.AssertExpectations(t)
	})
}

func TestEngine_DeactivateCoupon(t *testing.T) {
	repo := new(MockRepository)
	repo.On("SetStatus", mock.Anything, "SPRING", coupon.StatusInactive).Return(nil).Once()
	repo.On("SetStatus", mock.Anything, "GONE", coupon.StatusInactive).Return(coupon.ErrCouponNotFound).Once()

	e := coupon.NewEngine(repo, clock)
	require.NoError(t, e.DeactivateCoupon(context.Background(), "spring"))
	require.ErrorIs(t, e.DeactivateCoupon(context.Background(), "gone"), apperr.ErrNotFound)
	repo.AssertExpectations(t)
}

func TestEngine_RedeemCoupon_PropagatesExhaustion(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	repo := new(MockRepository)
	repo.On("IncrementUsage", mock.Anything, id).Return(coupon.ErrCouponExhausted).Once()

	err := coupon.NewEngine(repo, clock).RedeemCoupon(context.Background(), id)
	require.ErrorIs(t, err, apperr.ErrInvalidCoupon)
}

func TestEngine_RedeemCoupon_StorageFailure(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	dbErr := errors.New("connection reset")
	repo := new(MockRepository)
	repo.On("IncrementUsage", mock.Anything, id).Return(dbErr).Once()

	err := coupon.NewEngine(repo, clock).RedeemCoupon(context.Background(), id)
	require.ErrorIs(t, err, dbErr)
	assert.Nil(t, apperr.Kind(err))
}

// memoryRepository mirrors the conditional UPDATE the Postgres repository
// performs: the check and the increment happen under one lock.
type memoryRepository struct {
	mu      sync.Mutex
	coupons map[uuid.UUID]*coupon.Coupon
}

func (r *memoryRepository) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, coupon.ErrCouponNotFound
}

func (r *memoryRepository) Create(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[c.ID] = c
	return nil
}

func (r *memoryRepository) SetStatus(context.Context, string, coupon.Status) error { return nil }

func (r *memoryRepository) IncrementUsage(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[id]
	if !ok || c.Status != coupon.StatusActive || (c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit) {
		return coupon.ErrCouponExhausted
	}
	c.UsageCount++
	return nil
}

func (r *memoryRepository) List(context.Context) ([]coupon.Coupon, error) { return nil, nil }

func TestEngine_RedeemCoupon_ConcurrentRedemptionsRespectLimit(t *testing.T) {
	c := lomash20()
	c.UsageLimit = int64Ptr(10)
	repo := &memoryRepository{coupons: map[uuid.UUID]*coupon.Coupon{c.ID: c}}
	e := coupon.NewEngine(repo, clock)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.ApplyCoupon(context.Background(), "LOMASH20", 100000); err != nil {
				rejected.Add(1)
				return
			}
			if err := e.RedeemCoupon(context.Background(), c.ID); err != nil {
				rejected.Add(1)
				return
			}
			succeeded.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, int64(40), rejected.Load())
	assert.Equal(t, int64(10), c.UsageCount)
}
