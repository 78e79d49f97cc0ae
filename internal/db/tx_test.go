package db_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/db"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "coupons_code_key"}
	wrapped := fmt.Errorf("repository: insert coupon: %w", unique)

	assert.True(t, db.IsUniqueViolation(wrapped, ""))
	assert.True(t, db.IsUniqueViolation(wrapped, "coupons_code_key"))
	assert.False(t, db.IsUniqueViolation(wrapped, "orders_order_number_key"))
	assert.False(t, db.IsUniqueViolation(errors.New("boom"), ""))
	assert.False(t, db.IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.CheckViolation}, ""))
}

func TestIsCheckViolation(t *testing.T) {
	check := &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "coupons_usage_within_limit"}

	assert.True(t, db.IsCheckViolation(check, "coupons_usage_within_limit"))
	assert.False(t, db.IsCheckViolation(check, "other"))
	assert.False(t, db.IsCheckViolation(nil, ""))
}

func TestInTx_EmptyContext(t *testing.T) {
	assert.False(t, db.InTx(context.Background()))
}
