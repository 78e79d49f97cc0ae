// Package apperr defines the error kinds shared by every engine and service.
// Domain packages declare their own sentinels wrapping one of these kinds so
// callers can branch with errors.Is on either the precise error or its kind.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrOrderCancellation = errors.New("order cancellation error")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidCoupon     = errors.New("invalid coupon")
	ErrConflict          = errors.New("conflict")
)

// New creates a sentinel error of the given kind.
func New(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}

// Validationf builds a one-off validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Kind returns the taxonomy entry err belongs to, or nil for infrastructure errors.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrOrderCancellation, ErrInsufficientStock, ErrInvalidCoupon, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code returns the machine readable code for err's kind.
func Code(err error) string {
	switch Kind(err) {
	case ErrValidation:
		return "VALIDATION_ERROR"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrOrderCancellation:
		return "ORDER_CANCELLATION_ERROR"
	case ErrInsufficientStock:
		return "INSUFFICIENT_STOCK"
	case ErrInvalidCoupon:
		return "INVALID_COUPON"
	case ErrConflict:
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}
