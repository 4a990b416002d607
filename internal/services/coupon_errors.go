package services

import (
	"errors"
	"fmt"
)

var (
	// ErrCouponInvalidInput indicates the coupon payload failed validation.
	ErrCouponInvalidInput = errors.New("coupon service: invalid input")
	// ErrCouponInvalidCode signals the supplied coupon code is missing or malformed.
	ErrCouponInvalidCode = errors.New("coupon service: invalid coupon code")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponConflict indicates a coupon with the same code already exists.
	ErrCouponConflict = errors.New("coupon service: coupon already exists")
	// ErrCouponRejected is matched by every CouponRejection.
	ErrCouponRejected = errors.New("coupon service: coupon rejected")
)

// CouponRejection carries the evaluator outcome when a coupon cannot be applied to an order.
type CouponRejection struct {
	Code    string
	Reason  CouponReason
	Message string
}

func (e *CouponRejection) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

func (e *CouponRejection) Is(target error) bool {
	return target == ErrCouponRejected
}
