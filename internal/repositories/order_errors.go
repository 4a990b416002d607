package repositories

import (
	"errors"
	"fmt"
)

// OrderErrorCode enumerates repository error causes for order placement and transitions.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorAlreadyExists indicates an order with the same ID was already written.
	OrderErrorAlreadyExists OrderErrorCode = "order_already_exists"
	// OrderErrorProductNotFound indicates a line references a product that no longer exists.
	OrderErrorProductNotFound OrderErrorCode = "order_product_not_found"
	// OrderErrorCouponNotFound indicates the coupon vanished between validation and placement.
	OrderErrorCouponNotFound OrderErrorCode = "order_coupon_not_found"
	// OrderErrorCouponExhausted indicates the coupon reached its global usage limit.
	OrderErrorCouponExhausted OrderErrorCode = "order_coupon_exhausted"
	// OrderErrorCouponCustomerLimit indicates the customer reached the per-customer usage limit.
	OrderErrorCouponCustomerLimit OrderErrorCode = "order_coupon_customer_limit"
	// OrderErrorOutOfStock indicates a product has fewer units left than the order needs.
	OrderErrorOutOfStock OrderErrorCode = "order_out_of_stock"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	// ProductID, Requested and Available describe the shortfall for OrderErrorOutOfStock.
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the order itself is missing.
func (e *OrderError) IsNotFound() bool {
	return e != nil && e.Code == OrderErrorNotFound
}

// IsConflict reports whether the failure stems from concurrent state such as exhausted coupons.
func (e *OrderError) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case OrderErrorAlreadyExists, OrderErrorCouponExhausted, OrderErrorCouponCustomerLimit, OrderErrorOutOfStock:
		return true
	}
	return false
}

// IsUnavailable always reports false; transport failures surface as platform errors.
func (e *OrderError) IsUnavailable() bool {
	return false
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewOutOfStockError reports that productID cannot cover requested units.
func NewOutOfStockError(productID string, requested, available int) *OrderError {
	return &OrderError{
		Code:      OrderErrorOutOfStock,
		Message:   fmt.Sprintf("product %s has %d units left, %d requested", productID, available, requested),
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// IsOutOfStock reports whether err carries an OrderErrorOutOfStock.
func IsOutOfStock(err error) (*OrderError, bool) {
	var orderErr *OrderError
	if errors.As(err, &orderErr) && orderErr.Code == OrderErrorOutOfStock {
		return orderErr, true
	}
	return nil, false
}
