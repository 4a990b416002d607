package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

// ErrShippingMethodUnknown indicates the requested shipping method is not configured in settings.
var ErrShippingMethodUnknown = errors.New("totals: unknown shipping method")

// TotalsAdjustment carries the coupon outcome applied on top of the cart lines.
type TotalsAdjustment struct {
	Discount     int64
	FreeShipping bool
}

// ShippingCost resolves the cost of the named method for the given subtotal.
// A method with a free-shipping threshold costs nothing once the subtotal reaches it.
func ShippingCost(settings domain.Settings, methodName string, subtotal int64) (int64, error) {
	name := strings.TrimSpace(methodName)
	if name == "" {
		return 0, fmt.Errorf("%w: shipping method is required", ErrShippingMethodUnknown)
	}
	method, ok := settings.ShippingMethod(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrShippingMethodUnknown, name)
	}
	if method.FreeShippingThreshold > 0 && subtotal >= method.FreeShippingThreshold {
		return 0, nil
	}
	if method.Cost < 0 {
		return 0, nil
	}
	return method.Cost, nil
}

// ComputeTotals derives subtotal, tax, shipping and total for re-priced cart lines.
// total = subtotal - discount + tax + shipping, with tax applied to the discounted subtotal.
func ComputeTotals(lines []domain.CartLine, settings domain.Settings, shippingMethod string, adj TotalsAdjustment) (domain.OrderTotals, error) {
	subtotal := domain.SubtotalOf(lines)

	shipping, err := ShippingCost(settings, shippingMethod, subtotal)
	if err != nil {
		return domain.OrderTotals{}, err
	}
	if adj.FreeShipping {
		shipping = 0
	}

	discount := adj.Discount
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	tax := taxOn(subtotal-discount, settings.TaxRate)

	return domain.OrderTotals{
		Currency: strings.ToUpper(strings.TrimSpace(settings.Currency)),
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal - discount + tax + shipping,
	}, nil
}

func taxOn(taxable int64, rate float64) int64 {
	if taxable <= 0 || rate <= 0 {
		return 0
	}
	return decimal.NewFromInt(taxable).
		Mul(decimal.NewFromFloat(rate)).
		Div(hundred).
		Round(0).
		IntPart()
}
