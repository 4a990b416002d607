package domain

import "strings"

// PricingBreakdown captures the result of pricing a set of cart lines before persistence.
type PricingBreakdown struct {
	Lines        []CartLine
	Totals       OrderTotals
	CouponCode   string
	FreeShipping bool
	FreeItems    []FreeItem
	// CouponBenefit is the full value granted by the coupon, including waived shipping.
	CouponBenefit int64
}

// SubtotalOf sums the subtotals of the given lines.
func SubtotalOf(lines []CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.Subtotal
	}
	return total
}

// LineItemsFromCart snapshots cart lines into order line items.
func LineItemsFromCart(lines []CartLine) []OrderLineItem {
	items := make([]OrderLineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderLineItem{
			ProductID:     line.ProductID,
			Name:          line.Name,
			SKU:           line.SKU,
			Image:         line.Image,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			OriginalPrice: line.OriginalPrice,
			Subtotal:      line.Subtotal,
		})
	}
	return items
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
