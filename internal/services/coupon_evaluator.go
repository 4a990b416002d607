package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

// CouponReason is the machine readable outcome of a coupon evaluation.
type CouponReason string

const (
	CouponReasonApplied              CouponReason = "applied"
	CouponReasonUserNotFound         CouponReason = "user_not_found"
	CouponReasonUserBlocked          CouponReason = "user_blocked"
	CouponReasonNotFound             CouponReason = "coupon_not_found"
	CouponReasonInactive             CouponReason = "coupon_inactive"
	CouponReasonNotStarted           CouponReason = "coupon_not_started"
	CouponReasonExpired              CouponReason = "coupon_expired"
	CouponReasonUsageLimitReached    CouponReason = "usage_limit_reached"
	CouponReasonCustomerLimitReached CouponReason = "customer_limit_reached"
	CouponReasonMinPurchaseNotMet    CouponReason = "min_purchase_not_met"
	CouponReasonInvalidDay           CouponReason = "invalid_day"
	CouponReasonInvalidHour          CouponReason = "invalid_hour"
	CouponReasonFirstPurchaseOnly    CouponReason = "first_purchase_only"
	CouponReasonCustomerTypeMismatch CouponReason = "customer_type_mismatch"
	CouponReasonNoApplicableItems    CouponReason = "no_applicable_items"
)

var hundred = decimal.NewFromInt(100)

// CouponEvaluationInput carries everything needed to judge a coupon against a cart.
// A nil Coupon means no coupon exists for Code; a nil User with a non-empty UserID
// means the referenced user does not exist.
type CouponEvaluationInput struct {
	Code                string
	UserID              string
	User                *domain.User
	IsFirstPurchase     bool
	CustomerRedemptions int
	Coupon              *domain.Coupon
	Lines               []domain.CartLine
	ShippingCost        int64
	At                  time.Time
	Location            *time.Location
}

// CouponEvaluation is the result of evaluating a coupon. Rejections are regular values.
type CouponEvaluation struct {
	Valid   bool
	Reason  CouponReason
	Message string
	Code    string
	// Discount is the full benefit, including waived shipping.
	Discount int64
	// MerchandiseDiscount is the part of Discount taken off the subtotal.
	MerchandiseDiscount int64
	FreeShipping        bool
	FreeItems           []domain.FreeItem
	Subtotal            int64
	NewSubtotal         int64
	NewShipping         int64
	NewTotal            int64
}

// HasBenefit reports whether an accepted coupon changes what the buyer pays.
func (e CouponEvaluation) HasBenefit() bool {
	return e.Valid && e.Discount > 0
}

func rejectCoupon(code string, reason CouponReason, message string, subtotal, shipping int64) CouponEvaluation {
	return CouponEvaluation{
		Valid:       false,
		Reason:      reason,
		Message:     message,
		Code:        code,
		Subtotal:    subtotal,
		NewSubtotal: subtotal,
		NewShipping: shipping,
		NewTotal:    subtotal + shipping,
	}
}

// EvaluateCoupon validates the coupon in the given order of checks and computes its discount.
// It performs no I/O and returns identical results for identical inputs.
func EvaluateCoupon(in CouponEvaluationInput) CouponEvaluation {
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	subtotal := domain.SubtotalOf(in.Lines)
	shipping := in.ShippingCost
	if shipping < 0 {
		shipping = 0
	}
	reject := func(reason CouponReason, message string) CouponEvaluation {
		return rejectCoupon(code, reason, message, subtotal, shipping)
	}

	if strings.TrimSpace(in.UserID) != "" && in.User == nil {
		return reject(CouponReasonUserNotFound, "user account not found")
	}
	if in.User != nil && in.User.Blocked {
		return reject(CouponReasonUserBlocked, "user account is blocked")
	}

	coupon := in.Coupon
	if coupon == nil || code == "" {
		return reject(CouponReasonNotFound, "coupon code not found")
	}
	if !coupon.Active || coupon.Status == domain.CouponStatusInactive {
		return reject(CouponReasonInactive, "coupon is not active")
	}

	at := in.At
	if in.Location != nil {
		at = at.In(in.Location)
	}
	if coupon.StartsAt != nil && at.Before(*coupon.StartsAt) {
		return reject(CouponReasonNotStarted, "coupon is not active yet")
	}
	if coupon.EndsAt != nil && at.After(*coupon.EndsAt) {
		return reject(CouponReasonExpired, "coupon has expired")
	}
	if coupon.EndsAt == nil && coupon.Status == domain.CouponStatusExpired {
		return reject(CouponReasonExpired, "coupon has expired")
	}

	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return reject(CouponReasonUsageLimitReached, "coupon usage limit reached")
	}
	if coupon.PerCustomerLimit > 0 && in.CustomerRedemptions >= coupon.PerCustomerLimit {
		return reject(CouponReasonCustomerLimitReached, "coupon already used the maximum number of times")
	}

	if coupon.MinPurchaseAmount > 0 && subtotal < coupon.MinPurchaseAmount {
		return reject(CouponReasonMinPurchaseNotMet, fmt.Sprintf("minimum purchase of %d required", coupon.MinPurchaseAmount))
	}

	if len(coupon.ValidDays) > 0 && !slices.Contains(coupon.ValidDays, at.Weekday()) {
		return reject(CouponReasonInvalidDay, "coupon is not valid today")
	}
	if coupon.StartHour != nil && coupon.EndHour != nil && !withinHourWindow(at.Hour(), *coupon.StartHour, *coupon.EndHour) {
		return reject(CouponReasonInvalidHour, "coupon is not valid at this time of day")
	}

	if coupon.FirstPurchaseOnly && !in.IsFirstPurchase {
		return reject(CouponReasonFirstPurchaseOnly, "coupon is valid on the first purchase only")
	}
	switch coupon.CustomerType {
	case domain.CustomerTypeNew:
		if !in.IsFirstPurchase {
			return reject(CouponReasonCustomerTypeMismatch, "coupon is reserved for new customers")
		}
	case domain.CustomerTypeReturning:
		if in.IsFirstPurchase {
			return reject(CouponReasonCustomerTypeMismatch, "coupon is reserved for returning customers")
		}
	case domain.CustomerTypeVIP:
		if in.User == nil || !in.User.VIP {
			return reject(CouponReasonCustomerTypeMismatch, "coupon is reserved for VIP customers")
		}
	}

	applicable := applicableLines(*coupon, in.Lines)
	if len(applicable) == 0 {
		return reject(CouponReasonNoApplicableItems, "no items in the cart qualify for this coupon")
	}

	result := CouponEvaluation{
		Valid:    true,
		Reason:   CouponReasonApplied,
		Message:  "coupon applied",
		Code:     code,
		Subtotal: subtotal,
	}

	var merchandise int64
	switch coupon.Type {
	case domain.DiscountTypePercentage:
		merchandise = percentageOf(domain.SubtotalOf(applicable), coupon.Value)
		if coupon.MaxDiscountAmount > 0 && merchandise > coupon.MaxDiscountAmount {
			merchandise = coupon.MaxDiscountAmount
		}
	case domain.DiscountTypeFixed:
		merchandise = int64(coupon.Value)
	case domain.DiscountTypeFreeShipping:
		result.FreeShipping = true
	case domain.DiscountTypeBuyXGetY:
		merchandise, result.FreeItems = buyXGetYDiscount(*coupon, applicable)
	default:
		return reject(CouponReasonInactive, fmt.Sprintf("unsupported discount type %q", coupon.Type))
	}

	if merchandise < 0 {
		merchandise = 0
	}
	if merchandise > subtotal {
		merchandise = subtotal
	}

	result.MerchandiseDiscount = merchandise
	result.Discount = merchandise
	result.NewShipping = shipping
	if result.FreeShipping {
		result.Discount += shipping
		result.NewShipping = 0
	}
	result.NewSubtotal = subtotal - merchandise
	result.NewTotal = result.NewSubtotal + result.NewShipping
	return result
}

// NormalizeCouponCode returns the canonical uppercase representation of a code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func withinHourWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func applicableLines(coupon domain.Coupon, lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if slices.Contains(coupon.ExcludedProducts, line.ProductID) || intersects(coupon.ExcludedCategory, line.CategoryIDs) {
			continue
		}
		switch coupon.Scope {
		case domain.CouponScopeProducts:
			if !slices.Contains(coupon.ProductIDs, line.ProductID) {
				continue
			}
		case domain.CouponScopeCategories:
			if !intersects(coupon.CategoryIDs, line.CategoryIDs) {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

func buyXGetYDiscount(coupon domain.Coupon, lines []domain.CartLine) (int64, []domain.FreeItem) {
	bundle := coupon.BuyQuantity + coupon.GetQuantity
	if coupon.BuyQuantity <= 0 || coupon.GetQuantity <= 0 {
		return 0, nil
	}
	target := strings.TrimSpace(coupon.GetProductID)
	var (
		discount int64
		items    []domain.FreeItem
	)
	for _, line := range lines {
		if target != "" && line.ProductID != target {
			continue
		}
		free := (line.Quantity / bundle) * coupon.GetQuantity
		if free <= 0 {
			continue
		}
		discount += int64(free) * line.UnitPrice
		items = append(items, domain.FreeItem{
			ProductID: line.ProductID,
			Quantity:  free,
			UnitPrice: line.UnitPrice,
		})
	}
	return discount, items
}

// percentageOf returns amount × percent / 100 rounded to the nearest minor unit.
func percentageOf(amount int64, percent float64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred).
		Round(0).
		IntPart()
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
