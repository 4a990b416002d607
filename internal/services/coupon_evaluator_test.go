package services

import (
	"reflect"
	"testing"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

var evalNow = time.Date(2026, time.March, 4, 14, 30, 0, 0, time.UTC) // Wednesday

func activeCoupon(code string, typ domain.DiscountType, value float64) *domain.Coupon {
	return &domain.Coupon{
		Code:   code,
		Type:   typ,
		Value:  value,
		Scope:  domain.CouponScopeAll,
		Active: true,
		Status: domain.CouponStatusActive,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func intPtr(v int) *int { return &v }

func TestEvaluateCouponPercentage(t *testing.T) {
	result := EvaluateCoupon(CouponEvaluationInput{
		Code:         "save10",
		Coupon:       activeCoupon("SAVE10", domain.DiscountTypePercentage, 10),
		Lines:        []domain.CartLine{line("prod_a", 1, 10000)},
		ShippingCost: 1500,
		At:           evalNow,
	})

	if !result.Valid {
		t.Fatalf("expected valid coupon, got %s (%s)", result.Reason, result.Message)
	}
	if result.Code != "SAVE10" {
		t.Fatalf("expected normalised code, got %s", result.Code)
	}
	if result.Discount != 1000 || result.MerchandiseDiscount != 1000 {
		t.Fatalf("expected discount 1000, got %d/%d", result.Discount, result.MerchandiseDiscount)
	}
	if result.NewSubtotal != 9000 || result.NewShipping != 1500 || result.NewTotal != 10500 {
		t.Fatalf("unexpected totals %+v", result)
	}
}

func TestEvaluateCouponPercentageCappedByMaxDiscount(t *testing.T) {
	coupon := activeCoupon("BIG50", domain.DiscountTypePercentage, 50)
	coupon.MaxDiscountAmount = 2000

	for _, subtotal := range []int64{100, 3999, 4000, 10000, 1_000_000} {
		result := EvaluateCoupon(CouponEvaluationInput{
			Code:   "BIG50",
			Coupon: coupon,
			Lines:  []domain.CartLine{line("prod_a", 1, subtotal)},
			At:     evalNow,
		})
		if !result.Valid {
			t.Fatalf("subtotal %d: expected valid, got %s", subtotal, result.Reason)
		}
		if result.Discount > coupon.MaxDiscountAmount {
			t.Fatalf("subtotal %d: discount %d exceeds cap", subtotal, result.Discount)
		}
		if result.Discount > subtotal {
			t.Fatalf("subtotal %d: discount %d exceeds subtotal", subtotal, result.Discount)
		}
	}
}

func TestEvaluateCouponFixedNeverExceedsSubtotal(t *testing.T) {
	coupon := activeCoupon("FLAT50", domain.DiscountTypeFixed, 5000)

	cases := map[int64]int64{
		1000:  1000,
		5000:  5000,
		12000: 5000,
	}
	for subtotal, want := range cases {
		result := EvaluateCoupon(CouponEvaluationInput{
			Code:   "FLAT50",
			Coupon: coupon,
			Lines:  []domain.CartLine{line("prod_a", 1, subtotal)},
			At:     evalNow,
		})
		if result.Discount != want {
			t.Fatalf("subtotal %d: expected discount %d, got %d", subtotal, want, result.Discount)
		}
		if result.NewSubtotal < 0 {
			t.Fatalf("subtotal %d: negative new subtotal", subtotal)
		}
	}
}

func TestEvaluateCouponFreeShipping(t *testing.T) {
	result := EvaluateCoupon(CouponEvaluationInput{
		Code:         "SHIPFREE",
		Coupon:       activeCoupon("SHIPFREE", domain.DiscountTypeFreeShipping, 0),
		Lines:        []domain.CartLine{line("prod_a", 2, 2500)},
		ShippingCost: 1500,
		At:           evalNow,
	})

	if !result.Valid || !result.FreeShipping {
		t.Fatalf("expected free shipping coupon to apply, got %+v", result)
	}
	if result.Discount != 1500 {
		t.Fatalf("expected discount equal to shipping cost, got %d", result.Discount)
	}
	if result.MerchandiseDiscount != 0 {
		t.Fatalf("expected no merchandise discount, got %d", result.MerchandiseDiscount)
	}
	if result.NewShipping != 0 || result.NewSubtotal != 5000 || result.NewTotal != 5000 {
		t.Fatalf("unexpected totals %+v", result)
	}
}

func TestEvaluateCouponBuyXGetY(t *testing.T) {
	coupon := activeCoupon("B2G1", domain.DiscountTypeBuyXGetY, 0)
	coupon.BuyQuantity = 2
	coupon.GetQuantity = 1
	coupon.GetProductID = "prod_sock"

	cases := []struct {
		qty      int
		free     int
		discount int64
	}{
		{qty: 2, free: 0, discount: 0},
		{qty: 5, free: 1, discount: 800},
		{qty: 6, free: 2, discount: 1600},
		{qty: 9, free: 3, discount: 2400},
	}
	for _, tc := range cases {
		result := EvaluateCoupon(CouponEvaluationInput{
			Code:   "B2G1",
			Coupon: coupon,
			Lines: []domain.CartLine{
				line("prod_sock", tc.qty, 800),
				line("prod_shoe", 1, 20000),
			},
			At: evalNow,
		})
		if !result.Valid {
			t.Fatalf("qty %d: expected valid, got %s", tc.qty, result.Reason)
		}
		var free int
		for _, item := range result.FreeItems {
			if item.ProductID != "prod_sock" {
				t.Fatalf("qty %d: unexpected free item %+v", tc.qty, item)
			}
			free += item.Quantity
		}
		if free != tc.free {
			t.Fatalf("qty %d: expected %d free units, got %d", tc.qty, tc.free, free)
		}
		if result.Discount != tc.discount {
			t.Fatalf("qty %d: expected discount %d, got %d", tc.qty, tc.discount, result.Discount)
		}
	}
}

func TestEvaluateCouponRejections(t *testing.T) {
	lines := []domain.CartLine{{ProductID: "prod_a", CategoryIDs: []string{"shoes"}, Quantity: 1, UnitPrice: 5000, Subtotal: 5000}}

	cases := []struct {
		name   string
		mutate func(in *CouponEvaluationInput)
		reason CouponReason
	}{
		{"unknown user", func(in *CouponEvaluationInput) { in.UserID = "usr_missing" }, CouponReasonUserNotFound},
		{"blocked user", func(in *CouponEvaluationInput) {
			in.UserID = "usr_1"
			in.User = &domain.User{ID: "usr_1", Blocked: true}
		}, CouponReasonUserBlocked},
		{"missing coupon", func(in *CouponEvaluationInput) { in.Coupon = nil }, CouponReasonNotFound},
		{"inactive", func(in *CouponEvaluationInput) { in.Coupon.Active = false }, CouponReasonInactive},
		{"not started", func(in *CouponEvaluationInput) { in.Coupon.StartsAt = timePtr(evalNow.Add(time.Hour)) }, CouponReasonNotStarted},
		{"expired", func(in *CouponEvaluationInput) { in.Coupon.EndsAt = timePtr(evalNow.Add(-time.Second)) }, CouponReasonExpired},
		{"global limit", func(in *CouponEvaluationInput) {
			in.Coupon.UsageLimit = 3
			in.Coupon.UsageCount = 3
		}, CouponReasonUsageLimitReached},
		{"customer limit", func(in *CouponEvaluationInput) {
			in.Coupon.PerCustomerLimit = 1
			in.CustomerRedemptions = 1
		}, CouponReasonCustomerLimitReached},
		{"min purchase", func(in *CouponEvaluationInput) { in.Coupon.MinPurchaseAmount = 5001 }, CouponReasonMinPurchaseNotMet},
		{"wrong day", func(in *CouponEvaluationInput) { in.Coupon.ValidDays = []time.Weekday{time.Saturday, time.Sunday} }, CouponReasonInvalidDay},
		{"wrong hour", func(in *CouponEvaluationInput) {
			in.Coupon.StartHour = intPtr(18)
			in.Coupon.EndHour = intPtr(22)
		}, CouponReasonInvalidHour},
		{"first purchase only", func(in *CouponEvaluationInput) { in.Coupon.FirstPurchaseOnly = true }, CouponReasonFirstPurchaseOnly},
		{"vip only", func(in *CouponEvaluationInput) { in.Coupon.CustomerType = domain.CustomerTypeVIP }, CouponReasonCustomerTypeMismatch},
		{"excluded category", func(in *CouponEvaluationInput) { in.Coupon.ExcludedCategory = []string{"shoes"} }, CouponReasonNoApplicableItems},
		{"product scope", func(in *CouponEvaluationInput) {
			in.Coupon.Scope = domain.CouponScopeProducts
			in.Coupon.ProductIDs = []string{"prod_b"}
		}, CouponReasonNoApplicableItems},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			in := CouponEvaluationInput{
				Code:   "SAVE10",
				Coupon: activeCoupon("SAVE10", domain.DiscountTypePercentage, 10),
				Lines:  lines,
				At:     evalNow,
			}
			tc.mutate(&in)
			result := EvaluateCoupon(in)
			if result.Valid {
				t.Fatalf("expected rejection %s, got valid", tc.reason)
			}
			if result.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, result.Reason)
			}
			if result.Message == "" {
				t.Fatalf("expected a human readable message")
			}
			if result.Discount != 0 || result.NewTotal != result.Subtotal {
				t.Fatalf("rejected coupon must not discount: %+v", result)
			}
		})
	}
}

func TestEvaluateCouponShortCircuitsInOrder(t *testing.T) {
	coupon := activeCoupon("LATE", domain.DiscountTypePercentage, 10)
	coupon.EndsAt = timePtr(evalNow.Add(-time.Hour))
	coupon.UsageLimit = 1
	coupon.UsageCount = 5
	coupon.MinPurchaseAmount = 1_000_000

	result := EvaluateCoupon(CouponEvaluationInput{
		Code:   "LATE",
		Coupon: coupon,
		Lines:  []domain.CartLine{line("prod_a", 1, 100)},
		At:     evalNow,
	})
	if result.Reason != CouponReasonExpired {
		t.Fatalf("expected expiry to be reported first, got %s", result.Reason)
	}
}

func TestEvaluateCouponHourWindowWrapsMidnight(t *testing.T) {
	coupon := activeCoupon("NIGHT", domain.DiscountTypePercentage, 10)
	coupon.StartHour = intPtr(22)
	coupon.EndHour = intPtr(6)

	late := time.Date(2026, time.March, 4, 23, 15, 0, 0, time.UTC)
	early := time.Date(2026, time.March, 5, 5, 59, 0, 0, time.UTC)
	noon := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

	for at, valid := range map[time.Time]bool{late: true, early: true, noon: false} {
		result := EvaluateCoupon(CouponEvaluationInput{
			Code:   "NIGHT",
			Coupon: coupon,
			Lines:  []domain.CartLine{line("prod_a", 1, 1000)},
			At:     at,
		})
		if result.Valid != valid {
			t.Fatalf("at %s: expected valid=%v, got %s", at, valid, result.Reason)
		}
	}
}

func TestEvaluateCouponUsesStoreLocation(t *testing.T) {
	dubai := time.FixedZone("GST", 4*60*60)
	coupon := activeCoupon("MORNING", domain.DiscountTypePercentage, 10)
	coupon.StartHour = intPtr(8)
	coupon.EndHour = intPtr(12)

	// 06:00 UTC is 10:00 in the store zone.
	at := time.Date(2026, time.March, 4, 6, 0, 0, 0, time.UTC)
	result := EvaluateCoupon(CouponEvaluationInput{
		Code:     "MORNING",
		Coupon:   coupon,
		Lines:    []domain.CartLine{line("prod_a", 1, 1000)},
		At:       at,
		Location: dubai,
	})
	if !result.Valid {
		t.Fatalf("expected coupon valid in store time zone, got %s", result.Reason)
	}
}

func TestEvaluateCouponIsDeterministic(t *testing.T) {
	coupon := activeCoupon("B2G1", domain.DiscountTypeBuyXGetY, 0)
	coupon.BuyQuantity = 1
	coupon.GetQuantity = 1
	in := CouponEvaluationInput{
		Code:         "b2g1",
		UserID:       "usr_1",
		User:         &domain.User{ID: "usr_1"},
		Coupon:       coupon,
		Lines:        []domain.CartLine{line("prod_a", 4, 1200), line("prod_b", 3, 700)},
		ShippingCost: 900,
		At:           evalNow,
	}

	first := EvaluateCoupon(in)
	second := EvaluateCoupon(in)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
}
