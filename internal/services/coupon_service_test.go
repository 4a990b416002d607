package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

var couponTestNow = time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)

func testProducts() *memoryProductRepo {
	return newMemoryProductRepo(
		domain.Product{ID: "prod_rose", Name: "Rose Oud", SKU: "RO-1", Price: 10000, Stock: 5, Status: domain.ProductStatusActive, CategoryIDs: []string{"perfume"}},
		domain.Product{ID: "prod_musk", Name: "White Musk", SKU: "WM-1", Price: 4000, CompareAtPrice: 5000, Stock: 1, Status: domain.ProductStatusActive, CategoryIDs: []string{"perfume"}},
		domain.Product{ID: "prod_draft", Name: "Draft", SKU: "DR-1", Price: 1000, Stock: 10, Status: domain.ProductStatusDraft},
	)
}

func newTestCouponService(t *testing.T, coupons *memoryCouponRepo, users *memoryUserRepo, orders *memoryOrderRepo) CouponService {
	t.Helper()
	deps := CouponServiceDeps{
		Coupons:  coupons,
		Products: testProducts(),
		Users:    users,
		Settings: staticSettings{settings: testStoreSettings()},
		Clock:    fixedClock(couponTestNow),
	}
	if orders != nil {
		deps.Orders = orders
	}
	svc, err := NewCouponService(deps)
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	return svc
}

func TestCouponServiceValidateAppliesPercentage(t *testing.T) {
	coupons := newMemoryCouponRepo(domain.Coupon{
		Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10, Active: true, Status: domain.CouponStatusActive,
	})
	svc := newTestCouponService(t, coupons, newMemoryUserRepo(), nil)

	result, err := svc.Validate(context.Background(), ValidateCouponCommand{
		Code:           " save10 ",
		Lines:          []CartLineInput{{ProductID: "prod_rose", Quantity: 1}},
		ShippingMethod: "standard",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || result.Code != "SAVE10" {
		t.Fatalf("expected valid SAVE10, got %+v", result)
	}
	if result.Discount != 1000 || result.NewSubtotal != 9000 || result.NewShipping != 2500 || result.NewTotal != 11500 {
		t.Fatalf("unexpected amounts: %+v", result)
	}
}

func TestCouponServiceValidateReportsRejections(t *testing.T) {
	coupons := newMemoryCouponRepo(
		domain.Coupon{Code: "ONCE", Type: domain.DiscountTypeFixed, Value: 500, Active: true, PerCustomerLimit: 1},
		domain.Coupon{Code: "NEWBIE", Type: domain.DiscountTypeFixed, Value: 500, Active: true, FirstPurchaseOnly: true},
	)
	coupons.redemptions["ONCE/usr_1"] = 1
	users := newMemoryUserRepo(domain.User{ID: "usr_1", Email: "a@example.com", OrdersCount: 3})
	svc := newTestCouponService(t, coupons, users, nil)
	lines := []CartLineInput{{ProductID: "prod_rose", Quantity: 1}}

	cases := []struct {
		code   string
		userID string
		want   CouponReason
	}{
		{"MISSING", "", CouponReasonNotFound},
		{"ONCE", "usr_1", CouponReasonCustomerLimitReached},
		{"NEWBIE", "usr_1", CouponReasonFirstPurchaseOnly},
		{"ONCE", "usr_ghost", CouponReasonUserNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.code+"/"+tc.userID, func(t *testing.T) {
			result, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: tc.code, UserID: tc.userID, Lines: lines})
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if result.Valid || result.Reason != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, result)
			}
		})
	}
}

func TestCouponServiceValidateRejectsBadCart(t *testing.T) {
	svc := newTestCouponService(t, newMemoryCouponRepo(), newMemoryUserRepo(), nil)
	ctx := context.Background()

	if _, err := svc.Validate(ctx, ValidateCouponCommand{Code: "X", Lines: nil}); !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected empty cart, got %v", err)
	}
	_, err := svc.Validate(ctx, ValidateCouponCommand{Code: "X", Lines: []CartLineInput{{ProductID: "prod_draft", Quantity: 1}}})
	var unavailable *ProductUnavailableError
	if !errors.As(err, &unavailable) || unavailable.Reason != ProductUnavailableInactive {
		t.Fatalf("expected inactive product error, got %v", err)
	}
	if _, err := svc.Validate(ctx, ValidateCouponCommand{Code: "", Lines: []CartLineInput{{ProductID: "prod_rose", Quantity: 1}}}); !errors.Is(err, ErrCouponInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := svc.Validate(ctx, ValidateCouponCommand{Code: "X", Lines: []CartLineInput{{ProductID: "prod_rose", Quantity: 1}}, ShippingMethod: "drone"}); !errors.Is(err, ErrShippingMethodUnknown) {
		t.Fatalf("expected unknown shipping method, got %v", err)
	}
}

func TestCouponServiceCreateClampsAndDerivesStatus(t *testing.T) {
	coupons := newMemoryCouponRepo()
	svc := newTestCouponService(t, coupons, newMemoryUserRepo(), nil)
	ctx := context.Background()

	created, err := svc.CreateCoupon(ctx, UpsertCouponCommand{Coupon: domain.Coupon{
		Code: "big150", Type: domain.DiscountTypePercentage, Value: 150, Active: true,
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Code != "BIG150" || created.Value != 100 || created.Status != domain.CouponStatusActive {
		t.Fatalf("unexpected coupon: %+v", created)
	}
	if created.Scope != domain.CouponScopeAll || created.CustomerType != domain.CustomerTypeAll {
		t.Fatalf("expected defaults applied, got %+v", created)
	}

	if _, err := svc.CreateCoupon(ctx, UpsertCouponCommand{Coupon: domain.Coupon{Code: "BIG150", Type: domain.DiscountTypeFixed, Value: 1}}); !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	future := couponTestNow.Add(48 * time.Hour)
	scheduled, err := svc.CreateCoupon(ctx, UpsertCouponCommand{Coupon: domain.Coupon{
		Code: "LATER", Type: domain.DiscountTypeFreeShipping, Active: true, StartsAt: &future,
	}})
	if err != nil {
		t.Fatalf("create scheduled: %v", err)
	}
	if scheduled.Status != domain.CouponStatusScheduled {
		t.Fatalf("expected scheduled, got %s", scheduled.Status)
	}

	past := couponTestNow.Add(-time.Hour)
	start := past.Add(-time.Hour)
	expired, err := svc.CreateCoupon(ctx, UpsertCouponCommand{Coupon: domain.Coupon{
		Code: "GONE", Type: domain.DiscountTypeFixed, Value: 100, Active: true, StartsAt: &start, EndsAt: &past,
	}})
	if err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if expired.Status != domain.CouponStatusExpired {
		t.Fatalf("expected expired, got %s", expired.Status)
	}
}

func TestCouponServiceCreateValidation(t *testing.T) {
	svc := newTestCouponService(t, newMemoryCouponRepo(), newMemoryUserRepo(), nil)
	hour := 25
	cases := map[string]domain.Coupon{
		"bad code":         {Code: "x", Type: domain.DiscountTypeFixed},
		"unknown type":     {Code: "ABC", Type: "mystery"},
		"negative fixed":   {Code: "ABC", Type: domain.DiscountTypeFixed, Value: -1},
		"bxgy quantities":  {Code: "ABC", Type: domain.DiscountTypeBuyXGetY},
		"hour range":       {Code: "ABC", Type: domain.DiscountTypeFixed, StartHour: &hour, EndHour: &hour},
		"product scope":    {Code: "ABC", Type: domain.DiscountTypeFixed, Scope: domain.CouponScopeProducts},
		"negative limit":   {Code: "ABC", Type: domain.DiscountTypeFixed, UsageLimit: -1},
		"unknown customer": {Code: "ABC", Type: domain.DiscountTypeFixed, CustomerType: "robots"},
	}
	for name, coupon := range cases {
		name := name
		coupon := coupon
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateCoupon(context.Background(), UpsertCouponCommand{Coupon: coupon})
			if !errors.Is(err, ErrCouponInvalidInput) && !errors.Is(err, ErrCouponInvalidCode) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCouponServiceUpdatePreservesUsage(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	coupons := newMemoryCouponRepo(domain.Coupon{
		Code: "KEEP", Type: domain.DiscountTypeFixed, Value: 100, Active: true, UsageCount: 7, CreatedAt: created,
	})
	svc := newTestCouponService(t, coupons, newMemoryUserRepo(), nil)
	ctx := context.Background()

	updated, err := svc.UpdateCoupon(ctx, UpsertCouponCommand{Coupon: domain.Coupon{
		Code: "keep", Type: domain.DiscountTypeFixed, Value: 200, Active: false, UsageCount: 0,
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.UsageCount != 7 || !updated.CreatedAt.Equal(created) || updated.Status != domain.CouponStatusInactive {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if _, err := svc.UpdateCoupon(ctx, UpsertCouponCommand{Coupon: domain.Coupon{Code: "NOPE", Type: domain.DiscountTypeFixed}}); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.DeleteCoupon(ctx, "keep"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetCoupon(ctx, "KEEP"); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected deleted coupon to be missing, got %v", err)
	}
}
