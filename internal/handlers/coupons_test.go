package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/ratelimit"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

type stubCouponService struct {
	validateFn func(context.Context, services.ValidateCouponCommand) (services.CouponEvaluation, error)
	listFn     func(context.Context, services.CouponListFilter) (domain.CursorPage[services.Coupon], error)
	getFn      func(context.Context, string) (services.Coupon, error)
	createFn   func(context.Context, services.UpsertCouponCommand) (services.Coupon, error)
	updateFn   func(context.Context, services.UpsertCouponCommand) (services.Coupon, error)
	deleteFn   func(context.Context, string) error
}

func (s *stubCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponEvaluation, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return services.CouponEvaluation{}, errNotStubbed
}

func (s *stubCouponService) ListCoupons(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Coupon]{}, nil
}

func (s *stubCouponService) GetCoupon(ctx context.Context, code string) (services.Coupon, error) {
	if s.getFn != nil {
		return s.getFn(ctx, code)
	}
	return services.Coupon{}, services.ErrCouponNotFound
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Coupon{}, errNotStubbed
}

func (s *stubCouponService) UpdateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Coupon{}, errNotStubbed
}

func (s *stubCouponService) DeleteCoupon(ctx context.Context, code string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, code)
	}
	return errNotStubbed
}

func couponRouter(svc services.CouponService, opts ...CouponHandlersOption) http.Handler {
	authn := testAuthenticator()
	handlers := NewCouponHandlers(authn, svc, opts...)
	router := chi.NewRouter()
	router.Route("/coupons", handlers.Routes)
	router.Route("/admin/coupons", func(r chi.Router) {
		r.Use(authn.Require(auth.RoleAdmin))
		handlers.AdminRoutes(r)
	})
	return router
}

func TestCouponHandlersValidateReturnsRejectionAsValue(t *testing.T) {
	var captured services.ValidateCouponCommand
	svc := &stubCouponService{
		validateFn: func(_ context.Context, cmd services.ValidateCouponCommand) (services.CouponEvaluation, error) {
			captured = cmd
			return services.CouponEvaluation{
				Valid:    false,
				Code:     "SUMMER",
				Reason:   services.CouponReasonMinPurchaseNotMet,
				Message:  "minimum purchase not met",
				Subtotal: 5000,
				NewTotal: 5000,
			}, nil
		},
	}
	rr := serve(t, couponRouter(svc), http.MethodPost, "/coupons/validate", "customer-usr_9", map[string]any{
		"code":     "summer",
		"products": []map[string]any{{"productId": "prod_rose", "quantity": 1}},
		"userId":   "someone-else",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "usr_9" || captured.Code != "summer" || len(captured.Lines) != 1 {
		t.Fatalf("unexpected validate command %+v", captured)
	}
	body := decodeResponse[couponEvaluationPayload](t, rr)
	if body.Valid || body.Reason != "min_purchase_not_met" || body.NewTotal != 5000 {
		t.Fatalf("unexpected evaluation %+v", body)
	}
}

func TestCouponHandlersValidateMissingCode(t *testing.T) {
	svc := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (services.CouponEvaluation, error) {
			return services.CouponEvaluation{}, services.ErrCouponInvalidCode
		},
	}
	rr := serve(t, couponRouter(svc), http.MethodPost, "/coupons/validate", "", map[string]any{})
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestCouponHandlersValidateIsRateLimited(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(1, 1, func() time.Time { return orderTestNow })
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	svc := &stubCouponService{
		validateFn: func(context.Context, services.ValidateCouponCommand) (services.CouponEvaluation, error) {
			return services.CouponEvaluation{Valid: true, Code: "TEN"}, nil
		},
	}
	router := couponRouter(svc, WithCouponRateLimit(ratelimit.Middleware(limiter)))

	if rr := serve(t, router, http.MethodPost, "/coupons/validate", "customer-usr_1", map[string]any{"code": "TEN"}); rr.Code != http.StatusOK {
		t.Fatalf("first call: expected 200, got %d", rr.Code)
	}
	rr := serve(t, router, http.MethodPost, "/coupons/validate", "customer-usr_1", map[string]any{"code": "TEN"})
	expectError(t, rr, http.StatusTooManyRequests, "rate_limited")
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rr := serve(t, router, http.MethodPost, "/coupons/validate", "customer-usr_2", map[string]any{"code": "TEN"}); rr.Code != http.StatusOK {
		t.Fatalf("other caller: expected 200, got %d", rr.Code)
	}
}

func TestCouponHandlersAdminRequiresAdminRole(t *testing.T) {
	router := couponRouter(&stubCouponService{})
	expectError(t, serve(t, router, http.MethodGet, "/admin/coupons", "", nil), http.StatusUnauthorized, "unauthenticated")
	expectError(t, serve(t, router, http.MethodGet, "/admin/coupons", "customer-usr_1", nil), http.StatusForbidden, "forbidden")
}

func TestCouponHandlersCreateMapsPayload(t *testing.T) {
	var captured services.UpsertCouponCommand
	svc := &stubCouponService{
		createFn: func(_ context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
			captured = cmd
			coupon := cmd.Coupon
			coupon.Code = "WEEKEND"
			coupon.Status = domain.CouponStatusActive
			coupon.CreatedAt = orderTestNow
			return coupon, nil
		},
	}
	rr := serve(t, couponRouter(svc), http.MethodPost, "/admin/coupons", "admin-ops", map[string]any{
		"code":              "weekend",
		"type":              "Percentage",
		"value":             15,
		"minPurchaseAmount": 20000,
		"validDays":         []string{"Friday", "sat"},
		"startsAt":          "2026-03-01",
		"active":            true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	coupon := captured.Coupon
	if coupon.Type != domain.DiscountTypePercentage || coupon.MinPurchaseAmount != 20000 || captured.ActorID != "ops" {
		t.Fatalf("unexpected coupon command %+v", captured)
	}
	if len(coupon.ValidDays) != 2 || coupon.ValidDays[0] != time.Friday || coupon.ValidDays[1] != time.Saturday {
		t.Fatalf("unexpected valid days %v", coupon.ValidDays)
	}
	if coupon.StartsAt == nil || !coupon.StartsAt.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected startsAt %v", coupon.StartsAt)
	}
	body := decodeResponse[couponResponse](t, rr)
	if body.Coupon.Code != "WEEKEND" || body.Coupon.Status != "active" || body.Coupon.ValidDays[0] != "friday" {
		t.Fatalf("unexpected response %+v", body.Coupon)
	}
}

func TestCouponHandlersCreateRejectsUnknownWeekday(t *testing.T) {
	rr := serve(t, couponRouter(&stubCouponService{}), http.MethodPost, "/admin/coupons", "admin-ops", map[string]any{
		"code": "X", "validDays": []string{"funday"},
	})
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestCouponHandlersAdminCRUD(t *testing.T) {
	var deleted string
	svc := &stubCouponService{
		listFn: func(_ context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
			if len(filter.Status) != 1 || filter.Status[0] != domain.CouponStatusExpired {
				t.Errorf("unexpected list filter %+v", filter)
			}
			return domain.CursorPage[services.Coupon]{Items: []services.Coupon{{Code: "OLD"}}}, nil
		},
		updateFn: func(_ context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
			if cmd.Coupon.Code != "TEN" {
				return services.Coupon{}, services.ErrCouponNotFound
			}
			return cmd.Coupon, nil
		},
		deleteFn: func(_ context.Context, code string) error {
			deleted = code
			return nil
		},
	}
	router := couponRouter(svc)

	rr := serve(t, router, http.MethodGet, "/admin/coupons?status=expired", "admin-ops", nil)
	if body := decodeResponse[listResponse[couponPayload]](t, rr); len(body.Items) != 1 || body.Items[0].Code != "OLD" {
		t.Fatalf("unexpected list %+v", body)
	}

	expectError(t, serve(t, router, http.MethodGet, "/admin/coupons/NOPE", "admin-ops", nil), http.StatusNotFound, "not_found")
	expectError(t, serve(t, router, http.MethodPut, "/admin/coupons/TEN", "admin-ops", map[string]any{"code": "OTHER"}), http.StatusBadRequest, "invalid_request")
	expectError(t, serve(t, router, http.MethodPut, "/admin/coupons/MISSING", "admin-ops", map[string]any{"type": "fixed"}), http.StatusNotFound, "not_found")

	if rr := serve(t, router, http.MethodPut, "/admin/coupons/TEN", "admin-ops", map[string]any{"type": "fixed", "value": 500}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodDelete, "/admin/coupons/TEN", "admin-ops", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if deleted != "TEN" {
		t.Fatalf("expected TEN deleted, got %q", deleted)
	}
}
