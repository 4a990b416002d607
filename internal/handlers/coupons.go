package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/observability"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/pagination"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

var couponPageOptions = pagination.Options{DefaultPageSize: 50, MaxPageSize: 200}

// CouponHandlers serves the public validate endpoint and admin coupon management.
type CouponHandlers struct {
	authn     *auth.Authenticator
	coupons   services.CouponService
	rateLimit func(http.Handler) http.Handler
}

// CouponHandlersOption customises CouponHandlers.
type CouponHandlersOption func(*CouponHandlers)

// WithCouponRateLimit throttles POST /coupons/validate.
func WithCouponRateLimit(mw func(http.Handler) http.Handler) CouponHandlersOption {
	return func(h *CouponHandlers) {
		h.rateLimit = mw
	}
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService, opts ...CouponHandlersOption) *CouponHandlers {
	h := &CouponHandlers{authn: authn, coupons: coupons}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the public /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(public chi.Router) {
		public.Use(h.authn.Optional(), observability.CaptureIdentity)
		if h.rateLimit != nil {
			public.Use(h.rateLimit)
		}
		public.Post("/validate", h.validateCoupon)
	})
}

// AdminRoutes registers /admin/coupons. Callers mount it behind admin authentication.
func (h *CouponHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listCoupons)
	r.Post("/", h.createCoupon)
	r.Get("/{code}", h.getCoupon)
	r.Put("/{code}", h.updateCoupon)
	r.Delete("/{code}", h.deleteCoupon)
}

type validateCouponRequest struct {
	Code           string            `json:"code"`
	CouponCode     string            `json:"couponCode"`
	Products       []cartLineRequest `json:"products"`
	Items          []cartLineRequest `json:"items"`
	ShippingMethod string            `json:"shippingMethod"`
	UserID         string            `json:"userId"`
}

type couponPayload struct {
	Code              string   `json:"code"`
	Description       string   `json:"description,omitempty"`
	Type              string   `json:"type"`
	Value             float64  `json:"value"`
	MaxDiscountAmount int64    `json:"maxDiscountAmount,omitempty"`
	MinPurchaseAmount int64    `json:"minPurchaseAmount,omitempty"`
	StartsAt          string   `json:"startsAt,omitempty"`
	EndsAt            string   `json:"endsAt,omitempty"`
	UsageLimit        int      `json:"usageLimit,omitempty"`
	PerCustomerLimit  int      `json:"perCustomerLimit,omitempty"`
	UsageCount        int      `json:"usageCount"`
	Scope             string   `json:"scope,omitempty"`
	ProductIDs        []string `json:"productIds,omitempty"`
	CategoryIDs       []string `json:"categoryIds,omitempty"`
	ExcludedProducts  []string `json:"excludedProducts,omitempty"`
	ExcludedCategory  []string `json:"excludedCategories,omitempty"`
	CustomerType      string   `json:"customerType,omitempty"`
	FirstPurchaseOnly bool     `json:"firstPurchaseOnly"`
	ValidDays         []string `json:"validDays,omitempty"`
	StartHour         *int     `json:"startHour,omitempty"`
	EndHour           *int     `json:"endHour,omitempty"`
	BuyQuantity       int      `json:"buyQuantity,omitempty"`
	GetQuantity       int      `json:"getQuantity,omitempty"`
	GetProductID      string   `json:"getProductId,omitempty"`
	Active            bool     `json:"active"`
	Status            string   `json:"status,omitempty"`
	CreatedAt         string   `json:"createdAt,omitempty"`
	UpdatedAt         string   `json:"updatedAt,omitempty"`
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req validateCouponRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	userID := actorID(ctx)
	if userID == "" {
		userID = strings.TrimSpace(req.UserID)
	}
	eval, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:           firstNonEmpty(req.Code, req.CouponCode),
		UserID:         userID,
		Lines:          cartLines(req.Products, req.Items),
		ShippingMethod: strings.TrimSpace(req.ShippingMethod),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCouponEvaluation(eval))
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, ok := parsePage(w, r, couponPageOptions)
	if !ok {
		return
	}
	filter := services.CouponListFilter{Pagination: page}
	for _, status := range parseFilterValues(r.URL.Query()["status"]) {
		filter.Status = append(filter.Status, domain.CouponStatus(status))
	}
	result, err := h.coupons.ListCoupons(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]couponPayload, 0, len(result.Items))
	for _, coupon := range result.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[couponPayload]{Items: items, NextPageToken: result.NextPageToken})
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	coupon, err := h.coupons.GetCoupon(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	coupon, ok := decodeCoupon(w, r)
	if !ok {
		return
	}
	created, err := h.coupons.CreateCoupon(ctx, services.UpsertCouponCommand{Coupon: coupon, ActorID: actorID(ctx)})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, couponResponse{Coupon: buildCouponPayload(created)})
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	coupon, ok := decodeCoupon(w, r)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")
	if coupon.Code != "" && !strings.EqualFold(coupon.Code, code) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon code cannot be changed", http.StatusBadRequest))
		return
	}
	coupon.Code = code
	updated, err := h.coupons.UpdateCoupon(ctx, services.UpsertCouponCommand{Coupon: coupon, ActorID: actorID(ctx)})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(updated)})
}

func (h *CouponHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.coupons.DeleteCoupon(ctx, chi.URLParam(r, "code")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeCoupon(w http.ResponseWriter, r *http.Request) (domain.Coupon, bool) {
	var payload couponPayload
	if !decodeBody(w, r, &payload, maxJSONBodySize) {
		return domain.Coupon{}, false
	}
	coupon, err := payload.toDomain()
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return domain.Coupon{}, false
	}
	return coupon, true
}

func (p couponPayload) toDomain() (domain.Coupon, error) {
	startsAt, err := parseTimeField(p.StartsAt)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("startsAt %w", err)
	}
	endsAt, err := parseTimeField(p.EndsAt)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("endsAt %w", err)
	}
	days, err := parseWeekdays(p.ValidDays)
	if err != nil {
		return domain.Coupon{}, err
	}
	return domain.Coupon{
		Code:              strings.TrimSpace(p.Code),
		Description:       strings.TrimSpace(p.Description),
		Type:              domain.DiscountType(strings.ToLower(strings.TrimSpace(p.Type))),
		Value:             p.Value,
		MaxDiscountAmount: p.MaxDiscountAmount,
		MinPurchaseAmount: p.MinPurchaseAmount,
		StartsAt:          startsAt,
		EndsAt:            endsAt,
		UsageLimit:        p.UsageLimit,
		PerCustomerLimit:  p.PerCustomerLimit,
		Scope:             domain.CouponScope(strings.ToLower(strings.TrimSpace(p.Scope))),
		ProductIDs:        p.ProductIDs,
		CategoryIDs:       p.CategoryIDs,
		ExcludedProducts:  p.ExcludedProducts,
		ExcludedCategory:  p.ExcludedCategory,
		CustomerType:      domain.CustomerType(strings.ToLower(strings.TrimSpace(p.CustomerType))),
		FirstPurchaseOnly: p.FirstPurchaseOnly,
		ValidDays:         days,
		StartHour:         p.StartHour,
		EndHour:           p.EndHour,
		BuyQuantity:       p.BuyQuantity,
		GetQuantity:       p.GetQuantity,
		GetProductID:      strings.TrimSpace(p.GetProductID),
		Active:            p.Active,
	}, nil
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	days := make([]string, 0, len(coupon.ValidDays))
	for _, day := range coupon.ValidDays {
		days = append(days, strings.ToLower(day.String()))
	}
	return couponPayload{
		Code:              coupon.Code,
		Description:       coupon.Description,
		Type:              string(coupon.Type),
		Value:             coupon.Value,
		MaxDiscountAmount: coupon.MaxDiscountAmount,
		MinPurchaseAmount: coupon.MinPurchaseAmount,
		StartsAt:          formatTimePtr(coupon.StartsAt),
		EndsAt:            formatTimePtr(coupon.EndsAt),
		UsageLimit:        coupon.UsageLimit,
		PerCustomerLimit:  coupon.PerCustomerLimit,
		UsageCount:        coupon.UsageCount,
		Scope:             string(coupon.Scope),
		ProductIDs:        coupon.ProductIDs,
		CategoryIDs:       coupon.CategoryIDs,
		ExcludedProducts:  coupon.ExcludedProducts,
		ExcludedCategory:  coupon.ExcludedCategory,
		CustomerType:      string(coupon.CustomerType),
		FirstPurchaseOnly: coupon.FirstPurchaseOnly,
		ValidDays:         days,
		StartHour:         coupon.StartHour,
		EndHour:           coupon.EndHour,
		BuyQuantity:       coupon.BuyQuantity,
		GetQuantity:       coupon.GetQuantity,
		GetProductID:      coupon.GetProductID,
		Active:            coupon.Active,
		Status:            string(coupon.Status),
		CreatedAt:         formatTime(coupon.CreatedAt),
		UpdatedAt:         formatTime(coupon.UpdatedAt),
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekdays(values []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(values))
	for _, value := range values {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(value))]
		if !ok {
			return nil, fmt.Errorf("validDays: unknown weekday %q", value)
		}
		days = append(days, day)
	}
	return days, nil
}
