package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/pagination"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/requestctx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

const (
	maxJSONBodySize   = 1 << 20
	maxImportBodySize = 10 << 20
)

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// decodeBody writes the 400/413 response itself and reports whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	err := httpx.DecodeJSON(r, dst, limit)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
	}
	return false
}

func parsePage(w http.ResponseWriter, r *http.Request, opts pagination.Options) (services.Pagination, bool) {
	page, err := pagination.Parse(r.URL.Query(), opts)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.Pagination{}, false
	}
	return page, true
}

func currentIdentity(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UserID) == "" {
		return nil, false
	}
	return identity, true
}

func actorID(ctx context.Context) string {
	if identity, ok := currentIdentity(ctx); ok {
		return identity.UserID
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTimeParam(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp or YYYY-MM-DD date")
}

// parseTimeField turns an optional RFC3339 JSON string into a pointer.
func parseTimeField(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	ts, err := parseTimeParam(value)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// parseFilterValues accepts repeated and comma separated query values.
func parseFilterValues(values []string) []string {
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// writeServiceError maps service sentinels onto the HTTP error envelope. Business rejections are
// 422 with a reason, gateway failures 502 and unavailable dependencies 503.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var rejection *services.CouponRejection
	if errors.As(err, &rejection) {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", firstNonEmpty(rejection.Message, "coupon cannot be applied"), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(rejection.Reason), "code": rejection.Code}))
		return
	}

	switch {
	case errors.Is(err, services.ErrProductUnavailable):
		details := map[string]any{"reason": "product_unavailable"}
		var unavailable *services.ProductUnavailableError
		if errors.As(err, &unavailable) {
			details["reason"] = unavailable.Reason
			details["productId"] = unavailable.ProductID
		}
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity).
			WithDetails(details))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "at least one product is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrUserBlocked):
		httpx.WriteError(ctx, w, httpx.NewError("user_blocked", "account is blocked", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another customer", http.StatusForbidden))
	case errors.Is(err, services.ErrCatalogImportSource):
		httpx.WriteError(ctx, w, httpx.NewError("import_source_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrMerchantNotConnected):
		httpx.WriteError(ctx, w, httpx.NewError("merchant_not_connected", "merchant center account is not connected", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentWebhookInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", err.Error(), http.StatusBadRequest))
	case isAny(err, services.ErrOrderNotFound, services.ErrCouponNotFound, services.ErrCatalogNotFound,
		services.ErrContentNotFound, services.ErrUserNotFound, services.ErrMerchantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", notFoundMessage(err), http.StatusNotFound))
	case isAny(err, services.ErrOrderInvalidInput, services.ErrCouponInvalidInput, services.ErrCouponInvalidCode,
		services.ErrCatalogInvalidInput, services.ErrContentInvalidInput, services.ErrSettingsInvalidInput,
		services.ErrMerchantInvalidInput, services.ErrUserInvalidInput, services.ErrCartInvalidLine,
		services.ErrShippingMethodUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case isAny(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case isAny(err, services.ErrOrderConflict, services.ErrCouponConflict, services.ErrCatalogConflict,
		services.ErrContentConflict, services.ErrFulfillmentPaymentMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case isAny(err, services.ErrOrderPaymentInitFailed, services.ErrFulfillmentGateway):
		logServiceError(ctx, err)
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment provider request failed", http.StatusBadGateway))
	case isAny(err, services.ErrOrderPaymentUnavailable, services.ErrPaymentProviderUnavailable,
		services.ErrSettingsUnavailable, services.ErrMerchantUnavailable, services.ErrCatalogMediaUnavailable) || isRepositoryUnavailable(err):
		logServiceError(ctx, err)
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "dependency temporarily unavailable", http.StatusServiceUnavailable))
	default:
		logServiceError(ctx, err)
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, what string) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", what+" unavailable", http.StatusServiceUnavailable))
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isRepositoryUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, services.ErrCouponNotFound):
		return "coupon not found"
	case errors.Is(err, services.ErrCatalogNotFound), errors.Is(err, services.ErrMerchantNotFound):
		return "product not found"
	case errors.Is(err, services.ErrUserNotFound):
		return "user not found"
	}
	return "content not found"
}

func logServiceError(ctx context.Context, err error) {
	requestctx.Logger(ctx).Error("handler: request failed", zap.Error(err))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
