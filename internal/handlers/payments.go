package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/observability"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/requestctx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodySize    = 512 << 10
)

// PaymentHandlers serves pre-checkout payment queries and PSP webhooks.
type PaymentHandlers struct {
	authn          *auth.Authenticator
	payments       services.PaymentService
	tabbySignature func(http.Handler) http.Handler
}

// PaymentHandlersOption customises PaymentHandlers.
type PaymentHandlersOption func(*PaymentHandlers)

// WithTabbySignature verifies Tabby webhook bodies before they reach the service.
func WithTabbySignature(mw func(http.Handler) http.Handler) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.tabbySignature = mw
	}
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...PaymentHandlersOption) *PaymentHandlers {
	h := &PaymentHandlers{authn: authn, payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.authn.Optional(), observability.CaptureIdentity).Post("/tabby/eligibility", h.tabbyEligibility)
}

// WebhookRoutes registers /webhooks endpoints. Stripe requests carry their own signature.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
	tabby := http.Handler(http.HandlerFunc(h.tabbyWebhook))
	if h.tabbySignature != nil {
		tabby = h.tabbySignature(tabby)
	}
	r.Method(http.MethodPost, "/tabby", tabby)
}

type tabbyEligibilityRequest struct {
	Products       []cartLineRequest `json:"products"`
	Items          []cartLineRequest `json:"items"`
	CouponCode     string            `json:"couponCode"`
	ShippingMethod string            `json:"shippingMethod"`
	Customer       customerRequest   `json:"customer"`
	Language       string            `json:"language"`
}

type tabbyEligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	EventType string `json:"eventType,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	Action    string `json:"action,omitempty"`
}

func (h *PaymentHandlers) tabbyEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req tabbyEligibilityRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	result, err := h.payments.CheckTabbyEligibility(ctx, services.TabbyEligibilityCommand{
		UserID: actorID(ctx),
		Buyer: services.ResolveBuyerCommand{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		Lines:          cartLines(req.Products, req.Items),
		CouponCode:     strings.TrimSpace(req.CouponCode),
		ShippingMethod: strings.TrimSpace(req.ShippingMethod),
		Language:       strings.TrimSpace(req.Language),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, tabbyEligibilityResponse{Eligible: result.Eligible, Reason: result.Reason})
}

func (h *PaymentHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	outcome, err := h.payments.HandleStripeWebhook(r.Context(), payload, r.Header.Get(stripeSignatureHeader))
	h.acknowledge(w, r, "stripe", outcome, err)
}

func (h *PaymentHandlers) tabbyWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	outcome, err := h.payments.HandleTabbyWebhook(r.Context(), payload)
	h.acknowledge(w, r, "tabby", outcome, err)
}

// webhookActionRejected reports an event that can never apply to its order.
const webhookActionRejected = "rejected"

// permanentWebhookErrors will fail the same way on every redelivery.
var permanentWebhookErrors = []error{
	services.ErrOrderNotFound,
	services.ErrOrderInvalidState,
	services.ErrOrderInvalidInput,
	services.ErrFulfillmentPaymentMismatch,
}

// acknowledge answers 200 once the event is handled or can never be handled. Invalid signatures
// and transient failures keep their error status so the provider redelivers; fulfillment is
// idempotent.
func (h *PaymentHandlers) acknowledge(w http.ResponseWriter, r *http.Request, provider string, outcome services.WebhookOutcome, err error) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx).With(zap.String("provider", provider))
	if err != nil {
		if !isPermanentWebhookError(err) {
			logger.Warn("webhook: handling failed", zap.Error(err), zap.String("order_id", outcome.OrderID))
			writeServiceError(ctx, w, err)
			return
		}
		logger.Error("webhook: event rejected", zap.Error(err), zap.String("order_id", outcome.OrderID))
		outcome.Action = webhookActionRejected
	} else {
		logger.Info("webhook: handled",
			zap.String("event_type", outcome.EventType),
			zap.String("order_id", outcome.OrderID),
			zap.String("action", outcome.Action),
		)
	}
	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:  true,
		EventType: outcome.EventType,
		OrderID:   outcome.OrderID,
		Action:    outcome.Action,
	})
}

func isPermanentWebhookError(err error) bool {
	return isAny(err, permanentWebhookErrors...)
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	ctx := r.Context()
	if r.Body == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "empty webhook body", http.StatusBadRequest))
		return nil, false
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return nil, false
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body too large", http.StatusRequestEntityTooLarge))
		return nil, false
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "empty webhook body", http.StatusBadRequest))
		return nil, false
	}
	return payload, true
}
