package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/payments"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

// Webhook actions reported back to the HTTP layer.
const (
	WebhookActionIgnored       = "ignored"
	WebhookActionNoted         = "noted"
	WebhookActionPaymentFailed = "payment_failed"
	WebhookActionCancelled     = "cancelled"
)

const (
	stripeEventSucceeded      = "payment_intent.succeeded"
	stripeEventPaymentFailed  = "payment_intent.payment_failed"
	stripeEventRequiresAction = "payment_intent.requires_action"
	stripeEventCanceled       = "payment_intent.canceled"
)

var (
	// ErrPaymentWebhookInvalid indicates the webhook payload or signature could not be verified.
	ErrPaymentWebhookInvalid = errors.New("payment: invalid webhook")
	// ErrPaymentProviderUnavailable indicates the provider is not configured.
	ErrPaymentProviderUnavailable = errors.New("payment: provider unavailable")
)

// StripeWebhookVerifier checks Stripe-Signature headers and decodes events.
type StripeWebhookVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (payments.StripeEvent, error)
}

// TabbyEligibilityChecker pre-scores carts for Tabby installments.
type TabbyEligibilityChecker interface {
	CheckEligibility(ctx context.Context, req payments.CreatePaymentRequest) (payments.Eligibility, error)
}

// PaymentServiceDeps bundles collaborators for webhook processing.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	OrderService  OrderService
	Users         UserService
	Fulfillment   FulfillmentService
	Notifications NotificationService
	Stripe        StripeWebhookVerifier
	Tabby         TabbyEligibilityChecker
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	orderService  OrderService
	users         UserService
	fulfillment   FulfillmentService
	notifications NotificationService
	stripe        StripeWebhookVerifier
	tabby         TabbyEligibilityChecker
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService wires the webhook handlers onto the order store and fulfillment handler.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("payment service: fulfillment service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:        deps.Orders,
		orderService:  deps.OrderService,
		users:         deps.Users,
		fulfillment:   deps.Fulfillment,
		notifications: deps.Notifications,
		stripe:        deps.Stripe,
		tabby:         deps.Tabby,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *paymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error) {
	if s.stripe == nil {
		return WebhookOutcome{}, fmt.Errorf("%w: stripe", ErrPaymentProviderUnavailable)
	}
	event, err := s.stripe.VerifyWebhook(payload, signature)
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("%w: %v", ErrPaymentWebhookInvalid, err)
	}
	outcome := WebhookOutcome{EventType: event.Type, OrderID: event.Payment.OrderID, Action: WebhookActionIgnored}
	s.logger(ctx, "payment.webhook.stripe", map[string]any{
		"eventId":   event.ID,
		"eventType": event.Type,
		"intent":    event.Payment.IntentID,
		"orderId":   event.Payment.OrderID,
	})
	if outcome.OrderID == "" {
		return outcome, nil
	}

	switch event.Type {
	case stripeEventSucceeded:
		return s.fulfill(ctx, outcome)
	case stripeEventPaymentFailed:
		reason := firstNonEmpty(event.Payment.FailureReason, "payment failed")
		return s.markFailed(ctx, outcome, event.Payment, "stripe payment failed: "+reason)
	case stripeEventRequiresAction:
		return s.note(ctx, outcome, event.Payment, "stripe payment requires customer action")
	case stripeEventCanceled:
		return s.cancel(ctx, outcome, event.Payment, "stripe payment canceled")
	}
	return outcome, nil
}

func (s *paymentService) HandleTabbyWebhook(ctx context.Context, payload []byte) (WebhookOutcome, error) {
	details, err := payments.ParseTabbyWebhook(payload)
	if err != nil {
		return WebhookOutcome{}, fmt.Errorf("%w: %v", ErrPaymentWebhookInvalid, err)
	}
	outcome := WebhookOutcome{EventType: details.ProviderStatus, OrderID: details.OrderID, Action: WebhookActionIgnored}
	s.logger(ctx, "payment.webhook.tabby", map[string]any{
		"paymentId":   details.IntentID,
		"status":      details.ProviderStatus,
		"orderId":     details.OrderID,
		"orderNumber": details.OrderNumber,
	})
	if outcome.OrderID == "" {
		return outcome, nil
	}

	switch details.Status {
	case payments.StatusAuthorized, payments.StatusSucceeded:
		return s.fulfill(ctx, outcome)
	case payments.StatusFailed:
		return s.markFailed(ctx, outcome, details, "tabby payment rejected")
	case payments.StatusCanceled:
		return s.cancel(ctx, outcome, details, "tabby payment expired")
	}
	return outcome, nil
}

// CheckTabbyEligibility prices the cart and asks Tabby whether installments are offered.
func (s *paymentService) CheckTabbyEligibility(ctx context.Context, cmd TabbyEligibilityCommand) (payments.Eligibility, error) {
	if s.tabby == nil || s.orderService == nil {
		return payments.Eligibility{}, fmt.Errorf("%w: tabby", ErrPaymentProviderUnavailable)
	}
	summary, err := s.orderService.SummarizeOrder(ctx, SummarizeOrderCommand{
		UserID:         cmd.UserID,
		Lines:          cmd.Lines,
		CouponCode:     cmd.CouponCode,
		ShippingMethod: cmd.ShippingMethod,
	})
	if err != nil {
		return payments.Eligibility{}, err
	}

	buyer := payments.Buyer{
		Name:  strings.TrimSpace(cmd.Buyer.Name),
		Email: strings.ToLower(strings.TrimSpace(cmd.Buyer.Email)),
		Phone: strings.TrimSpace(cmd.Buyer.Phone),
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && s.users != nil {
		user, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return payments.Eligibility{}, err
		}
		buyer.Name = firstNonEmpty(buyer.Name, user.Name)
		buyer.Email = firstNonEmpty(buyer.Email, user.Email)
		buyer.Phone = firstNonEmpty(buyer.Phone, user.Phone)
		buyer.RegisteredSince = user.CreatedAt
		buyer.OrdersCount = user.OrdersCount
	}
	if buyer.Email == "" || buyer.Phone == "" {
		return payments.Eligibility{}, fmt.Errorf("%w: buyer email and phone are required", ErrOrderInvalidInput)
	}

	items := make([]payments.LineItem, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		items = append(items, payments.LineItem{
			ReferenceID: line.ProductID,
			Title:       line.Name,
			Quantity:    int64(line.Quantity),
			UnitAmount:  line.UnitPrice,
		})
	}
	eligibility, err := s.tabby.CheckEligibility(ctx, payments.CreatePaymentRequest{
		OrderID:        "eligibility-" + s.newID(),
		Amount:         summary.Totals.Total,
		Currency:       summary.Totals.Currency,
		Buyer:          buyer,
		Items:          items,
		ShippingAmount: summary.Totals.Shipping,
		TaxAmount:      summary.Totals.Tax,
		DiscountAmount: summary.Totals.Discount,
		Language:       cmd.Language,
	})
	if err != nil {
		return payments.Eligibility{}, fmt.Errorf("%w: tabby eligibility: %v", ErrFulfillmentGateway, err)
	}
	return eligibility, nil
}

func (s *paymentService) fulfill(ctx context.Context, outcome WebhookOutcome) (WebhookOutcome, error) {
	result, err := s.fulfillment.FulfillOrder(ctx, outcome.OrderID)
	if err != nil {
		return outcome, err
	}
	outcome.Action = string(result.Outcome)
	return outcome, nil
}

// markFailed records a payment failure on an order that has not been fulfilled yet.
func (s *paymentService) markFailed(ctx context.Context, outcome WebhookOutcome, details payments.PaymentDetails, note string) (WebhookOutcome, error) {
	now := s.clock()
	applied, _, err := s.transitionUnfulfilled(ctx, outcome.OrderID, details, repositories.OrderTransitionRequest{
		OrderID:       outcome.OrderID,
		From:          fulfillableStatuses,
		PaymentStatus: domain.PaymentStatusFailed,
		History:       s.historyEntry(note, domain.HistoryLevelWarning, now),
		Now:           now,
	})
	if err != nil || !applied {
		return outcome, err
	}
	outcome.Action = WebhookActionPaymentFailed
	return outcome, nil
}

func (s *paymentService) cancel(ctx context.Context, outcome WebhookOutcome, details payments.PaymentDetails, note string) (WebhookOutcome, error) {
	now := s.clock()
	applied, order, err := s.transitionUnfulfilled(ctx, outcome.OrderID, details, repositories.OrderTransitionRequest{
		OrderID:       outcome.OrderID,
		From:          fulfillableStatuses,
		To:            domain.OrderStatusCancelled,
		PaymentStatus: domain.PaymentStatusFailed,
		MarkCancel:    true,
		History:       s.historyEntry(note, domain.HistoryLevelWarning, now),
		Now:           now,
	})
	if err != nil || !applied {
		return outcome, err
	}
	if s.notifications != nil {
		if err := s.notifications.OrderCancelled(ctx, order); err != nil {
			s.logger(ctx, "payment.webhook.notification.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
	outcome.Action = WebhookActionCancelled
	return outcome, nil
}

func (s *paymentService) note(ctx context.Context, outcome WebhookOutcome, details payments.PaymentDetails, note string) (WebhookOutcome, error) {
	order, err := s.orders.FindByID(ctx, outcome.OrderID)
	if err != nil {
		return outcome, mapOrderRepositoryError(err)
	}
	if !paymentMatches(order, details) {
		return outcome, nil
	}
	if err := s.orders.AppendHistory(ctx, order.ID, s.historyEntry(note, domain.HistoryLevelInfo, s.clock())); err != nil {
		return outcome, mapOrderRepositoryError(err)
	}
	outcome.Action = WebhookActionNoted
	return outcome, nil
}

// transitionUnfulfilled applies req when the event belongs to the order's current payment.
func (s *paymentService) transitionUnfulfilled(ctx context.Context, orderID string, details payments.PaymentDetails, req repositories.OrderTransitionRequest) (bool, domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return false, domain.Order{}, mapOrderRepositoryError(err)
	}
	if !paymentMatches(order, details) {
		s.logger(ctx, "payment.webhook.stale", map[string]any{
			"orderId": order.ID,
			"intent":  details.IntentID,
			"current": order.Payment.IntentID,
		})
		return false, order, nil
	}
	result, err := s.orders.Transition(ctx, req)
	if err != nil {
		return false, domain.Order{}, mapOrderRepositoryError(err)
	}
	return result.Applied, result.Order, nil
}

func (s *paymentService) historyEntry(note string, level domain.HistoryLevel, now time.Time) domain.OrderHistoryEntry {
	return domain.OrderHistoryEntry{
		ID:        historyEntryIDPrefix + s.newID(),
		Note:      note,
		Actor:     orderActorSystem,
		Level:     level,
		CreatedAt: now,
	}
}

// paymentMatches rejects events for superseded payment attempts.
func paymentMatches(order domain.Order, details payments.PaymentDetails) bool {
	return order.Payment.IntentID == "" || details.IntentID == "" || order.Payment.IntentID == details.IntentID
}
