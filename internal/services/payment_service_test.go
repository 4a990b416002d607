package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/payments"
)

type stubStripeVerifier struct {
	event payments.StripeEvent
	err   error
}

func (v stubStripeVerifier) VerifyWebhook([]byte, string) (payments.StripeEvent, error) {
	return v.event, v.err
}

type stubTabbyChecker struct {
	requests []payments.CreatePaymentRequest
	result   payments.Eligibility
	err      error
}

func (c *stubTabbyChecker) CheckEligibility(_ context.Context, req payments.CreatePaymentRequest) (payments.Eligibility, error) {
	c.requests = append(c.requests, req)
	return c.result, c.err
}

func newTestPaymentService(t *testing.T, f *orderFixture, verifier StripeWebhookVerifier, tabby TabbyEligibilityChecker) PaymentService {
	t.Helper()
	users, err := NewUserService(UserServiceDeps{Users: f.users})
	if err != nil {
		t.Fatalf("new user service: %v", err)
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:        f.orders,
		OrderService:  f.svc,
		Users:         users,
		Fulfillment:   f.fulfill,
		Notifications: f.notifier,
		Stripe:        verifier,
		Tabby:         tabby,
		Clock:         fixedClock(couponTestNow),
		IDGenerator:   sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func stripeOrder(id, intent string) domain.Order {
	order := pendingOrder(id, domain.PaymentMethodStripe,
		domain.OrderLineItem{ProductID: "prod_rose", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
	)
	order.Payment = domain.PaymentReference{Provider: payments.ProviderStripe, IntentID: intent}
	return order
}

func TestPaymentServiceStripeSucceededFulfills(t *testing.T) {
	f := newOrderFixture(t, testStoreSettings())
	f.orders.put(stripeOrder("ord_s1", "pi_s1"))
	f.gateway.details = map[string]payments.PaymentDetails{
		"pi_s1": {IntentID: "pi_s1", OrderID: "ord_s1", Amount: 10000, AmountReceived: 10000},
	}
	svc := newTestPaymentService(t, f, stubStripeVerifier{event: payments.StripeEvent{
		ID: "evt_1", Type: "payment_intent.succeeded",
		Payment: payments.PaymentDetails{IntentID: "pi_s1", OrderID: "ord_s1"},
	}}, nil)

	outcome, err := svc.HandleStripeWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if outcome.Action != string(FulfillmentFulfilled) || outcome.OrderID != "ord_s1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if got := f.orders.get("ord_s1"); got.Status != domain.OrderStatusProcessing || got.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected order state %s/%s", got.Status, got.PaymentStatus)
	}

	replay, err := svc.HandleStripeWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Action != string(FulfillmentAlreadyFulfilled) {
		t.Fatalf("expected replay to be a no-op, got %+v", replay)
	}
}

func TestPaymentServiceStripeFailureEvents(t *testing.T) {
	f := newOrderFixture(t, testStoreSettings())
	f.orders.put(stripeOrder("ord_f", "pi_f"))
	f.orders.put(stripeOrder("ord_c", "pi_c_current"))
	ctx := context.Background()

	failed := newTestPaymentService(t, f, stubStripeVerifier{event: payments.StripeEvent{
		Type:    "payment_intent.payment_failed",
		Payment: payments.PaymentDetails{IntentID: "pi_f", OrderID: "ord_f", FailureReason: "card declined"},
	}}, nil)
	outcome, err := failed.HandleStripeWebhook(ctx, nil, "")
	if err != nil {
		t.Fatalf("failed webhook: %v", err)
	}
	order := f.orders.get("ord_f")
	if outcome.Action != WebhookActionPaymentFailed || order.PaymentStatus != domain.PaymentStatusFailed || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected failure handling %+v / %s/%s", outcome, order.Status, order.PaymentStatus)
	}
	if note := order.History[len(order.History)-1].Note; note != "stripe payment failed: card declined" {
		t.Fatalf("unexpected history note %q", note)
	}

	stale := newTestPaymentService(t, f, stubStripeVerifier{event: payments.StripeEvent{
		Type:    "payment_intent.canceled",
		Payment: payments.PaymentDetails{IntentID: "pi_c_old", OrderID: "ord_c"},
	}}, nil)
	outcome, err = stale.HandleStripeWebhook(ctx, nil, "")
	if err != nil {
		t.Fatalf("stale webhook: %v", err)
	}
	if outcome.Action != WebhookActionIgnored || f.orders.get("ord_c").Status != domain.OrderStatusPending {
		t.Fatalf("expected stale cancel to be ignored, got %+v", outcome)
	}

	cancel := newTestPaymentService(t, f, stubStripeVerifier{event: payments.StripeEvent{
		Type:    "payment_intent.canceled",
		Payment: payments.PaymentDetails{IntentID: "pi_c_current", OrderID: "ord_c"},
	}}, nil)
	outcome, err = cancel.HandleStripeWebhook(ctx, nil, "")
	if err != nil {
		t.Fatalf("cancel webhook: %v", err)
	}
	if outcome.Action != WebhookActionCancelled || f.orders.get("ord_c").Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancellation, got %+v", outcome)
	}
	if len(f.notifier.cancelled) != 1 {
		t.Fatalf("expected cancellation email, got %v", f.notifier.cancelled)
	}
}

func TestPaymentServiceStripeRejectsBadSignature(t *testing.T) {
	f := newOrderFixture(t, testStoreSettings())
	svc := newTestPaymentService(t, f, stubStripeVerifier{err: payments.ErrInvalidSignature}, nil)

	if _, err := svc.HandleStripeWebhook(context.Background(), []byte("{}"), "bad"); !errors.Is(err, ErrPaymentWebhookInvalid) {
		t.Fatalf("expected invalid webhook, got %v", err)
	}

	unconfigured := newTestPaymentService(t, f, nil, nil)
	if _, err := unconfigured.HandleStripeWebhook(context.Background(), nil, ""); !errors.Is(err, ErrPaymentProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}

func TestPaymentServiceTabbyWebhook(t *testing.T) {
	f := newOrderFixture(t, testStoreSettings())
	tabbyOrder := pendingOrder("ord_t", domain.PaymentMethodTabby,
		domain.OrderLineItem{ProductID: "prod_rose", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
	)
	tabbyOrder.Payment = domain.PaymentReference{Provider: payments.ProviderTabby, IntentID: "tb_ok"}
	f.orders.put(tabbyOrder)
	rejected := pendingOrder("ord_r", domain.PaymentMethodTabby)
	rejected.Payment = domain.PaymentReference{IntentID: "tb_no"}
	f.orders.put(rejected)
	f.gateway.details = map[string]payments.PaymentDetails{
		"tb_ok": {IntentID: "tb_ok", OrderID: "ord_t", Status: payments.StatusSucceeded, Amount: 10000, Captured: true},
	}
	svc := newTestPaymentService(t, f, nil, nil)
	ctx := context.Background()

	outcome, err := svc.HandleTabbyWebhook(ctx, []byte(`{"id":"tb_ok","status":"closed","amount":"100.00","currency":"AED","meta":{"order_id":"ord_t"}}`))
	if err != nil {
		t.Fatalf("tabby webhook: %v", err)
	}
	if outcome.Action != string(FulfillmentFulfilled) || f.orders.get("ord_t").PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected fulfilled tabby order, got %+v", outcome)
	}

	outcome, err = svc.HandleTabbyWebhook(ctx, []byte(`{"id":"tb_no","status":"REJECTED","amount":"10.00","currency":"AED","meta":{"order_id":"ord_r"}}`))
	if err != nil {
		t.Fatalf("tabby rejected webhook: %v", err)
	}
	if outcome.Action != WebhookActionPaymentFailed || f.orders.get("ord_r").PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %+v", outcome)
	}

	if _, err := svc.HandleTabbyWebhook(ctx, []byte(`not json`)); !errors.Is(err, ErrPaymentWebhookInvalid) {
		t.Fatalf("expected invalid webhook, got %v", err)
	}
}

func TestPaymentServiceTabbyEligibility(t *testing.T) {
	f := newOrderFixture(t, testStoreSettings())
	checker := &stubTabbyChecker{result: payments.Eligibility{Eligible: true}}
	svc := newTestPaymentService(t, f, nil, checker)

	result, err := svc.CheckTabbyEligibility(context.Background(), TabbyEligibilityCommand{
		UserID: "usr_1",
		Lines:  []CartLineInput{{ProductID: "prod_rose", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !result.Eligible || len(checker.requests) != 1 {
		t.Fatalf("unexpected eligibility %+v", result)
	}
	req := checker.requests[0]
	if req.Amount != 10000+500+2500 || req.Buyer.Email != "layla@example.com" || req.Currency != "AED" {
		t.Fatalf("unexpected eligibility request %+v", req)
	}

	if _, err := svc.CheckTabbyEligibility(context.Background(), TabbyEligibilityCommand{
		Lines: []CartLineInput{{ProductID: "prod_rose", Quantity: 1}},
	}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected missing buyer contact to be rejected, got %v", err)
	}
}
