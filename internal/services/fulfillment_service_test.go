package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/payments"
)

type stubGateway struct {
	mu         sync.Mutex
	session    payments.PaymentSession
	createErr  error
	details    map[string]payments.PaymentDetails
	lookupErr  error
	captured   payments.PaymentDetails
	captureErr error
	created    []payments.CreatePaymentRequest
	captures   int
}

func (g *stubGateway) Supports(provider string) bool {
	return provider == payments.ProviderStripe || provider == payments.ProviderTabby
}

func (g *stubGateway) CreatePayment(_ context.Context, paymentCtx payments.PaymentContext, req payments.CreatePaymentRequest) (payments.PaymentSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.createErr != nil {
		return payments.PaymentSession{}, g.createErr
	}
	session := g.session
	session.Provider = paymentCtx.PreferredProvider
	return session, nil
}

func (g *stubGateway) LookupPayment(_ context.Context, _ payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return payments.PaymentDetails{}, g.lookupErr
	}
	details, ok := g.details[req.IntentID]
	if !ok {
		return payments.PaymentDetails{}, fmt.Errorf("intent %s not found", req.IntentID)
	}
	return details, nil
}

func (g *stubGateway) Capture(_ context.Context, _ payments.PaymentContext, _ payments.CaptureRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	return g.captured, g.captureErr
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%04d", n.Add(1))
	}
}

func newTestFulfillment(t *testing.T, orders *memoryOrderRepo, gateway PaymentGateway, notifier *recordingNotifier) FulfillmentService {
	t.Helper()
	deps := FulfillmentServiceDeps{
		Orders:      orders,
		Settings:    staticSettings{settings: testStoreSettings()},
		Clock:       fixedClock(couponTestNow),
		IDGenerator: sequentialIDs(),
	}
	if notifier != nil {
		deps.Notifications = notifier
	}
	if gateway != nil {
		deps.Payments = gateway
	}
	svc, err := NewFulfillmentService(deps)
	if err != nil {
		t.Fatalf("new fulfillment service: %v", err)
	}
	return svc
}

func pendingOrder(id string, method domain.PaymentMethod, items ...domain.OrderLineItem) domain.Order {
	var total int64
	for _, item := range items {
		total += item.Subtotal
	}
	return domain.Order{
		ID:            id,
		OrderNumber:   "ELV-260304-0001",
		UserID:        "usr_1",
		Items:         items,
		Totals:        domain.OrderTotals{Currency: "AED", Subtotal: total, Total: total},
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: method,
	}
}

func TestFulfillmentCODConcurrentCallsDecrementOnce(t *testing.T) {
	products := testProducts()
	orders := newMemoryOrderRepo(products, nil, nil)
	orders.put(pendingOrder("ord_cod", domain.PaymentMethodCOD,
		domain.OrderLineItem{ProductID: "prod_rose", Quantity: 2, UnitPrice: 10000, Subtotal: 20000},
	))
	notifier := &recordingNotifier{}
	svc := newTestFulfillment(t, orders, nil, notifier)

	const callers = 8
	outcomes := make([]FulfillmentOutcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.FulfillOrder(context.Background(), "ord_cod")
			if err != nil {
				t.Errorf("fulfill: %v", err)
				return
			}
			outcomes[i] = result.Outcome
		}()
	}
	wg.Wait()

	fulfilled := 0
	for _, outcome := range outcomes {
		switch outcome {
		case FulfillmentFulfilled:
			fulfilled++
		case FulfillmentAlreadyFulfilled:
		default:
			t.Fatalf("unexpected outcome %q", outcome)
		}
	}
	if fulfilled != 1 {
		t.Fatalf("expected exactly one fulfilled call, got %d", fulfilled)
	}
	if got := products.stock("prod_rose"); got != 3 {
		t.Fatalf("expected stock decremented once to 3, got %d", got)
	}
	order := orders.get("ord_cod")
	if order.Status != domain.OrderStatusProcessing || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected order state %s/%s", order.Status, order.PaymentStatus)
	}
	if len(notifier.placed) != 1 {
		t.Fatalf("expected one confirmation email, got %d", len(notifier.placed))
	}
}

func TestFulfillmentStripeIncompletePaymentLeavesOrderPending(t *testing.T) {
	products := testProducts()
	orders := newMemoryOrderRepo(products, nil, nil)
	order := pendingOrder("ord_stripe", domain.PaymentMethodStripe,
		domain.OrderLineItem{ProductID: "prod_rose", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
	)
	order.Payment = domain.PaymentReference{Provider: "stripe", IntentID: "pi_1"}
	orders.put(order)
	gateway := &stubGateway{details: map[string]payments.PaymentDetails{
		"pi_1": {IntentID: "pi_1", OrderID: "ord_stripe", Amount: 10000, AmountReceived: 4000, ProviderStatus: "processing"},
	}}
	svc := newTestFulfillment(t, orders, gateway, &recordingNotifier{})

	result, err := svc.FulfillOrder(context.Background(), "ord_stripe")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if result.Outcome != FulfillmentPaymentIncomplete {
		t.Fatalf("expected payment_incomplete, got %s", result.Outcome)
	}
	if got := orders.get("ord_stripe"); got.Status != domain.OrderStatusPending || got.StockCommitted {
		t.Fatalf("expected untouched pending order, got %+v", got)
	}
	if products.stock("prod_rose") != 5 {
		t.Fatalf("stock must not change")
	}
}

func TestFulfillmentStripeRequiresCapturedCharge(t *testing.T) {
	orders := newMemoryOrderRepo(testProducts(), nil, nil)
	order := pendingOrder("ord_charge", domain.PaymentMethodStripe,
		domain.OrderLineItem{ProductID: "prod_rose", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
	)
	order.Payment = domain.PaymentReference{IntentID: "pi_2"}
	orders.put(order)
	gateway := &stubGateway{details: map[string]payments.PaymentDetails{
		"pi_2": {IntentID: "pi_2", Amount: 10000, AmountReceived: 10000, HasCharge: true, ChargePaid: true, Captured: false},
	}}
	svc := newTestFulfillment(t, orders, gateway, &recordingNotifier{})

	result, err := svc.FulfillOrder(context.Background(), "ord_charge")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if result.Outcome != FulfillmentPaymentIncomplete {
		t.Fatalf("expected payment_incomplete for uncaptured charge, got %s", result.Outcome)
	}

	gateway.details["pi_2"] = payments.PaymentDetails{IntentID: "pi_2", Amount: 10000, AmountReceived: 10000, HasCharge: true, ChargePaid: true, Captured: true}
	result, err = svc.FulfillOrder(context.Background(), "ord_charge")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if result.Outcome != FulfillmentFulfilled || result.Order.PaymentStatus != domain.PaymentStatusPaid || result.Order.PaidAt == nil {
		t.Fatalf("expected paid processing order, got %+v", result)
	}
}

func TestFulfillmentTabbyAuthorizedCaptures(t *testing.T) {
	orders := newMemoryOrderRepo(testProducts(), nil, nil)
	order := pendingOrder("ord_tabby", domain.PaymentMethodTabby,
		domain.OrderLineItem{ProductID: "prod_musk", Quantity: 1, UnitPrice: 4000, Subtotal: 4000},
	)
	order.Payment = domain.PaymentReference{IntentID: "tb_1"}
	orders.put(order)
	gateway := &stubGateway{
		details: map[string]payments.PaymentDetails{
			"tb_1": {IntentID: "tb_1", OrderID: "ord_tabby", Status: payments.StatusAuthorized, Amount: 4000},
		},
		captured: payments.PaymentDetails{IntentID: "tb_1", Status: payments.StatusSucceeded, Captured: true},
	}
	notifier := &recordingNotifier{}
	svc := newTestFulfillment(t, orders, gateway, notifier)

	result, err := svc.FulfillOrder(context.Background(), "ord_tabby")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if gateway.captures != 1 {
		t.Fatalf("expected one capture, got %d", gateway.captures)
	}
	if result.Order.Status != domain.OrderStatusProcessing || result.Order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected order state %s/%s", result.Order.Status, result.Order.PaymentStatus)
	}
	if len(result.LowStock) != 1 || result.LowStock[0].ProductID != "prod_musk" || result.LowStock[0].Stock != 0 {
		t.Fatalf("expected low stock alert for prod_musk, got %+v", result.LowStock)
	}
	if len(notifier.lowStock) != 1 {
		t.Fatalf("expected low stock email, got %d", len(notifier.lowStock))
	}
}

func TestFulfillmentTabbyCaptureFailureKeepsAuthorized(t *testing.T) {
	orders := newMemoryOrderRepo(testProducts(), nil, nil)
	order := pendingOrder("ord_tabby2", domain.PaymentMethodTabby,
		domain.OrderLineItem{ProductID: "prod_rose", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
	)
	order.Payment = domain.PaymentReference{IntentID: "tb_2"}
	orders.put(order)
	gateway := &stubGateway{
		details:    map[string]payments.PaymentDetails{"tb_2": {IntentID: "tb_2", Status: payments.StatusAuthorized, Amount: 10000}},
		captureErr: errors.New("tabby unavailable"),
	}
	svc := newTestFulfillment(t, orders, gateway, &recordingNotifier{})

	result, err := svc.FulfillOrder(context.Background(), "ord_tabby2")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if result.Order.PaymentStatus != domain.PaymentStatusAuthorized {
		t.Fatalf("expected authorized, got %s", result.Order.PaymentStatus)
	}
	history := orders.get("ord_tabby2").History
	last := history[len(history)-1]
	if last.Level != domain.HistoryLevelWarning {
		t.Fatalf("expected warning history entry, got %+v", last)
	}
}

func TestFulfillmentNotificationFailureAppendsWarning(t *testing.T) {
	orders := newMemoryOrderRepo(testProducts(), nil, nil)
	orders.put(pendingOrder("ord_mail", domain.PaymentMethodCOD,
		domain.OrderLineItem{ProductID: "prod_rose", Quantity: 1, UnitPrice: 10000, Subtotal: 10000},
	))
	svc := newTestFulfillment(t, orders, nil, &recordingNotifier{failWith: errors.New("smtp down")})

	result, err := svc.FulfillOrder(context.Background(), "ord_mail")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if result.Outcome != FulfillmentFulfilled {
		t.Fatalf("email failure must not block fulfillment, got %s", result.Outcome)
	}
	history := orders.get("ord_mail").History
	if len(history) != 2 || history[1].Level != domain.HistoryLevelWarning {
		t.Fatalf("expected info then warning entries, got %+v", history)
	}
}

func TestFulfillmentRejectsMissingAndCancelledOrders(t *testing.T) {
	orders := newMemoryOrderRepo(testProducts(), nil, nil)
	cancelled := pendingOrder("ord_cancelled", domain.PaymentMethodCOD)
	cancelled.Status = domain.OrderStatusCancelled
	orders.put(cancelled)
	svc := newTestFulfillment(t, orders, nil, nil)
	ctx := context.Background()

	if _, err := svc.FulfillOrder(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.FulfillOrder(ctx, "ord_cancelled"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := svc.FulfillOrder(ctx, " "); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestFulfillmentPaymentMismatch(t *testing.T) {
	orders := newMemoryOrderRepo(testProducts(), nil, nil)
	order := pendingOrder("ord_a", domain.PaymentMethodStripe)
	order.Payment = domain.PaymentReference{IntentID: "pi_other"}
	orders.put(order)
	gateway := &stubGateway{details: map[string]payments.PaymentDetails{
		"pi_other": {IntentID: "pi_other", OrderID: "ord_b", Amount: 100, AmountReceived: 100},
	}}
	svc := newTestFulfillment(t, orders, gateway, nil)

	if _, err := svc.FulfillOrder(context.Background(), "ord_a"); !errors.Is(err, ErrFulfillmentPaymentMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}
