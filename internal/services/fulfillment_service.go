package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/payments"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const fulfillmentMetricNamespace = "github.com/Oashe02/ELVORA-Backend-sub000/internal/services"

var (
	// ErrFulfillmentGateway indicates the payment provider could not be reached or rejected the call.
	ErrFulfillmentGateway = errors.New("fulfillment: payment gateway error")
	// ErrFulfillmentPaymentMismatch indicates the payment reported by the provider belongs to another order.
	ErrFulfillmentPaymentMismatch = errors.New("fulfillment: payment does not match order")
)

// fulfillableStatuses are the states from which an order may be fulfilled.
var fulfillableStatuses = []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusOnHold}

// FulfillmentServiceDeps bundles collaborators for the checkout fulfillment handler.
type FulfillmentServiceDeps struct {
	Orders        repositories.OrderRepository
	Payments      PaymentGateway
	Settings      SettingsService
	Notifications NotificationService
	Meter         metric.Meter
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders        repositories.OrderRepository
	payments      PaymentGateway
	settings      SettingsService
	notifications NotificationService
	outcomes      metric.Int64Counter
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewFulfillmentService constructs the handler that turns paid or COD orders into processing orders.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("fulfillment service: settings service is required")
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
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(fulfillmentMetricNamespace)
	}
	outcomes, err := meter.Int64Counter(
		"orders.fulfillment.outcomes",
		metric.WithDescription("Count of checkout fulfillment attempts by outcome and payment method"),
	)
	if err != nil {
		logger(context.Background(), "fulfillment.metric.register.failed", map[string]any{"error": err.Error()})
	}

	return &fulfillmentService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		settings:      deps.Settings,
		notifications: deps.Notifications,
		outcomes:      outcomes,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// paymentVerdict is the transition a verified payment allows.
type paymentVerdict struct {
	ready         bool
	paymentStatus domain.PaymentStatus
	capture       bool
	note          string
}

func (s *fulfillmentService) FulfillOrder(ctx context.Context, orderID string) (FulfillmentResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return FulfillmentResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return FulfillmentResult{}, mapOrderRepositoryError(err)
	}

	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusOnHold:
	case domain.OrderStatusCancelled, domain.OrderStatusRefunded:
		return FulfillmentResult{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.ID, order.Status)
	default:
		return s.finish(ctx, order, FulfillmentResult{Outcome: FulfillmentAlreadyFulfilled, Order: order}), nil
	}

	verdict, details, err := s.verifyPayment(ctx, order)
	if err != nil {
		return FulfillmentResult{}, err
	}
	if !verdict.ready {
		s.logger(ctx, "fulfillment.payment.incomplete", map[string]any{
			"orderId":        order.ID,
			"paymentMethod":  string(order.PaymentMethod),
			"providerStatus": details.ProviderStatus,
			"amount":         details.Amount,
			"amountReceived": details.AmountReceived,
		})
		return s.finish(ctx, order, FulfillmentResult{Outcome: FulfillmentPaymentIncomplete, Order: order}), nil
	}

	now := s.clock()
	transition, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		OrderID:       order.ID,
		From:          fulfillableStatuses,
		To:            domain.OrderStatusProcessing,
		PaymentStatus: verdict.paymentStatus,
		CommitStock:   true,
		MarkPaid:      verdict.paymentStatus == domain.PaymentStatusPaid,
		History:       s.historyEntry(verdict.note, domain.HistoryLevelInfo, now),
		Now:           now,
	})
	if shortage, ok := repositories.IsOutOfStock(err); ok {
		return s.holdForStock(ctx, order, verdict, shortage)
	}
	if err != nil {
		return FulfillmentResult{}, mapOrderRepositoryError(err)
	}
	if !transition.Applied {
		return s.finish(ctx, order, FulfillmentResult{Outcome: FulfillmentAlreadyFulfilled, Order: transition.Order}), nil
	}

	fulfilled := transition.Order
	s.logger(ctx, "fulfillment.committed", map[string]any{
		"orderId":       fulfilled.ID,
		"orderNumber":   fulfilled.OrderNumber,
		"paymentStatus": string(fulfilled.PaymentStatus),
		"products":      len(transition.Stock),
	})

	if verdict.capture {
		fulfilled = s.capture(ctx, fulfilled)
	}

	s.notifyPlaced(ctx, fulfilled)
	low := s.alertLowStock(ctx, transition.Stock)

	return s.finish(ctx, order, FulfillmentResult{Outcome: FulfillmentFulfilled, Order: fulfilled, LowStock: low}), nil
}

// holdForStock parks an order whose stock ran out between placement and commit. The payment
// state is recorded so an operator can refund or restock; nothing is decremented.
func (s *fulfillmentService) holdForStock(ctx context.Context, order domain.Order, verdict paymentVerdict, shortage *repositories.OrderError) (FulfillmentResult, error) {
	now := s.clock()
	note := fmt.Sprintf("insufficient stock for product %s: %d requested, %d available", shortage.ProductID, shortage.Requested, shortage.Available)
	transition, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		OrderID:       order.ID,
		From:          []domain.OrderStatus{domain.OrderStatusPending},
		To:            domain.OrderStatusOnHold,
		PaymentStatus: verdict.paymentStatus,
		MarkPaid:      verdict.paymentStatus == domain.PaymentStatusPaid,
		History:       s.historyEntry(note, domain.HistoryLevelWarning, now),
		Now:           now,
	})
	if err != nil {
		return FulfillmentResult{}, mapOrderRepositoryError(err)
	}
	s.logger(ctx, "fulfillment.stock.insufficient", map[string]any{
		"orderId":       order.ID,
		"productId":     shortage.ProductID,
		"requested":     shortage.Requested,
		"available":     shortage.Available,
		"paymentStatus": string(verdict.paymentStatus),
		"held":          transition.Applied,
	})
	return s.finish(ctx, order, FulfillmentResult{Outcome: FulfillmentOutOfStock, Order: transition.Order}), nil
}

// verifyPayment decides whether the order's payment allows fulfillment.
func (s *fulfillmentService) verifyPayment(ctx context.Context, order domain.Order) (paymentVerdict, payments.PaymentDetails, error) {
	if order.PaymentMethod == domain.PaymentMethodCOD || order.PaymentMethod == "" {
		return paymentVerdict{
			ready:         true,
			paymentStatus: domain.PaymentStatusPending,
			note:          "cash on delivery order confirmed",
		}, payments.PaymentDetails{}, nil
	}
	if s.payments == nil {
		return paymentVerdict{}, payments.PaymentDetails{}, fmt.Errorf("%w: no payment gateway configured", ErrFulfillmentGateway)
	}
	if order.Payment.IntentID == "" {
		return paymentVerdict{}, payments.PaymentDetails{}, nil
	}

	details, err := s.payments.LookupPayment(ctx, payments.PaymentContext{
		PreferredProvider: string(order.PaymentMethod),
		Currency:          order.Totals.Currency,
	}, payments.LookupRequest{IntentID: order.Payment.IntentID})
	if err != nil {
		return paymentVerdict{}, payments.PaymentDetails{}, fmt.Errorf("%w: lookup %s: %v", ErrFulfillmentGateway, order.Payment.IntentID, err)
	}
	if details.OrderID != "" && details.OrderID != order.ID {
		return paymentVerdict{}, details, fmt.Errorf("%w: payment %s references order %s", ErrFulfillmentPaymentMismatch, details.IntentID, details.OrderID)
	}

	switch order.PaymentMethod {
	case domain.PaymentMethodStripe:
		if details.Amount <= 0 || details.AmountReceived != details.Amount {
			return paymentVerdict{}, details, nil
		}
		if details.HasCharge && !(details.ChargePaid && details.Captured) {
			return paymentVerdict{}, details, nil
		}
		return paymentVerdict{
			ready:         true,
			paymentStatus: domain.PaymentStatusPaid,
			note:          "stripe payment " + details.IntentID + " received",
		}, details, nil
	case domain.PaymentMethodTabby:
		switch details.Status {
		case payments.StatusAuthorized:
			return paymentVerdict{
				ready:         true,
				paymentStatus: domain.PaymentStatusAuthorized,
				capture:       true,
				note:          "tabby payment " + details.IntentID + " authorized",
			}, details, nil
		case payments.StatusSucceeded:
			return paymentVerdict{
				ready:         true,
				paymentStatus: domain.PaymentStatusPaid,
				note:          "tabby payment " + details.IntentID + " closed",
			}, details, nil
		}
		return paymentVerdict{}, details, nil
	}
	return paymentVerdict{}, details, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, order.PaymentMethod)
}

// capture settles an authorized payment; failures leave the order authorized with a warning.
func (s *fulfillmentService) capture(ctx context.Context, order domain.Order) domain.Order {
	amount := order.Totals.Total
	details, err := s.payments.Capture(ctx, payments.PaymentContext{
		PreferredProvider: string(order.PaymentMethod),
		Currency:          order.Totals.Currency,
	}, payments.CaptureRequest{
		IntentID:       order.Payment.IntentID,
		Amount:         &amount,
		Currency:       order.Totals.Currency,
		IdempotencyKey: "capture-" + order.ID,
	})
	if err != nil || !details.Captured {
		reason := "payment not captured"
		if err != nil {
			reason = err.Error()
		}
		s.logger(ctx, "fulfillment.capture.failed", map[string]any{
			"orderId": order.ID,
			"intent":  order.Payment.IntentID,
			"error":   reason,
		})
		s.appendWarning(ctx, order.ID, "payment capture failed: "+reason)
		return order
	}

	now := s.clock()
	result, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		OrderID:       order.ID,
		From:          []domain.OrderStatus{domain.OrderStatusProcessing},
		PaymentStatus: domain.PaymentStatusPaid,
		MarkPaid:      true,
		History:       s.historyEntry("payment captured", domain.HistoryLevelInfo, now),
		Now:           now,
	})
	if err != nil {
		s.logger(ctx, "fulfillment.capture.record.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return order
	}
	return result.Order
}

func (s *fulfillmentService) notifyPlaced(ctx context.Context, order domain.Order) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.OrderPlaced(ctx, order); err != nil {
		s.logger(ctx, "fulfillment.notification.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		s.appendWarning(ctx, order.ID, "confirmation email failed: "+err.Error())
	}
}

// alertLowStock emails the admin about committed products at or below the threshold.
func (s *fulfillmentService) alertLowStock(ctx context.Context, levels []domain.StockLevel) []domain.StockLevel {
	if len(levels) == 0 {
		return nil
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.logger(ctx, "fulfillment.settings.failed", map[string]any{"error": err.Error()})
		return nil
	}
	var low []domain.StockLevel
	for _, level := range levels {
		if level.Stock <= settings.LowStockThreshold {
			low = append(low, level)
		}
	}
	if len(low) == 0 || s.notifications == nil {
		return low
	}
	if err := s.notifications.LowStock(ctx, low); err != nil {
		s.logger(ctx, "fulfillment.low_stock.failed", map[string]any{
			"products": len(low),
			"error":    err.Error(),
		})
	}
	return low
}

func (s *fulfillmentService) appendWarning(ctx context.Context, orderID, note string) {
	entry := s.historyEntry(note, domain.HistoryLevelWarning, s.clock())
	if err := s.orders.AppendHistory(ctx, orderID, entry); err != nil {
		s.logger(ctx, "fulfillment.history.append.failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *fulfillmentService) historyEntry(note string, level domain.HistoryLevel, now time.Time) domain.OrderHistoryEntry {
	return domain.OrderHistoryEntry{
		ID:        historyEntryIDPrefix + s.newID(),
		Note:      note,
		Actor:     orderActorSystem,
		Level:     level,
		CreatedAt: now,
	}
}

func (s *fulfillmentService) finish(ctx context.Context, order domain.Order, result FulfillmentResult) FulfillmentResult {
	if s.outcomes != nil {
		s.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(result.Outcome)),
			attribute.String("payment_method", string(order.PaymentMethod)),
		))
	}
	return result
}

func mapOrderRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}
