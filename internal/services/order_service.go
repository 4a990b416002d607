package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/payments"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	historyEntryIDPrefix = "ohe_"

	orderActorSystem = "system"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed concurrently or already exists.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPermissionDenied indicates the caller does not own the order.
	ErrOrderPermissionDenied = errors.New("order: permission denied")
	// ErrOrderPaymentUnavailable indicates the requested payment method is not configured.
	ErrOrderPaymentUnavailable = errors.New("order: payment method unavailable")
	// ErrOrderPaymentInitFailed indicates the gateway session could not be created; the order is put on hold.
	ErrOrderPaymentInitFailed = errors.New("order: payment initialisation failed")

	// ErrOrderEmptyCart aliases ErrCartEmpty for order callers.
	ErrOrderEmptyCart = ErrCartEmpty
	// ErrOrderProductUnavailable aliases ErrProductUnavailable for order callers.
	ErrOrderProductUnavailable = ErrProductUnavailable
	// ErrOrderCouponRejected aliases ErrCouponRejected for order callers.
	ErrOrderCouponRejected = ErrCouponRejected
)

// CouponReasonNoBenefit rejects coupons that validate but would not change the amount paid.
const CouponReasonNoBenefit CouponReason = "no_benefit"

// orderStateTransitions lists the admin status changes allowed from each status.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusOnHold, domain.OrderStatusCancelled},
	domain.OrderStatusOnHold:     {domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusOnHold, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusReturned},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned, domain.OrderStatusRefunded},
	domain.OrderStatusReturned:   {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:  {domain.OrderStatusRefunded},
}

// stockCommittingStatuses are the targets at which an order's stock must already be taken.
var stockCommittingStatuses = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

var validPaymentStatuses = []domain.PaymentStatus{
	domain.PaymentStatusPending,
	domain.PaymentStatusPaid,
	domain.PaymentStatusAuthorized,
	domain.PaymentStatusFailed,
	domain.PaymentStatusRefunded,
}

// PaymentGateway routes payment operations to the configured PSP adapters.
type PaymentGateway interface {
	Supports(provider string) bool
	CreatePayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreatePaymentRequest) (payments.PaymentSession, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
	Capture(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CaptureRequest) (payments.PaymentDetails, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	Coupons       repositories.CouponRepository
	UserAccounts  repositories.UserRepository
	Users         UserService
	Settings      SettingsService
	Counters      CounterService
	Payments      PaymentGateway
	Fulfillment   FulfillmentService
	Notifications NotificationService
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	coupons       couponLookup
	users         UserService
	settings      SettingsService
	counters      CounterService
	payments      PaymentGateway
	fulfillment   FulfillmentService
	notifications NotificationService
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Coupons == nil:
		return nil, errors.New("order service: coupon repository is required")
	case deps.Users == nil:
		return nil, errors.New("order service: user service is required")
	case deps.Settings == nil:
		return nil, errors.New("order service: settings service is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	case deps.Fulfillment == nil:
		return nil, errors.New("order service: fulfillment service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		coupons: couponLookup{
			coupons: deps.Coupons,
			orders:  deps.Orders,
			users:   deps.UserAccounts,
		},
		users:         deps.Users,
		settings:      deps.Settings,
		counters:      deps.Counters,
		payments:      deps.Payments,
		fulfillment:   deps.Fulfillment,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// pricedOrder is the outcome of resolving a cart against products, settings and a coupon.
type pricedOrder struct {
	lines    []domain.CartLine
	settings domain.Settings
	method   domain.ShippingMethod
	coupon   *CouponEvaluation
	totals   domain.OrderTotals
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderPlacement, error) {
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))
	switch method {
	case domain.PaymentMethodCOD:
	case domain.PaymentMethodStripe, domain.PaymentMethodTabby:
		if s.payments == nil || !s.payments.Supports(string(method)) {
			return OrderPlacement{}, fmt.Errorf("%w: %s", ErrOrderPaymentUnavailable, method)
		}
	default:
		return OrderPlacement{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	lines, err := priceCartLines(ctx, s.products, cmd.Lines, true)
	if err != nil {
		return OrderPlacement{}, err
	}

	buyerCmd := cmd.Buyer
	buyerCmd.UserID = strings.TrimSpace(cmd.UserID)
	buyer, err := s.users.ResolveBuyer(ctx, buyerCmd)
	if err != nil {
		return OrderPlacement{}, err
	}

	address, err := normalizeShippingAddress(cmd.ShippingAddress, buyer, buyerCmd)
	if err != nil {
		return OrderPlacement{}, err
	}

	now := s.clock()
	priced, err := s.price(ctx, lines, cmd.ShippingMethod, cmd.CouponCode, &buyer, now)
	if err != nil {
		return OrderPlacement{}, err
	}
	if priced.coupon != nil {
		if !priced.coupon.Valid {
			return OrderPlacement{}, &CouponRejection{Code: priced.coupon.Code, Reason: priced.coupon.Reason, Message: priced.coupon.Message}
		}
		if !priced.coupon.HasBenefit() {
			return OrderPlacement{}, &CouponRejection{Code: priced.coupon.Code, Reason: CouponReasonNoBenefit, Message: "coupon does not reduce the order total"}
		}
	}

	order := s.newOrder(buyer, buyerCmd, address, priced, method, cmd.Notes, now)

	req := repositories.OrderPlacementRequest{
		Order:    order,
		Sequence: s.counters.OrderSequence(now.In(priced.settings.Location()), priced.settings.OrderPrefix),
		Now:      now,
	}
	if priced.coupon != nil {
		req.Coupon = &repositories.CouponRedemption{Code: priced.coupon.Code, UserID: buyer.ID}
	}
	placed, err := s.orders.Place(ctx, req)
	if err != nil {
		return OrderPlacement{}, s.mapPlacementError(err, priced.coupon)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":       placed.ID,
		"orderNumber":   placed.OrderNumber,
		"userId":        placed.UserID,
		"paymentMethod": string(method),
		"total":         placed.Totals.Total,
		"currency":      placed.Totals.Currency,
		"coupon":        placed.CouponCode,
	})

	placement := OrderPlacement{Order: placed}

	if method.Hosted() {
		session, err := s.startPayment(ctx, placed, buyer, cmd)
		if err != nil {
			s.holdForPaymentFailure(ctx, placed, err)
			return OrderPlacement{}, fmt.Errorf("%w: order %s: %v", ErrOrderPaymentInitFailed, placed.ID, err)
		}
		ref := domain.PaymentReference{
			Provider:     session.Provider,
			IntentID:     session.IntentID,
			ClientSecret: session.ClientSecret,
			RedirectURL:  session.RedirectURL,
		}
		// A session whose intent was not stored is never returned.
		if err := s.orders.SetPayment(ctx, placed.ID, ref, s.clock()); err != nil {
			s.logger(ctx, "order.payment.reference.failed", map[string]any{
				"orderId": placed.ID,
				"intent":  session.IntentID,
				"error":   err.Error(),
			})
			s.holdForPaymentFailure(ctx, placed, fmt.Errorf("store payment reference %s: %w", session.IntentID, err))
			return OrderPlacement{}, fmt.Errorf("%w: order %s: %v", ErrOrderPaymentInitFailed, placed.ID, err)
		}
		placement.Order.Payment = ref
		placement.Payment = ref
		return placement, nil
	}

	result, err := s.fulfillment.FulfillOrder(ctx, placed.ID)
	if err != nil {
		s.logger(ctx, "order.fulfillment.failed", map[string]any{
			"orderId": placed.ID,
			"error":   err.Error(),
		})
		return placement, nil
	}
	placement.Order = result.Order
	placement.Fulfillment = &result
	return placement, nil
}

// SummarizeOrder prices a cart without persisting anything. An invalid coupon is reported, not fatal.
func (s *orderService) SummarizeOrder(ctx context.Context, cmd SummarizeOrderCommand) (OrderSummary, error) {
	lines, err := priceCartLines(ctx, s.products, cmd.Lines, true)
	if err != nil {
		return OrderSummary{}, err
	}
	var user *domain.User
	if userID := strings.TrimSpace(cmd.UserID); userID != "" {
		found, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return OrderSummary{}, err
		}
		user = &found
	}
	priced, err := s.price(ctx, lines, cmd.ShippingMethod, cmd.CouponCode, user, s.clock())
	if err != nil {
		return OrderSummary{}, err
	}
	summary := OrderSummary{
		Lines:          priced.lines,
		Totals:         priced.totals,
		ShippingMethod: priced.method.Name,
		Coupon:         priced.coupon,
	}
	if priced.coupon != nil && priced.coupon.Valid {
		summary.FreeItems = priced.coupon.FreeItems
	}
	return summary, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListOrderHistory(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[OrderHistoryEntry], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[OrderHistoryEntry]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListHistory(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[OrderHistoryEntry]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	current, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	paymentStatus := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(string(cmd.PaymentStatus))))
	if target == "" && paymentStatus == "" {
		return Order{}, fmt.Errorf("%w: status or payment status is required", ErrOrderInvalidInput)
	}
	if paymentStatus != "" && !slices.Contains(validPaymentStatuses, paymentStatus) {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, cmd.PaymentStatus)
	}
	if target == current.Status {
		target = ""
	}
	if target != "" && !canTransition(current.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, target)
	}

	now := s.clock()
	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = describeStatusChange(current.Status, target, paymentStatus)
	}
	req := repositories.OrderTransitionRequest{
		OrderID:       current.ID,
		From:          []domain.OrderStatus{current.Status},
		To:            target,
		PaymentStatus: paymentStatus,
		CommitStock:   slices.Contains(stockCommittingStatuses, target),
		MarkPaid:      paymentStatus == domain.PaymentStatusPaid,
		MarkCancel:    target == domain.OrderStatusCancelled,
		History:       s.historyEntry(note, actorOrSystem(cmd.ActorID), domain.HistoryLevelInfo, now),
		Now:           now,
	}
	result, err := s.orders.Transition(ctx, req)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !result.Applied {
		return Order{}, fmt.Errorf("%w: order %s changed to %s concurrently", ErrOrderConflict, current.ID, result.Order.Status)
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":       current.ID,
		"from":          string(current.Status),
		"to":            string(result.Order.Status),
		"paymentStatus": string(result.Order.PaymentStatus),
		"actorId":       cmd.ActorID,
	})

	if target != "" {
		s.notifyStatusChange(ctx, result.Order, current.Status)
	}
	return result.Order, nil
}

// DeleteOrder sends the cancellation email and removes the order.
func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if s.notifications != nil && order.Status != domain.OrderStatusCancelled {
		if err := s.notifications.OrderCancelled(ctx, order); err != nil {
			s.logger(ctx, "order.notification.failed", map[string]any{
				"orderId": order.ID,
				"kind":    "cancelled",
				"error":   err.Error(),
			})
		}
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.deleted", map[string]any{
		"orderId": order.ID,
		"actorId": cmd.ActorID,
		"reason":  strings.TrimSpace(cmd.Reason),
	})
	return nil
}

// RequestReturn records a return for a delivered order owned by the caller.
func (s *orderService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" || order.UserID != userID {
		return Order{}, ErrOrderPermissionDenied
	}
	if order.Status != domain.OrderStatusDelivered {
		return Order{}, fmt.Errorf("%w: returns require a delivered order, got %s", ErrOrderInvalidState, order.Status)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: return reason is required", ErrOrderInvalidInput)
	}
	lines, err := returnLines(order, cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	returnID, err := s.counters.NextReturnNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: allocate return number: %w", err)
	}
	now := s.clock()
	ret := domain.OrderReturn{
		ID:          returnID,
		Lines:       lines,
		Reason:      reason,
		Status:      domain.ReturnStatusRequested,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	entry := s.historyEntry(fmt.Sprintf("return %s requested: %s", returnID, reason), userID, domain.HistoryLevelInfo, now)
	updated, err := s.orders.AddReturn(ctx, order.ID, ret, entry)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.return.requested", map[string]any{
		"orderId":  order.ID,
		"returnId": returnID,
	})
	return updated, nil
}

// price resolves shipping, coupon and totals for already re-priced lines.
func (s *orderService) price(ctx context.Context, lines []domain.CartLine, shippingMethod, couponCode string, buyer *domain.User, now time.Time) (pricedOrder, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return pricedOrder{}, err
	}
	methodName := strings.TrimSpace(shippingMethod)
	if methodName == "" && len(settings.ShippingMethods) > 0 {
		methodName = settings.ShippingMethods[0].Name
	}
	method, ok := settings.ShippingMethod(methodName)
	if !ok {
		return pricedOrder{}, fmt.Errorf("%w: %w: %s", ErrOrderInvalidInput, ErrShippingMethodUnknown, methodName)
	}
	shipping, err := ShippingCost(settings, method.Name, domain.SubtotalOf(lines))
	if err != nil {
		return pricedOrder{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	}

	result := pricedOrder{lines: lines, settings: settings, method: method}
	var adj TotalsAdjustment
	if code := NormalizeCouponCode(couponCode); code != "" {
		req := couponRequest{
			Code:         code,
			User:         buyer,
			Lines:        lines,
			ShippingCost: shipping,
			At:           now,
			Location:     settings.Location(),
		}
		if buyer != nil {
			req.UserID = buyer.ID
		}
		evaluation, err := s.coupons.evaluate(ctx, req)
		if err != nil {
			return pricedOrder{}, err
		}
		result.coupon = &evaluation
		if evaluation.Valid {
			adj = TotalsAdjustment{Discount: evaluation.MerchandiseDiscount, FreeShipping: evaluation.FreeShipping}
		}
	}

	totals, err := ComputeTotals(lines, settings, method.Name, adj)
	if err != nil {
		return pricedOrder{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	}
	result.totals = totals
	return result, nil
}

func (s *orderService) newOrder(buyer domain.User, buyerCmd ResolveBuyerCommand, address domain.Address, priced pricedOrder, method domain.PaymentMethod, notes string, now time.Time) domain.Order {
	profile := domain.CustomerProfile{
		UserID: buyer.ID,
		Name:   firstNonEmpty(buyerCmd.Name, buyer.Name),
		Email:  firstNonEmpty(buyer.Email, buyerCmd.Email),
		Phone:  firstNonEmpty(buyerCmd.Phone, buyer.Phone),
		Guest:  buyer.Guest,
	}
	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          buyer.ID,
		Customer:        profile,
		ShippingAddress: address,
		Items:           domain.LineItemsFromCart(priced.lines),
		ShippingMethod:  priced.method.Name,
		Totals:          priced.totals,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   method,
		Notes:           strings.TrimSpace(notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if priced.coupon != nil && priced.coupon.Valid {
		order.CouponCode = priced.coupon.Code
		order.FreeShipping = priced.coupon.FreeShipping
		order.FreeItems = priced.coupon.FreeItems
	}
	entry := s.historyEntry("order placed", buyer.ID, domain.HistoryLevelInfo, now)
	entry.Status = order.Status
	entry.PaymentStatus = order.PaymentStatus
	order.History = []domain.OrderHistoryEntry{entry}
	return order
}

func (s *orderService) startPayment(ctx context.Context, order domain.Order, buyer domain.User, cmd CreateOrderCommand) (payments.PaymentSession, error) {
	items := make([]payments.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.LineItem{
			ReferenceID: item.ProductID,
			Title:       item.Name,
			Quantity:    int64(item.Quantity),
			UnitAmount:  item.UnitPrice,
		})
	}
	req := payments.CreatePaymentRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Totals.Total,
		Currency:    order.Totals.Currency,
		Description: "Order " + order.OrderNumber,
		Buyer: payments.Buyer{
			Name:            order.Customer.Name,
			Email:           order.Customer.Email,
			Phone:           order.Customer.Phone,
			RegisteredSince: buyer.CreatedAt,
			OrdersCount:     buyer.OrdersCount,
		},
		Shipping: payments.ShippingAddress{
			City:    order.ShippingAddress.City,
			Address: strings.TrimSpace(order.ShippingAddress.Line1 + " " + order.ShippingAddress.Line2),
			Zip:     order.ShippingAddress.PostalCode,
		},
		Items:          items,
		ShippingAmount: order.Totals.Shipping,
		TaxAmount:      order.Totals.Tax,
		DiscountAmount: order.Totals.Discount,
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		FailureURL:     cmd.FailureURL,
		Language:       cmd.Language,
		IdempotencyKey: "order-" + order.ID,
	}
	return s.payments.CreatePayment(ctx, payments.PaymentContext{
		PreferredProvider: string(order.PaymentMethod),
		Currency:          order.Totals.Currency,
	}, req)
}

// holdForPaymentFailure parks an order whose gateway session could not be created.
func (s *orderService) holdForPaymentFailure(ctx context.Context, order domain.Order, cause error) {
	now := s.clock()
	note := "payment initialisation failed: " + cause.Error()
	_, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		OrderID:       order.ID,
		From:          []domain.OrderStatus{domain.OrderStatusPending},
		To:            domain.OrderStatusOnHold,
		PaymentStatus: domain.PaymentStatusFailed,
		History:       s.historyEntry(note, orderActorSystem, domain.HistoryLevelWarning, now),
		Now:           now,
	})
	fields := map[string]any{
		"orderId":       order.ID,
		"paymentMethod": string(order.PaymentMethod),
		"cause":         cause.Error(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger(ctx, "order.payment.init.failed", fields)
}

func (s *orderService) notifyStatusChange(ctx context.Context, order domain.Order, previous domain.OrderStatus) {
	if s.notifications == nil {
		return
	}
	var err error
	kind := "status"
	if order.Status == domain.OrderStatusCancelled {
		kind = "cancelled"
		err = s.notifications.OrderCancelled(ctx, order)
	} else {
		err = s.notifications.OrderStatusChanged(ctx, order, previous)
	}
	if err == nil {
		return
	}
	s.logger(ctx, "order.notification.failed", map[string]any{
		"orderId": order.ID,
		"kind":    kind,
		"error":   err.Error(),
	})
	entry := s.historyEntry("status email failed: "+err.Error(), orderActorSystem, domain.HistoryLevelWarning, s.clock())
	if appendErr := s.orders.AppendHistory(ctx, order.ID, entry); appendErr != nil {
		s.logger(ctx, "order.history.append.failed", map[string]any{"orderId": order.ID, "error": appendErr.Error()})
	}
}

func (s *orderService) historyEntry(note, actor string, level domain.HistoryLevel, now time.Time) domain.OrderHistoryEntry {
	return domain.OrderHistoryEntry{
		ID:        historyEntryIDPrefix + s.newID(),
		Note:      note,
		Actor:     actor,
		Level:     level,
		CreatedAt: now,
	}
}

// mapPlacementError turns transactional stock and coupon re-checks into business rejections.
func (s *orderService) mapPlacementError(err error, coupon *CouponEvaluation) error {
	if shortage, ok := repositories.IsOutOfStock(err); ok {
		return &ProductUnavailableError{
			ProductID: shortage.ProductID,
			Reason:    ProductUnavailableOutOfStock,
			Requested: shortage.Requested,
			Available: shortage.Available,
		}
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorProductNotFound {
		return &ProductUnavailableError{ProductID: orderErr.ProductID, Reason: ProductUnavailableNotFound}
	}
	if errors.As(err, &orderErr) && coupon != nil {
		var reason CouponReason
		switch orderErr.Code {
		case repositories.OrderErrorCouponExhausted:
			reason = CouponReasonUsageLimitReached
		case repositories.OrderErrorCouponCustomerLimit:
			reason = CouponReasonCustomerLimitReached
		case repositories.OrderErrorCouponNotFound:
			reason = CouponReasonNotFound
		}
		if reason != "" {
			return &CouponRejection{Code: coupon.Code, Reason: reason, Message: orderErr.Message}
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	return mapOrderRepositoryError(err)
}

func normalizeShippingAddress(addr domain.Address, buyer domain.User, buyerCmd ResolveBuyerCommand) (domain.Address, error) {
	addr.Recipient = firstNonEmpty(addr.Recipient, buyerCmd.Name, buyer.Name)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.Line2 = strings.TrimSpace(addr.Line2)
	addr.City = strings.TrimSpace(addr.City)
	addr.State = strings.TrimSpace(addr.State)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
	addr.Phone = firstNonEmpty(addr.Phone, buyerCmd.Phone, buyer.Phone)
	if addr.Line1 == "" || addr.City == "" {
		return domain.Address{}, fmt.Errorf("%w: shipping address line1 and city are required", ErrOrderInvalidInput)
	}
	return addr, nil
}

func returnLines(order domain.Order, requested []domain.ReturnLine) ([]domain.ReturnLine, error) {
	ordered := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		ordered[item.ProductID] += item.Quantity
	}
	if len(requested) == 0 {
		lines := make([]domain.ReturnLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, domain.ReturnLine{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		return lines, nil
	}
	lines := make([]domain.ReturnLine, 0, len(requested))
	for _, line := range requested {
		id := strings.TrimSpace(line.ProductID)
		if line.Quantity <= 0 || line.Quantity > ordered[id] {
			return nil, fmt.Errorf("%w: invalid return quantity for product %q", ErrOrderInvalidInput, id)
		}
		ordered[id] -= line.Quantity
		lines = append(lines, domain.ReturnLine{ProductID: id, Quantity: line.Quantity})
	}
	return lines, nil
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

func describeStatusChange(from, to domain.OrderStatus, payment domain.PaymentStatus) string {
	switch {
	case to != "" && payment != "":
		return fmt.Sprintf("status %s -> %s, payment %s", from, to, payment)
	case to != "":
		return fmt.Sprintf("status %s -> %s", from, to)
	default:
		return fmt.Sprintf("payment %s", payment)
	}
}

func actorOrSystem(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return orderActorSystem
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
