package handlers

import (
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

var orderPageOptions = pagination.Options{DefaultPageSize: 20, MaxPageSize: 100}

// OrderHandlers serves checkout, order reads and admin order management.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	fulfillment services.FulfillmentService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with an idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs the /orders handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, fulfillment services.FulfillmentService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, fulfillment: fulfillment}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints. Checkout accepts guests; reads require a user.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(checkout chi.Router) {
		checkout.Use(h.authn.Optional(), observability.CaptureIdentity)
		create := http.Handler(http.HandlerFunc(h.createOrder))
		if h.idempotency != nil {
			create = h.idempotency(create)
		}
		checkout.Method(http.MethodPost, "/", create)
		checkout.Post("/summary", h.summarizeOrder)
		checkout.Post("/order-fullfill", h.fulfillOrder)
		checkout.Post("/fulfill", h.fulfillOrder)
	})
	r.Group(func(account chi.Router) {
		account.Use(h.authn.Require(), observability.CaptureIdentity)
		account.Get("/", h.listOrders)
		account.Get("/{orderId}", h.getOrder)
		account.Get("/{orderId}/history", h.listHistory)
		account.Post("/{orderId}/returns", h.requestReturn)

		account.Group(func(admin chi.Router) {
			admin.Use(h.authn.Require(auth.RoleAdmin))
			admin.Put("/{orderId}", h.updateOrder)
			admin.Delete("/{orderId}", h.deleteOrder)
		})
	})
}

type cartLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type addressRequest struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type createOrderRequest struct {
	Products        []cartLineRequest `json:"products"`
	Items           []cartLineRequest `json:"items"`
	CouponCode      string            `json:"couponCode"`
	ShippingMethod  string            `json:"shippingMethod"`
	PaymentMethod   string            `json:"paymentMethod"`
	ShippingAddress addressRequest    `json:"shippingAddress"`
	Customer        customerRequest   `json:"customer"`
	Notes           string            `json:"notes"`
	SuccessURL      string            `json:"successUrl"`
	CancelURL       string            `json:"cancelUrl"`
	FailureURL      string            `json:"failureUrl"`
	Language        string            `json:"language"`
}

type summarizeOrderRequest struct {
	Products       []cartLineRequest `json:"products"`
	Items          []cartLineRequest `json:"items"`
	CouponCode     string            `json:"couponCode"`
	ShippingMethod string            `json:"shippingMethod"`
}

type fulfillOrderRequest struct {
	OrderID string `json:"orderId"`
}

type updateOrderRequest struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Note          string `json:"note"`
}

type deleteOrderRequest struct {
	Reason string `json:"reason"`
}

type returnRequest struct {
	Lines  []cartLineRequest `json:"lines"`
	Reason string            `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}

	buyer := services.ResolveBuyerCommand{
		Name:  strings.TrimSpace(req.Customer.Name),
		Email: strings.TrimSpace(req.Customer.Email),
		Phone: strings.TrimSpace(req.Customer.Phone),
	}
	cmd := services.CreateOrderCommand{
		UserID:          actorID(ctx),
		Buyer:           buyer,
		Lines:           cartLines(req.Products, req.Items),
		CouponCode:      strings.TrimSpace(req.CouponCode),
		ShippingMethod:  strings.TrimSpace(req.ShippingMethod),
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		ShippingAddress: req.ShippingAddress.toDomain(),
		Notes:           req.Notes,
		SuccessURL:      strings.TrimSpace(req.SuccessURL),
		CancelURL:       strings.TrimSpace(req.CancelURL),
		FailureURL:      strings.TrimSpace(req.FailureURL),
		Language:        strings.TrimSpace(req.Language),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	placement, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := createOrderResponse{Order: buildOrderPayload(placement.Order)}
	if placement.Payment.Provider != "" {
		resp.Payment = &paymentPayload{
			Provider:     placement.Payment.Provider,
			IntentID:     placement.Payment.IntentID,
			ClientSecret: placement.Payment.ClientSecret,
			RedirectURL:  placement.Payment.RedirectURL,
		}
	}
	if placement.Fulfillment != nil {
		resp.Fulfillment = string(placement.Fulfillment.Outcome)
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) summarizeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req summarizeOrderRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	summary, err := h.orders.SummarizeOrder(ctx, services.SummarizeOrderCommand{
		UserID:         actorID(ctx),
		Lines:          cartLines(req.Products, req.Items),
		CouponCode:     strings.TrimSpace(req.CouponCode),
		ShippingMethod: strings.TrimSpace(req.ShippingMethod),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := orderSummaryResponse{
		Lines:          make([]cartLinePayload, 0, len(summary.Lines)),
		Totals:         buildTotalsPayload(summary.Totals),
		ShippingMethod: summary.ShippingMethod,
		FreeItems:      buildFreeItems(summary.FreeItems),
	}
	for _, line := range summary.Lines {
		resp.Lines = append(resp.Lines, cartLinePayload{
			ProductID:     line.ProductID,
			Name:          line.Name,
			SKU:           line.SKU,
			Image:         line.Image,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			OriginalPrice: line.OriginalPrice,
			Subtotal:      line.Subtotal,
		})
	}
	if summary.Coupon != nil {
		coupon := buildCouponEvaluation(*summary.Coupon)
		resp.Coupon = &coupon
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		writeUnavailable(ctx, w, "fulfillment service")
		return
	}
	var req fulfillOrderRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = strings.TrimSpace(r.URL.Query().Get("orderId"))
	}
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	result, err := h.fulfillment.FulfillOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	lowStock := make([]stockLevelPayload, 0, len(result.LowStock))
	for _, level := range result.LowStock {
		lowStock = append(lowStock, stockLevelPayload{ProductID: level.ProductID, SKU: level.SKU, Stock: level.Stock})
	}
	writeJSONResponse(w, http.StatusOK, fulfillOrderResponse{
		Outcome:  string(result.Outcome),
		Order:    buildOrderPayload(result.Order),
		LowStock: lowStock,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := currentIdentity(ctx)
	query := r.URL.Query()

	page, ok := parsePage(w, r, orderPageOptions)
	if !ok {
		return
	}
	filter := services.OrderListFilter{UserID: identity.UserID, Pagination: page}
	if identity.IsAdmin() {
		filter.UserID = strings.TrimSpace(query.Get("userId"))
	}
	for _, status := range parseFilterValues(query["status"]) {
		filter.Status = append(filter.Status, domain.OrderStatus(status))
	}
	for key, target := range map[string]**time.Time{"createdAfter": &filter.DateRange.From, "createdBefore": &filter.DateRange.To} {
		raw := strings.TrimSpace(query.Get(key))
		if raw == "" {
			continue
		}
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", key+" "+err.Error(), http.StatusBadRequest))
			return
		}
		*target = &ts
	}

	result, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[orderPayload]{Items: items, NextPageToken: result.NextPageToken})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	page, ok := parsePage(w, r, orderPageOptions)
	if !ok {
		return
	}
	result, err := h.orders.ListOrderHistory(ctx, order.ID, page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]historyPayload, 0, len(result.Items))
	for _, entry := range result.Items {
		items = append(items, buildHistoryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[historyPayload]{Items: items, NextPageToken: result.NextPageToken})
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := currentIdentity(ctx)
	var req returnRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	lines := make([]domain.ReturnLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.ReturnLine{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}
	order, err := h.orders.RequestReturn(ctx, services.RequestReturnCommand{
		OrderID: chi.URLParam(r, "orderId"),
		UserID:  identity.UserID,
		Lines:   lines,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateOrderRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	order, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:       chi.URLParam(r, "orderId"),
		Status:        domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		PaymentStatus: domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.PaymentStatus))),
		Note:          strings.TrimSpace(req.Note),
		ActorID:       actorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req deleteOrderRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	reason := firstNonEmpty(req.Reason, r.URL.Query().Get("reason"))
	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{
		OrderID: chi.URLParam(r, "orderId"),
		ActorID: actorID(ctx),
		Reason:  reason,
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadVisibleOrder hides other customers' orders behind a 404.
func (h *OrderHandlers) loadVisibleOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	identity, _ := currentIdentity(ctx)
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Order{}, false
	}
	if !identity.IsAdmin() && order.UserID != identity.UserID {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}

func cartLines(groups ...[]cartLineRequest) []services.CartLineInput {
	var lines []services.CartLineInput
	for _, group := range groups {
		for _, line := range group {
			lines = append(lines, services.CartLineInput{
				ProductID: strings.TrimSpace(line.ProductID),
				Quantity:  line.Quantity,
			})
		}
	}
	return lines
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(a.Recipient),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
	}
}
