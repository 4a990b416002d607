package handlers

import (
	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type createOrderResponse struct {
	Order       orderPayload    `json:"order"`
	Payment     *paymentPayload `json:"payment,omitempty"`
	Fulfillment string          `json:"fulfillment,omitempty"`
}

type fulfillOrderResponse struct {
	Outcome  string              `json:"outcome"`
	Order    orderPayload        `json:"order"`
	LowStock []stockLevelPayload `json:"lowStock,omitempty"`
}

type orderSummaryResponse struct {
	Lines          []cartLinePayload        `json:"lines"`
	Totals         totalsPayload            `json:"totals"`
	ShippingMethod string                   `json:"shippingMethod"`
	Coupon         *couponEvaluationPayload `json:"coupon,omitempty"`
	FreeItems      []freeItemPayload        `json:"freeItems"`
}

type paymentPayload struct {
	Provider     string `json:"provider"`
	IntentID     string `json:"intentId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	RedirectURL  string `json:"redirectUrl,omitempty"`
}

type stockLevelPayload struct {
	ProductID string `json:"productId"`
	SKU       string `json:"sku,omitempty"`
	Stock     int    `json:"stock"`
}

type cartLinePayload struct {
	ProductID     string `json:"productId"`
	Name          string `json:"name"`
	SKU           string `json:"sku,omitempty"`
	Image         string `json:"image,omitempty"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unitPrice"`
	OriginalPrice int64  `json:"originalPrice,omitempty"`
	Subtotal      int64  `json:"subtotal"`
}

type totalsPayload struct {
	Currency string `json:"currency"`
	Subtotal int64  `json:"subtotal"`
	Discount int64  `json:"discount"`
	Tax      int64  `json:"tax"`
	Shipping int64  `json:"shipping"`
	Total    int64  `json:"total"`
}

type freeItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type couponEvaluationPayload struct {
	Valid        bool              `json:"valid"`
	Code         string            `json:"code"`
	Reason       string            `json:"reason,omitempty"`
	Message      string            `json:"message,omitempty"`
	Discount     int64             `json:"discount"`
	FreeShipping bool              `json:"freeShipping"`
	FreeItems    []freeItemPayload `json:"freeItems"`
	Subtotal     int64             `json:"subtotal"`
	NewSubtotal  int64             `json:"newSubtotal"`
	NewShipping  int64             `json:"newShipping"`
	NewTotal     int64             `json:"newTotal"`
}

type customerPayload struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Guest  bool   `json:"guest"`
}

type addressPayload struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type historyPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
	Note          string `json:"note,omitempty"`
	Actor         string `json:"actor,omitempty"`
	Level         string `json:"level,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

type returnPayload struct {
	ID          string            `json:"id"`
	Lines       []freeItemPayload `json:"lines"`
	Reason      string            `json:"reason,omitempty"`
	Status      string            `json:"status"`
	RequestedAt string            `json:"requestedAt"`
}

type orderPayload struct {
	ID              string            `json:"id"`
	OrderNumber     string            `json:"orderNumber"`
	UserID          string            `json:"userId,omitempty"`
	Customer        customerPayload   `json:"customer"`
	ShippingAddress addressPayload    `json:"shippingAddress"`
	Items           []cartLinePayload `json:"items"`
	FreeItems       []freeItemPayload `json:"freeItems,omitempty"`
	CouponCode      string            `json:"couponCode,omitempty"`
	FreeShipping    bool              `json:"freeShipping,omitempty"`
	ShippingMethod  string            `json:"shippingMethod"`
	Totals          totalsPayload     `json:"totals"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"paymentStatus"`
	PaymentMethod   string            `json:"paymentMethod"`
	Payment         *paymentPayload   `json:"payment,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	History         []historyPayload  `json:"history"`
	HistoryCount    int               `json:"historyCount"`
	Returns         []returnPayload   `json:"returns,omitempty"`
	CreatedAt       string            `json:"createdAt"`
	UpdatedAt       string            `json:"updatedAt,omitempty"`
	PaidAt          string            `json:"paidAt,omitempty"`
	CancelledAt     string            `json:"cancelledAt,omitempty"`
}

// buildOrderPayload omits the client secret; it is only returned once from order creation.
func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Customer: customerPayload{
			UserID: order.Customer.UserID,
			Name:   order.Customer.Name,
			Email:  order.Customer.Email,
			Phone:  order.Customer.Phone,
			Guest:  order.Customer.Guest,
		},
		ShippingAddress: addressPayload(order.ShippingAddress),
		Items:           make([]cartLinePayload, 0, len(order.Items)),
		FreeItems:       buildFreeItems(order.FreeItems),
		CouponCode:      order.CouponCode,
		FreeShipping:    order.FreeShipping,
		ShippingMethod:  order.ShippingMethod,
		Totals:          buildTotalsPayload(order.Totals),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   string(order.PaymentMethod),
		Notes:           order.Notes,
		History:         make([]historyPayload, 0, len(order.History)),
		HistoryCount:    order.HistoryCount,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PaidAt:          formatTimePtr(order.PaidAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, cartLinePayload{
			ProductID:     item.ProductID,
			Name:          item.Name,
			SKU:           item.SKU,
			Image:         item.Image,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			OriginalPrice: item.OriginalPrice,
			Subtotal:      item.Subtotal,
		})
	}
	if order.Payment.Provider != "" {
		payload.Payment = &paymentPayload{
			Provider:    order.Payment.Provider,
			IntentID:    order.Payment.IntentID,
			RedirectURL: order.Payment.RedirectURL,
		}
	}
	for _, entry := range order.History {
		payload.History = append(payload.History, buildHistoryPayload(entry))
	}
	if payload.HistoryCount < len(payload.History) {
		payload.HistoryCount = len(payload.History)
	}
	for _, ret := range order.Returns {
		lines := make([]freeItemPayload, 0, len(ret.Lines))
		for _, line := range ret.Lines {
			lines = append(lines, freeItemPayload{ProductID: line.ProductID, Quantity: line.Quantity})
		}
		payload.Returns = append(payload.Returns, returnPayload{
			ID:          ret.ID,
			Lines:       lines,
			Reason:      ret.Reason,
			Status:      string(ret.Status),
			RequestedAt: formatTime(ret.RequestedAt),
		})
	}
	return payload
}

func buildHistoryPayload(entry domain.OrderHistoryEntry) historyPayload {
	return historyPayload{
		ID:            entry.ID,
		Status:        string(entry.Status),
		PaymentStatus: string(entry.PaymentStatus),
		Note:          entry.Note,
		Actor:         entry.Actor,
		Level:         string(entry.Level),
		CreatedAt:     formatTime(entry.CreatedAt),
	}
}

func buildTotalsPayload(totals domain.OrderTotals) totalsPayload {
	return totalsPayload(totals)
}

func buildFreeItems(items []domain.FreeItem) []freeItemPayload {
	out := make([]freeItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, freeItemPayload(item))
	}
	return out
}

func buildCouponEvaluation(eval services.CouponEvaluation) couponEvaluationPayload {
	return couponEvaluationPayload{
		Valid:        eval.Valid,
		Code:         eval.Code,
		Reason:       string(eval.Reason),
		Message:      eval.Message,
		Discount:     eval.Discount,
		FreeShipping: eval.FreeShipping,
		FreeItems:    buildFreeItems(eval.FreeItems),
		Subtotal:     eval.Subtotal,
		NewSubtotal:  eval.NewSubtotal,
		NewShipping:  eval.NewShipping,
		NewTotal:     eval.NewTotal,
	}
}
