package firestore

import (
	"strings"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

// recentHistoryLimit caps the history entries embedded in the order document.
const recentHistoryLimit = 20

type orderDocument struct {
	OrderNumber     string                 `firestore:"orderNumber"`
	UserID          string                 `firestore:"userId"`
	Customer        customerDocument       `firestore:"customer"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	Items           []orderItemDocument    `firestore:"items"`
	CouponCode      string                 `firestore:"couponCode,omitempty"`
	FreeShipping    bool                   `firestore:"freeShipping"`
	FreeItems       []freeItemDocument     `firestore:"freeItems,omitempty"`
	ShippingMethod  string                 `firestore:"shippingMethod"`
	Currency        string                 `firestore:"currency"`
	Subtotal        int64                  `firestore:"subtotal"`
	Discount        int64                  `firestore:"discount"`
	Tax             int64                  `firestore:"tax"`
	Shipping        int64                  `firestore:"shipping"`
	Total           int64                  `firestore:"total"`
	Status          string                 `firestore:"status"`
	PaymentStatus   string                 `firestore:"paymentStatus"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	Payment         paymentDocument        `firestore:"payment"`
	Notes           string                 `firestore:"notes,omitempty"`
	StockCommitted  bool                   `firestore:"stockCommitted"`
	History         []historyEntryDocument `firestore:"history"`
	HistoryCount    int                    `firestore:"historyCount"`
	Returns         []returnDocument       `firestore:"returns,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
	PaidAt          *time.Time             `firestore:"paidAt,omitempty"`
	CancelledAt     *time.Time             `firestore:"cancelledAt,omitempty"`
}

type customerDocument struct {
	UserID string `firestore:"userId"`
	Name   string `firestore:"name"`
	Email  string `firestore:"email"`
	Phone  string `firestore:"phone,omitempty"`
	Guest  bool   `firestore:"isGuest"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderItemDocument struct {
	ProductID     string `firestore:"productId"`
	Name          string `firestore:"name"`
	SKU           string `firestore:"sku,omitempty"`
	Image         string `firestore:"image,omitempty"`
	Quantity      int    `firestore:"quantity"`
	UnitPrice     int64  `firestore:"unitPrice"`
	OriginalPrice int64  `firestore:"originalPrice,omitempty"`
	Subtotal      int64  `firestore:"subtotal"`
}

type freeItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type paymentDocument struct {
	Provider     string `firestore:"provider,omitempty"`
	IntentID     string `firestore:"intentId,omitempty"`
	ClientSecret string `firestore:"clientSecret,omitempty"`
	RedirectURL  string `firestore:"redirectUrl,omitempty"`
}

type historyEntryDocument struct {
	ID            string    `firestore:"id"`
	Status        string    `firestore:"status"`
	PaymentStatus string    `firestore:"paymentStatus"`
	Note          string    `firestore:"note,omitempty"`
	Actor         string    `firestore:"actor,omitempty"`
	Level         string    `firestore:"level"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

type returnDocument struct {
	ID          string               `firestore:"id"`
	Lines       []returnLineDocument `firestore:"lines"`
	Reason      string               `firestore:"reason,omitempty"`
	Status      string               `firestore:"status"`
	RequestedAt time.Time            `firestore:"requestedAt"`
	UpdatedAt   time.Time            `firestore:"updatedAt"`
}

type returnLineDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument(item)
	}
	free := make([]freeItemDocument, len(o.FreeItems))
	for i, item := range o.FreeItems {
		free[i] = freeItemDocument(item)
	}
	history := make([]historyEntryDocument, len(o.History))
	for i, entry := range o.History {
		history[i] = newHistoryEntryDocument(entry)
	}
	returns := make([]returnDocument, len(o.Returns))
	for i, ret := range o.Returns {
		returns[i] = newReturnDocument(ret)
	}
	return orderDocument{
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Customer:        customerDocument(o.Customer),
		ShippingAddress: addressDocument(o.ShippingAddress),
		Items:           items,
		CouponCode:      o.CouponCode,
		FreeShipping:    o.FreeShipping,
		FreeItems:       free,
		ShippingMethod:  o.ShippingMethod,
		Currency:        o.Totals.Currency,
		Subtotal:        o.Totals.Subtotal,
		Discount:        o.Totals.Discount,
		Tax:             o.Totals.Tax,
		Shipping:        o.Totals.Shipping,
		Total:           o.Totals.Total,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentMethod:   string(o.PaymentMethod),
		Payment:         paymentDocument(o.Payment),
		Notes:           strings.TrimSpace(o.Notes),
		StockCommitted:  o.StockCommitted,
		History:         history,
		HistoryCount:    o.HistoryCount,
		Returns:         returns,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		PaidAt:          utcPtr(o.PaidAt),
		CancelledAt:     utcPtr(o.CancelledAt),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem(item)
	}
	var free []domain.FreeItem
	for _, item := range d.FreeItems {
		free = append(free, domain.FreeItem(item))
	}
	history := make([]domain.OrderHistoryEntry, len(d.History))
	for i, entry := range d.History {
		history[i] = entry.toDomain()
	}
	var returns []domain.OrderReturn
	for _, ret := range d.Returns {
		returns = append(returns, ret.toDomain())
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		Customer:        domain.CustomerProfile(d.Customer),
		ShippingAddress: domain.Address(d.ShippingAddress),
		Items:           items,
		CouponCode:      d.CouponCode,
		FreeShipping:    d.FreeShipping,
		FreeItems:       free,
		ShippingMethod:  d.ShippingMethod,
		Totals: domain.OrderTotals{
			Currency: d.Currency,
			Subtotal: d.Subtotal,
			Discount: d.Discount,
			Tax:      d.Tax,
			Shipping: d.Shipping,
			Total:    d.Total,
		},
		Status:         domain.OrderStatus(d.Status),
		PaymentStatus:  domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		Payment:        domain.PaymentReference(d.Payment),
		Notes:          d.Notes,
		StockCommitted: d.StockCommitted,
		History:        history,
		HistoryCount:   d.HistoryCount,
		Returns:        returns,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		PaidAt:         d.PaidAt,
		CancelledAt:    d.CancelledAt,
	}
}

// appendHistory adds entry to the embedded recent history, keeping the newest entries only.
func (d *orderDocument) appendHistory(entry domain.OrderHistoryEntry) {
	d.History = append(d.History, newHistoryEntryDocument(entry))
	if len(d.History) > recentHistoryLimit {
		d.History = append([]historyEntryDocument(nil), d.History[len(d.History)-recentHistoryLimit:]...)
	}
	d.HistoryCount++
}

func newHistoryEntryDocument(e domain.OrderHistoryEntry) historyEntryDocument {
	level := e.Level
	if level == "" {
		level = domain.HistoryLevelInfo
	}
	return historyEntryDocument{
		ID:            e.ID,
		Status:        string(e.Status),
		PaymentStatus: string(e.PaymentStatus),
		Note:          strings.TrimSpace(e.Note),
		Actor:         strings.TrimSpace(e.Actor),
		Level:         string(level),
		CreatedAt:     e.CreatedAt.UTC(),
	}
}

func (d historyEntryDocument) toDomain() domain.OrderHistoryEntry {
	return domain.OrderHistoryEntry{
		ID:            d.ID,
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Note:          d.Note,
		Actor:         d.Actor,
		Level:         domain.HistoryLevel(d.Level),
		CreatedAt:     d.CreatedAt,
	}
}

func newReturnDocument(r domain.OrderReturn) returnDocument {
	lines := make([]returnLineDocument, len(r.Lines))
	for i, line := range r.Lines {
		lines[i] = returnLineDocument(line)
	}
	return returnDocument{
		ID:          r.ID,
		Lines:       lines,
		Reason:      strings.TrimSpace(r.Reason),
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (d returnDocument) toDomain() domain.OrderReturn {
	lines := make([]domain.ReturnLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.ReturnLine(line)
	}
	return domain.OrderReturn{
		ID:          d.ID,
		Lines:       lines,
		Reason:      d.Reason,
		Status:      domain.ReturnStatus(d.Status),
		RequestedAt: d.RequestedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// stockDemand sums units per product across paid and free lines, in first-seen order.
func (d orderDocument) stockDemand() ([]string, map[string]int) {
	demand := make(map[string]int, len(d.Items)+len(d.FreeItems))
	var ids []string
	add := func(productID string, qty int) {
		if _, seen := demand[productID]; !seen {
			ids = append(ids, productID)
		}
		demand[productID] += qty
	}
	for _, item := range d.Items {
		add(item.ProductID, item.Quantity)
	}
	for _, item := range d.FreeItems {
		add(item.ProductID, item.Quantity)
	}
	return ids, demand
}
