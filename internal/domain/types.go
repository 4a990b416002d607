package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductStatus enumerates catalog visibility states.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

// Product is a sellable catalog entry. Prices are stored in minor units.
type Product struct {
	ID             string
	Name           string
	SKU            string
	Slug           string
	Description    string
	Brand          string
	GTIN           string
	CategoryIDs    []string
	Images         []string
	Price          int64
	CompareAtPrice int64
	Currency       string
	Stock          int
	Status         ProductStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Purchasable reports whether the product can currently be added to an order.
func (p Product) Purchasable() bool {
	return p.Status == ProductStatusActive && p.Price >= 0
}

// CartLine is the request-scoped representation of a product in a cart after re-pricing.
type CartLine struct {
	ProductID     string
	Name          string
	SKU           string
	Image         string
	CategoryIDs   []string
	Quantity      int
	UnitPrice     int64
	OriginalPrice int64
	Subtotal      int64
}

// User is the account backing a customer, registered or guest.
type User struct {
	ID          string
	Email       string
	Phone       string
	Name        string
	Role        string
	Blocked     bool
	VIP         bool
	Guest       bool
	OrdersCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CustomerProfile is the snapshot of the buyer stored on an order.
type CustomerProfile struct {
	UserID string
	Name   string
	Email  string
	Phone  string
	Guest  bool
}

// Address captures a postal address for shipping.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// DiscountType enumerates coupon discount strategies.
type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "percentage"
	DiscountTypeFixed        DiscountType = "fixed"
	DiscountTypeFreeShipping DiscountType = "free_shipping"
	DiscountTypeBuyXGetY     DiscountType = "buy_x_get_y"
)

// CouponStatus captures the lifecycle state of a coupon.
type CouponStatus string

const (
	CouponStatusActive    CouponStatus = "active"
	CouponStatusInactive  CouponStatus = "inactive"
	CouponStatusScheduled CouponStatus = "scheduled"
	CouponStatusExpired   CouponStatus = "expired"
)

// CouponScope describes which cart lines a coupon applies to.
type CouponScope string

const (
	CouponScopeAll        CouponScope = "all"
	CouponScopeProducts   CouponScope = "products"
	CouponScopeCategories CouponScope = "categories"
)

// CustomerType restricts coupons to a segment of customers.
type CustomerType string

const (
	CustomerTypeAll       CustomerType = "all"
	CustomerTypeNew       CustomerType = "new"
	CustomerTypeReturning CustomerType = "returning"
	CustomerTypeVIP       CustomerType = "vip"
)

// Coupon models a promotional offer keyed by its uppercase code.
type Coupon struct {
	Code              string
	Description       string
	Type              DiscountType
	Value             float64
	MaxDiscountAmount int64
	MinPurchaseAmount int64
	StartsAt          *time.Time
	EndsAt            *time.Time
	UsageLimit        int
	PerCustomerLimit  int
	UsageCount        int
	Scope             CouponScope
	ProductIDs        []string
	CategoryIDs       []string
	ExcludedProducts  []string
	ExcludedCategory  []string
	CustomerType      CustomerType
	FirstPurchaseOnly bool
	ValidDays         []time.Weekday
	StartHour         *int
	EndHour           *int
	BuyQuantity       int
	GetQuantity       int
	GetProductID      string
	Active            bool
	Status            CouponStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FreeItem describes units granted at no cost by a buy-x-get-y offer.
type FreeItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// OrderStatus enumerates the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusOnHold     OrderStatus = "on_hold"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// PaymentStatus enumerates the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// PaymentMethod identifies how the buyer pays.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodTabby  PaymentMethod = "tabby"
)

// Hosted reports whether the method requires a payment gateway session.
func (m PaymentMethod) Hosted() bool {
	return m == PaymentMethodStripe || m == PaymentMethodTabby
}

// OrderTotals groups the computed monetary values of an order.
type OrderTotals struct {
	Currency string
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
}

// OrderLineItem is a point-in-time snapshot of a purchased product.
type OrderLineItem struct {
	ProductID     string
	Name          string
	SKU           string
	Image         string
	Quantity      int
	UnitPrice     int64
	OriginalPrice int64
	Subtotal      int64
}

// PaymentReference stores gateway identifiers attached to an order.
type PaymentReference struct {
	Provider     string
	IntentID     string
	ClientSecret string
	RedirectURL  string
}

// HistoryLevel marks the severity of an order history entry.
type HistoryLevel string

const (
	HistoryLevelInfo    HistoryLevel = "info"
	HistoryLevelWarning HistoryLevel = "warning"
)

// OrderHistoryEntry is one append-only record of an order transition.
type OrderHistoryEntry struct {
	ID            string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Note          string
	Actor         string
	Level         HistoryLevel
	CreatedAt     time.Time
}

// ReturnStatus enumerates states of a return request.
type ReturnStatus string

const (
	ReturnStatusRequested ReturnStatus = "requested"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusReceived  ReturnStatus = "received"
)

// ReturnLine identifies a returned quantity of a product.
type ReturnLine struct {
	ProductID string
	Quantity  int
}

// OrderReturn is a return request attached to an order.
type OrderReturn struct {
	ID          string
	Lines       []ReturnLine
	Reason      string
	Status      ReturnStatus
	RequestedAt time.Time
	UpdatedAt   time.Time
}

// Order captures a placed order with its pricing snapshot and lifecycle.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Customer        CustomerProfile
	ShippingAddress Address
	Items           []OrderLineItem
	CouponCode      string
	FreeShipping    bool
	FreeItems       []FreeItem
	ShippingMethod  string
	Totals          OrderTotals
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	Payment         PaymentReference
	Notes           string
	StockCommitted  bool
	History         []OrderHistoryEntry
	HistoryCount    int
	Returns         []OrderReturn
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
}

// ShippingMethod describes a selectable delivery option.
type ShippingMethod struct {
	Name                  string
	Cost                  int64
	FreeShippingThreshold int64
	EstimatedDays         int
}

// Settings is the store-wide configuration singleton.
type Settings struct {
	StoreName         string
	AdminEmail        string
	Currency          string
	TaxRate           float64
	Timezone          string
	LowStockThreshold int
	OrderPrefix       string
	ShippingMethods   []ShippingMethod
	UpdatedAt         time.Time
}

// ShippingMethod returns the named shipping method (case-insensitive).
func (s Settings) ShippingMethod(name string) (ShippingMethod, bool) {
	for _, method := range s.ShippingMethods {
		if equalFoldTrim(method.Name, name) {
			return method, true
		}
	}
	return ShippingMethod{}, false
}

// Location resolves the store time zone, defaulting to UTC.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StockLevel reports the stock of a product after a decrement.
type StockLevel struct {
	ProductID string
	Name      string
	SKU       string
	Stock     int
}

// ContentKind enumerates the CMS collections.
type ContentKind string

const (
	ContentKindBlog   ContentKind = "blogs"
	ContentKindFAQ    ContentKind = "faqs"
	ContentKindBanner ContentKind = "banners"
)

// BlogPost is a markdown article rendered to sanitized HTML on save.
type BlogPost struct {
	ID          string
	Slug        string
	Title       string
	Excerpt     string
	Body        string
	HTML        string
	Tags        []string
	CoverImage  string
	Published   bool
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FAQ is a question and answer pair shown on the storefront.
type FAQ struct {
	ID        string
	Question  string
	Answer    string
	Category  string
	Position  int
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Banner is a promotional image placement with an optional schedule.
type Banner struct {
	ID        string
	Title     string
	ImageURL  string
	LinkURL   string
	Placement string
	Position  int
	Active    bool
	StartsAt  *time.Time
	EndsAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LiveAt reports whether the banner should be displayed at the given time.
func (b Banner) LiveAt(now time.Time) bool {
	if !b.Active {
		return false
	}
	if b.StartsAt != nil && now.Before(*b.StartsAt) {
		return false
	}
	if b.EndsAt != nil && !now.Before(*b.EndsAt) {
		return false
	}
	return true
}

// MerchantConnection stores the OAuth2 grant used for Merchant Center calls.
type MerchantConnection struct {
	MerchantID   string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	ConnectedAt  time.Time
	UpdatedAt    time.Time
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthReport aggregates dependency health for readiness probes.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SystemHealthCheck reports the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}
