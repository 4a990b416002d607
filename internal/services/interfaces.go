package services

import (
	"context"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/payments"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	CartLine           = domain.CartLine
	User               = domain.User
	Address            = domain.Address
	Coupon             = domain.Coupon
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderTotals        = domain.OrderTotals
	OrderHistoryEntry  = domain.OrderHistoryEntry
	OrderReturn        = domain.OrderReturn
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	Settings           = domain.Settings
	ShippingMethod     = domain.ShippingMethod
	StockLevel         = domain.StockLevel
	BlogPost           = domain.BlogPost
	FAQ                = domain.FAQ
	Banner             = domain.Banner
	MerchantConnection = domain.MerchantConnection
	SystemHealthReport = domain.SystemHealthReport
)

// SettingsService serves the store settings singleton from a refreshable cache.
type SettingsService interface {
	Get(ctx context.Context) (Settings, error)
	Update(ctx context.Context, cmd UpdateSettingsCommand) (Settings, error)
	Refresh(ctx context.Context) (Settings, error)
}

// UserService resolves the customer placing an order.
type UserService interface {
	GetUser(ctx context.Context, userID string) (User, error)
	ResolveBuyer(ctx context.Context, cmd ResolveBuyerCommand) (User, error)
}

// CouponService validates coupons against carts and manages coupon definitions.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponEvaluation, error)
	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error)
	GetCoupon(ctx context.Context, code string) (Coupon, error)
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	DeleteCoupon(ctx context.Context, code string) error
}

// CounterService allocates human readable sequence numbers.
type CounterService interface {
	// OrderSequence describes the per-day counter used inside order placement.
	OrderSequence(now time.Time, prefix string) repositories.OrderSequence
	NextReturnNumber(ctx context.Context) (string, error)
}

// OrderService encapsulates order creation, previews and admin flows.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderPlacement, error)
	SummarizeOrder(ctx context.Context, cmd SummarizeOrderCommand) (OrderSummary, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListOrderHistory(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[OrderHistoryEntry], error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error)
}

// FulfillmentService confirms payment and commits stock for placed orders.
type FulfillmentService interface {
	FulfillOrder(ctx context.Context, orderID string) (FulfillmentResult, error)
}

// PaymentService handles PSP webhooks and pre-checkout payment queries.
type PaymentService interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error)
	HandleTabbyWebhook(ctx context.Context, payload []byte) (WebhookOutcome, error)
	CheckTabbyEligibility(ctx context.Context, cmd TabbyEligibilityCommand) (payments.Eligibility, error)
}

// NotificationService sends transactional emails. Failures are reported, never retried inline.
type NotificationService interface {
	OrderPlaced(ctx context.Context, order Order) error
	OrderStatusChanged(ctx context.Context, order Order, previous OrderStatus) error
	OrderCancelled(ctx context.Context, order Order) error
	LowStock(ctx context.Context, levels []StockLevel) error
}

// CatalogService manages products for public and admin usage.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListAdminProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
	GetAdminProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	ImportProducts(ctx context.Context, cmd ImportProductsCommand) (ProductImportReport, error)
	CreateImageUpload(ctx context.Context, cmd CreateProductImageUploadCommand) (ProductImageUpload, error)
}

// ContentService provides read/write access to CMS content for public and admin usage.
type ContentService interface {
	ListBlogs(ctx context.Context, filter ContentFilter) (domain.CursorPage[BlogPost], error)
	GetBlogBySlug(ctx context.Context, slug string) (BlogPost, error)
	ListFAQs(ctx context.Context, filter ContentFilter) ([]FAQ, error)
	ListBanners(ctx context.Context, placement string) ([]Banner, error)

	ListAdminBlogs(ctx context.Context, filter ContentFilter) (domain.CursorPage[BlogPost], error)
	GetBlog(ctx context.Context, blogID string) (BlogPost, error)
	UpsertBlog(ctx context.Context, cmd UpsertBlogCommand) (BlogPost, error)
	DeleteBlog(ctx context.Context, blogID string) error

	ListAdminFAQs(ctx context.Context, filter ContentFilter) ([]FAQ, error)
	GetFAQ(ctx context.Context, faqID string) (FAQ, error)
	UpsertFAQ(ctx context.Context, cmd UpsertFAQCommand) (FAQ, error)
	DeleteFAQ(ctx context.Context, faqID string) error

	ListAdminBanners(ctx context.Context, placement string) ([]Banner, error)
	GetBanner(ctx context.Context, bannerID string) (Banner, error)
	UpsertBanner(ctx context.Context, cmd UpsertBannerCommand) (Banner, error)
	DeleteBanner(ctx context.Context, bannerID string) error
}

// MerchantService mirrors the catalog into Google Merchant Center.
type MerchantService interface {
	AuthURL(ctx context.Context, state string) (string, error)
	CompleteAuthorization(ctx context.Context, code string) (MerchantConnection, error)
	UpsertProduct(ctx context.Context, productID string) (MerchantProductResult, error)
	DeleteProduct(ctx context.Context, productID string) error
	ListFeeds(ctx context.Context) ([]MerchantFeed, error)
	CreateFeed(ctx context.Context, cmd CreateMerchantFeedCommand) (MerchantFeed, error)
	SyncCatalog(ctx context.Context) (MerchantSyncReport, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

// CartLineInput is a client supplied cart line. Prices are always resolved server side.
type CartLineInput struct {
	ProductID string
	Quantity  int
}

type UpdateSettingsCommand struct {
	Settings Settings
	ActorID  string
}

type ResolveBuyerCommand struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

type ValidateCouponCommand struct {
	Code           string
	UserID         string
	Lines          []CartLineInput
	ShippingMethod string
}

type CouponListFilter = repositories.CouponListFilter

type UpsertCouponCommand struct {
	Coupon  Coupon
	ActorID string
}

type CreateOrderCommand struct {
	UserID          string
	Buyer           ResolveBuyerCommand
	Lines           []CartLineInput
	CouponCode      string
	ShippingMethod  string
	PaymentMethod   PaymentMethod
	ShippingAddress Address
	Notes           string
	SuccessURL      string
	CancelURL       string
	FailureURL      string
	Language        string
	IdempotencyKey  string
}

// OrderPlacement is the outcome of CreateOrder.
type OrderPlacement struct {
	Order   Order
	Payment domain.PaymentReference
	// Fulfillment is set for cash-on-delivery orders, which are fulfilled immediately.
	Fulfillment *FulfillmentResult
}

type SummarizeOrderCommand struct {
	UserID         string
	Lines          []CartLineInput
	CouponCode     string
	ShippingMethod string
}

// OrderSummary is a price preview computed without persisting anything.
type OrderSummary struct {
	Lines          []CartLine
	Totals         OrderTotals
	ShippingMethod string
	Coupon         *CouponEvaluation
	FreeItems      []domain.FreeItem
}

type OrderListFilter = repositories.OrderListFilter

type UpdateOrderStatusCommand struct {
	OrderID       string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Note          string
	ActorID       string
}

type DeleteOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type RequestReturnCommand struct {
	OrderID string
	UserID  string
	Lines   []domain.ReturnLine
	Reason  string
}

// FulfillmentOutcome reports what FulfillOrder did.
type FulfillmentOutcome string

const (
	FulfillmentFulfilled         FulfillmentOutcome = "fulfilled"
	FulfillmentAlreadyFulfilled  FulfillmentOutcome = "already_fulfilled"
	FulfillmentPaymentIncomplete FulfillmentOutcome = "payment_incomplete"
	// FulfillmentOutOfStock means the order was put on hold because stock could not cover it.
	FulfillmentOutOfStock FulfillmentOutcome = "out_of_stock"
)

type FulfillmentResult struct {
	Outcome  FulfillmentOutcome
	Order    Order
	LowStock []StockLevel
}

// WebhookOutcome summarises how a PSP event affected an order.
type WebhookOutcome struct {
	EventType string
	OrderID   string
	Action    string
}

type TabbyEligibilityCommand struct {
	UserID         string
	Buyer          ResolveBuyerCommand
	Lines          []CartLineInput
	CouponCode     string
	ShippingMethod string
	Language       string
}

type ProductFilter struct {
	Status     []domain.ProductStatus
	CategoryID string
	Pagination Pagination
}

type UpsertProductCommand struct {
	Product Product
	ActorID string
}

// ImportProductsCommand carries raw product records or a gs:// object reference.
type ImportProductsCommand struct {
	Payload   []byte
	SourceURI string
	ActorID   string
}

// ProductImportRow reports the outcome for one imported record.
type ProductImportRow struct {
	Index     int
	ProductID string
	SKU       string
	Action    string
	Error     string
	// Unmapped lists source keys that matched no product attribute.
	Unmapped []string
}

type ProductImportReport struct {
	Created int
	Updated int
	Failed  int
	Rows    []ProductImportRow
}

type CreateProductImageUploadCommand struct {
	ProductID   string
	FileName    string
	ContentType string
}

// ProductImageUpload tells the client where to PUT the image and the URL to store on the product afterwards.
type ProductImageUpload struct {
	ObjectPath string
	UploadURL  string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
	PublicURL  string
}

type ContentFilter struct {
	Category   string
	Tag        string
	Pagination Pagination
}

type UpsertBlogCommand struct {
	Post    BlogPost
	ActorID string
}

type UpsertFAQCommand struct {
	FAQ     FAQ
	ActorID string
}

type UpsertBannerCommand struct {
	Banner  Banner
	ActorID string
}

// MerchantProductResult reports the Merchant Center product written for a catalog product.
type MerchantProductResult struct {
	ProductID  string
	MerchantID string
	OfferID    string
}

type MerchantFeed struct {
	ID          string
	Name        string
	FileName    string
	ContentType string
	Countries   []string
	Language    string
}

type CreateMerchantFeedCommand struct {
	Name      string
	FileName  string
	Country   string
	Language  string
	FetchURL  string
	FetchHour int
}

type MerchantSyncReport struct {
	Synced int
	Failed int
	Errors map[string]string
}
