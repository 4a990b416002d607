package repositories

import (
	"context"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Users() UserRepository
	Settings() SettingsRepository
	Counters() CounterRepository
	Content() ContentRepository
	Merchant() MerchantConnectionRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySKU(ctx context.Context, sku string) (domain.Product, error)
	// FindByIDs returns the products that exist keyed by ID; missing IDs are omitted.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// CouponRepository persists coupons keyed by their uppercase code and tracks redemptions.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	Save(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, code string) error
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	CountRedemptions(ctx context.Context, code string, userID string) (int, error)
}

// OrderRepository owns order persistence. Placement and transitions run in transactions.
type OrderRepository interface {
	Place(ctx context.Context, req OrderPlacementRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListHistory(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderHistoryEntry], error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Transition(ctx context.Context, req OrderTransitionRequest) (OrderTransitionResult, error)
	AppendHistory(ctx context.Context, orderID string, entry domain.OrderHistoryEntry) error
	SetPayment(ctx context.Context, orderID string, payment domain.PaymentReference, now time.Time) error
	AddReturn(ctx context.Context, orderID string, ret domain.OrderReturn, entry domain.OrderHistoryEntry) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
}

// UserRepository persists customer accounts.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	// FindOrCreateByEmail returns the account owning the email, creating candidate when none exists.
	FindOrCreateByEmail(ctx context.Context, candidate domain.User) (domain.User, bool, error)
}

// SettingsRepository persists the store settings singleton.
type SettingsRepository interface {
	Get(ctx context.Context) (domain.Settings, error)
	// GetOrCreate returns stored settings, writing defaults in a transaction when absent.
	GetOrCreate(ctx context.Context, defaults domain.Settings) (domain.Settings, error)
	Save(ctx context.Context, settings domain.Settings) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// ContentRepository persists CMS documents.
type ContentRepository interface {
	ListBlogs(ctx context.Context, filter ContentListFilter) (domain.CursorPage[domain.BlogPost], error)
	FindBlog(ctx context.Context, blogID string) (domain.BlogPost, error)
	FindBlogBySlug(ctx context.Context, slug string) (domain.BlogPost, error)
	SaveBlog(ctx context.Context, post domain.BlogPost) error
	DeleteBlog(ctx context.Context, blogID string) error

	ListFAQs(ctx context.Context, filter ContentListFilter) ([]domain.FAQ, error)
	FindFAQ(ctx context.Context, faqID string) (domain.FAQ, error)
	SaveFAQ(ctx context.Context, faq domain.FAQ) error
	DeleteFAQ(ctx context.Context, faqID string) error

	ListBanners(ctx context.Context, filter ContentListFilter) ([]domain.Banner, error)
	FindBanner(ctx context.Context, bannerID string) (domain.Banner, error)
	SaveBanner(ctx context.Context, banner domain.Banner) error
	DeleteBanner(ctx context.Context, bannerID string) error
}

// MerchantConnectionRepository stores the Merchant Center OAuth2 grant.
type MerchantConnectionRepository interface {
	Get(ctx context.Context) (domain.MerchantConnection, error)
	Save(ctx context.Context, conn domain.MerchantConnection) error
	Delete(ctx context.Context) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderPlacementRequest describes everything written atomically when an order is placed.
type OrderPlacementRequest struct {
	Order domain.Order
	// Sequence allocates the human readable order number inside the transaction.
	Sequence OrderSequence
	// Coupon, when set, is re-checked and its usage counters incremented in the same transaction.
	Coupon *CouponRedemption
	Now    time.Time
}

// OrderSequence names the counter backing order numbers and formats the allocated value.
type OrderSequence struct {
	CounterID string
	Format    func(seq int64) string
}

// CouponRedemption identifies the usage to record for a coupon.
type CouponRedemption struct {
	Code   string
	UserID string
}

// OrderTransitionRequest moves an order to a new state when its current status is expected.
type OrderTransitionRequest struct {
	OrderID string
	// From lists the statuses from which the transition may start; empty accepts any.
	From          []domain.OrderStatus
	To            domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	// CommitStock decrements product stock once per order, guarded by Order.StockCommitted.
	CommitStock bool
	MarkPaid    bool
	MarkCancel  bool
	History     domain.OrderHistoryEntry
	Now         time.Time
}

// OrderTransitionResult reports the order after the transaction.
type OrderTransitionResult struct {
	Order domain.Order
	// Applied is false when the current status was not in From; Order then holds the unchanged state.
	Applied bool
	// Stock lists post-decrement stock for each committed product.
	Stock []domain.StockLevel
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Status     []domain.ProductStatus
	CategoryID string
	Pagination domain.Pagination
}

type CouponListFilter struct {
	Status     []domain.CouponStatus
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ContentListFilter struct {
	PublishedOnly bool
	Placement     string
	Category      string
	Tag           string
	Pagination    domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
