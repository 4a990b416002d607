package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	couponsCollection     = "coupons"
	redemptionsCollection = "redemptions"
)

type couponDocument struct {
	Description       string     `firestore:"description,omitempty"`
	Type              string     `firestore:"discountType"`
	Value             float64    `firestore:"discountValue"`
	MaxDiscountAmount int64      `firestore:"maxDiscountAmount,omitempty"`
	MinPurchaseAmount *int64     `firestore:"minPurchaseAmount,omitempty"`
	LegacyMinPurchase *int64     `firestore:"minPurchase,omitempty"`
	StartsAt          *time.Time `firestore:"startDate,omitempty"`
	EndsAt            *time.Time `firestore:"expiryDate,omitempty"`
	UsageLimit        int        `firestore:"usageLimit,omitempty"`
	PerCustomerLimit  int        `firestore:"perCustomerLimit,omitempty"`
	UsageCount        int        `firestore:"usageCount"`
	Scope             string     `firestore:"applicableTo"`
	ProductIDs        []string   `firestore:"productIds"`
	CategoryIDs       []string   `firestore:"categoryIds"`
	ExcludedProducts  []string   `firestore:"excludedProducts"`
	ExcludedCategory  []string   `firestore:"excludedCategories"`
	CustomerType      string     `firestore:"customerType,omitempty"`
	FirstPurchaseOnly bool       `firestore:"firstPurchaseOnly"`
	ValidDays         []int      `firestore:"validDays"`
	StartHour         *int       `firestore:"startHour,omitempty"`
	EndHour           *int       `firestore:"endHour,omitempty"`
	BuyQuantity       int        `firestore:"buyQuantity,omitempty"`
	GetQuantity       int        `firestore:"getQuantity,omitempty"`
	GetProductID      string     `firestore:"getProductId,omitempty"`
	Active            bool       `firestore:"isActive"`
	Status            string     `firestore:"status"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

type redemptionDocument struct {
	Count       int       `firestore:"count"`
	LastOrderID string    `firestore:"lastOrderId,omitempty"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newCouponDocument(c domain.Coupon) couponDocument {
	minPurchase := c.MinPurchaseAmount
	days := make([]int, len(c.ValidDays))
	for i, d := range c.ValidDays {
		days[i] = int(d)
	}
	return couponDocument{
		Description:       c.Description,
		Type:              string(c.Type),
		Value:             c.Value,
		MaxDiscountAmount: c.MaxDiscountAmount,
		MinPurchaseAmount: &minPurchase,
		StartsAt:          utcPtr(c.StartsAt),
		EndsAt:            utcPtr(c.EndsAt),
		UsageLimit:        c.UsageLimit,
		PerCustomerLimit:  c.PerCustomerLimit,
		UsageCount:        c.UsageCount,
		Scope:             string(c.Scope),
		ProductIDs:        nonNilStrings(c.ProductIDs),
		CategoryIDs:       nonNilStrings(c.CategoryIDs),
		ExcludedProducts:  nonNilStrings(c.ExcludedProducts),
		ExcludedCategory:  nonNilStrings(c.ExcludedCategory),
		CustomerType:      string(c.CustomerType),
		FirstPurchaseOnly: c.FirstPurchaseOnly,
		ValidDays:         days,
		StartHour:         c.StartHour,
		EndHour:           c.EndHour,
		BuyQuantity:       c.BuyQuantity,
		GetQuantity:       c.GetQuantity,
		GetProductID:      strings.TrimSpace(c.GetProductID),
		Active:            c.Active,
		Status:            string(c.Status),
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
}

// toDomain converts the document; legacy reports whether minPurchase was used in place of minPurchaseAmount.
func (d couponDocument) toDomain(code string) (coupon domain.Coupon, legacy bool) {
	var minPurchase int64
	switch {
	case d.MinPurchaseAmount != nil:
		minPurchase = *d.MinPurchaseAmount
	case d.LegacyMinPurchase != nil:
		minPurchase = *d.LegacyMinPurchase
		legacy = true
	}
	days := make([]time.Weekday, 0, len(d.ValidDays))
	for _, day := range d.ValidDays {
		if day >= 0 && day <= 6 {
			days = append(days, time.Weekday(day))
		}
	}
	scope := domain.CouponScope(d.Scope)
	if scope == "" {
		scope = domain.CouponScopeAll
	}
	return domain.Coupon{
		Code:              code,
		Description:       d.Description,
		Type:              domain.DiscountType(d.Type),
		Value:             d.Value,
		MaxDiscountAmount: d.MaxDiscountAmount,
		MinPurchaseAmount: minPurchase,
		StartsAt:          d.StartsAt,
		EndsAt:            d.EndsAt,
		UsageLimit:        d.UsageLimit,
		PerCustomerLimit:  d.PerCustomerLimit,
		UsageCount:        d.UsageCount,
		Scope:             scope,
		ProductIDs:        d.ProductIDs,
		CategoryIDs:       d.CategoryIDs,
		ExcludedProducts:  d.ExcludedProducts,
		ExcludedCategory:  d.ExcludedCategory,
		CustomerType:      domain.CustomerType(d.CustomerType),
		FirstPurchaseOnly: d.FirstPurchaseOnly,
		ValidDays:         days,
		StartHour:         d.StartHour,
		EndHour:           d.EndHour,
		BuyQuantity:       d.BuyQuantity,
		GetQuantity:       d.GetQuantity,
		GetProductID:      d.GetProductID,
		Active:            d.Active,
		Status:            domain.CouponStatus(d.Status),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, legacy
}

// CouponRepository persists coupons under their uppercase code.
type CouponRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[couponDocument]
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// CouponRepositoryOption customises the coupon repository.
type CouponRepositoryOption func(*CouponRepository)

// WithCouponLogger reports decoding anomalies such as legacy field names.
func WithCouponLogger(logger func(ctx context.Context, event string, fields map[string]any)) CouponRepositoryOption {
	return func(r *CouponRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider, opts ...CouponRepositoryOption) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	repo := &CouponRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection),
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = couponKey(code)
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return r.decode(ctx, doc.ID, doc.Data), nil
}

func (r *CouponRepository) Save(ctx context.Context, coupon domain.Coupon) error {
	code := couponKey(coupon.Code)
	doc := newCouponDocument(coupon)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		// usage counters are owned by order placement; an admin save keeps the stored value.
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			var existing couponDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode coupon %s: %w", code, err)
			}
			doc.UsageCount = existing.UsageCount
			if !existing.CreatedAt.IsZero() {
				doc.CreatedAt = existing.CreatedAt
			}
		case codes.NotFound:
		default:
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("coupons.save", err)
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	ref, err := r.base.DocumentRef(ctx, couponKey(code))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	pageSize := clampPageSize(filter.Pagination.PageSize)
	cursor, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, pfirestore.WrapError("coupons.list", err)
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if cursor != nil {
			q = q.StartAfter(cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	items := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		items = append(items, r.decode(ctx, doc.ID, doc.Data))
	}
	items, next, err := trimPage(items, pageSize, func(c domain.Coupon) pageCursor { return pageCursor{ID: c.Code} })
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	return domain.CursorPage[domain.Coupon]{Items: items, NextPageToken: next}, nil
}

func (r *CouponRepository) CountRedemptions(ctx context.Context, code string, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, nil
	}
	ref, err := r.base.DocumentRef(ctx, couponKey(code))
	if err != nil {
		return 0, err
	}
	snap, err := ref.Collection(redemptionsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, pfirestore.WrapError("coupons.countRedemptions", err)
	}
	var doc redemptionDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("decode redemption %s/%s: %w", code, userID, err)
	}
	return doc.Count, nil
}

func (r *CouponRepository) decode(ctx context.Context, code string, doc couponDocument) domain.Coupon {
	coupon, legacy := doc.toDomain(code)
	if legacy {
		r.logger(ctx, "coupon.legacy_min_purchase", map[string]any{
			"code":        code,
			"minPurchase": coupon.MinPurchaseAmount,
		})
	}
	return coupon
}

func couponKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
