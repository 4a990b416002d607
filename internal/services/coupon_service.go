package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,31}$`)

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons  repositories.CouponRepository
	Products repositories.ProductRepository
	Orders   repositories.OrderRepository
	Users    repositories.UserRepository
	Settings SettingsService
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons  repositories.CouponRepository
	products repositories.ProductRepository
	lookup   couponLookup
	settings SettingsService
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCouponService wires a CouponService backed by the provided repositories.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("coupon service: product repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("coupon service: settings service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons:  deps.Coupons,
		products: deps.Products,
		lookup: couponLookup{
			coupons: deps.Coupons,
			orders:  deps.Orders,
			users:   deps.Users,
		},
		settings: deps.Settings,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Validate re-prices the cart and evaluates the coupon. Rejections are returned as a result, not an error.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponEvaluation, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponEvaluation{}, ErrCouponInvalidCode
	}
	lines, err := priceCartLines(ctx, s.products, cmd.Lines, false)
	if err != nil {
		return CouponEvaluation{}, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return CouponEvaluation{}, err
	}
	method := strings.TrimSpace(cmd.ShippingMethod)
	if method == "" && len(settings.ShippingMethods) > 0 {
		method = settings.ShippingMethods[0].Name
	}
	shipping, err := ShippingCost(settings, method, domain.SubtotalOf(lines))
	if err != nil {
		return CouponEvaluation{}, err
	}

	var user *domain.User
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && s.lookup.users != nil {
		found, err := s.lookup.users.FindByID(ctx, userID)
		switch {
		case err == nil:
			user = &found
		case !isRepositoryNotFound(err):
			return CouponEvaluation{}, err
		}
	}

	evaluation, err := s.lookup.evaluate(ctx, couponRequest{
		Code:         code,
		UserID:       strings.TrimSpace(cmd.UserID),
		User:         user,
		Lines:        lines,
		ShippingCost: shipping,
		At:           s.clock(),
		Location:     settings.Location(),
	})
	if err != nil {
		return CouponEvaluation{}, err
	}
	s.logger(ctx, "coupon.validated", map[string]any{
		"code":     code,
		"valid":    evaluation.Valid,
		"reason":   string(evaluation.Reason),
		"discount": evaluation.Discount,
	})
	return evaluation, nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.coupons.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *couponService) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	normalized := NormalizeCouponCode(code)
	if normalized == "" {
		return Coupon{}, ErrCouponInvalidCode
	}
	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	now := s.clock()
	coupon, err := normalizeCoupon(cmd.Coupon, now)
	if err != nil {
		return Coupon{}, err
	}
	if _, err := s.coupons.FindByCode(ctx, coupon.Code); err == nil {
		return Coupon{}, fmt.Errorf("%w: %s", ErrCouponConflict, coupon.Code)
	} else if !isRepositoryNotFound(err) {
		return Coupon{}, s.mapRepositoryError(err)
	}
	coupon.UsageCount = 0
	coupon.CreatedAt = now
	coupon.UpdatedAt = now
	if err := s.coupons.Save(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.created", map[string]any{"code": coupon.Code, "actorId": cmd.ActorID, "status": string(coupon.Status)})
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	now := s.clock()
	coupon, err := normalizeCoupon(cmd.Coupon, now)
	if err != nil {
		return Coupon{}, err
	}
	existing, err := s.coupons.FindByCode(ctx, coupon.Code)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	coupon.UsageCount = existing.UsageCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = now
	if err := s.coupons.Save(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.updated", map[string]any{"code": coupon.Code, "actorId": cmd.ActorID, "status": string(coupon.Status)})
	return coupon, nil
}

func (s *couponService) DeleteCoupon(ctx context.Context, code string) error {
	normalized := NormalizeCouponCode(code)
	if normalized == "" {
		return ErrCouponInvalidCode
	}
	if err := s.coupons.Delete(ctx, normalized); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.deleted", map[string]any{"code": normalized})
	return nil
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCouponConflict, err)
		}
	}
	return err
}

// couponLookup gathers the evaluator inputs that live in repositories.
type couponLookup struct {
	coupons repositories.CouponRepository
	orders  repositories.OrderRepository
	users   repositories.UserRepository
}

type couponRequest struct {
	Code         string
	UserID       string
	User         *domain.User
	Lines        []domain.CartLine
	ShippingCost int64
	At           time.Time
	Location     *time.Location
}

func (l couponLookup) evaluate(ctx context.Context, req couponRequest) (CouponEvaluation, error) {
	var coupon *domain.Coupon
	found, err := l.coupons.FindByCode(ctx, req.Code)
	switch {
	case err == nil:
		coupon = &found
	case !isRepositoryNotFound(err):
		return CouponEvaluation{}, fmt.Errorf("coupon lookup: %w", err)
	}

	firstPurchase := true
	redemptions := 0
	if req.User != nil {
		firstPurchase = req.User.OrdersCount == 0
		if l.orders != nil {
			count, err := l.orders.CountByUser(ctx, req.User.ID)
			if err != nil {
				return CouponEvaluation{}, fmt.Errorf("coupon lookup: count orders: %w", err)
			}
			firstPurchase = firstPurchase && count == 0
		}
		if coupon != nil && coupon.PerCustomerLimit > 0 {
			redemptions, err = l.coupons.CountRedemptions(ctx, coupon.Code, req.User.ID)
			if err != nil {
				return CouponEvaluation{}, fmt.Errorf("coupon lookup: count redemptions: %w", err)
			}
		}
	}

	return EvaluateCoupon(CouponEvaluationInput{
		Code:                req.Code,
		UserID:              req.UserID,
		User:                req.User,
		IsFirstPurchase:     firstPurchase,
		CustomerRedemptions: redemptions,
		Coupon:              coupon,
		Lines:               req.Lines,
		ShippingCost:        req.ShippingCost,
		At:                  req.At,
		Location:            req.Location,
	}), nil
}

// normalizeCoupon validates an admin payload, clamps the percentage and recomputes the status.
func normalizeCoupon(coupon domain.Coupon, now time.Time) (domain.Coupon, error) {
	coupon.Code = NormalizeCouponCode(coupon.Code)
	if !couponCodePattern.MatchString(coupon.Code) {
		return domain.Coupon{}, fmt.Errorf("%w: %q", ErrCouponInvalidCode, coupon.Code)
	}
	coupon.Description = strings.TrimSpace(coupon.Description)
	if math.IsNaN(coupon.Value) || math.IsInf(coupon.Value, 0) {
		return domain.Coupon{}, fmt.Errorf("%w: value must be a finite number", ErrCouponInvalidInput)
	}

	switch coupon.Type {
	case domain.DiscountTypePercentage:
		coupon.Value = math.Min(math.Max(coupon.Value, 0), 100)
	case domain.DiscountTypeFixed:
		if coupon.Value < 0 {
			return domain.Coupon{}, fmt.Errorf("%w: fixed value must not be negative", ErrCouponInvalidInput)
		}
		coupon.Value = math.Round(coupon.Value)
	case domain.DiscountTypeFreeShipping:
		coupon.Value = 0
	case domain.DiscountTypeBuyXGetY:
		if coupon.BuyQuantity <= 0 || coupon.GetQuantity <= 0 {
			return domain.Coupon{}, fmt.Errorf("%w: buy and get quantities must be positive", ErrCouponInvalidInput)
		}
		coupon.GetProductID = strings.TrimSpace(coupon.GetProductID)
	default:
		return domain.Coupon{}, fmt.Errorf("%w: unsupported discount type %q", ErrCouponInvalidInput, coupon.Type)
	}

	if coupon.MaxDiscountAmount < 0 || coupon.MinPurchaseAmount < 0 {
		return domain.Coupon{}, fmt.Errorf("%w: amounts must not be negative", ErrCouponInvalidInput)
	}
	if coupon.UsageLimit < 0 || coupon.PerCustomerLimit < 0 {
		return domain.Coupon{}, fmt.Errorf("%w: usage limits must not be negative", ErrCouponInvalidInput)
	}
	if coupon.StartsAt != nil && coupon.EndsAt != nil && !coupon.EndsAt.After(*coupon.StartsAt) {
		return domain.Coupon{}, fmt.Errorf("%w: end must be after start", ErrCouponInvalidInput)
	}
	for _, hour := range []*int{coupon.StartHour, coupon.EndHour} {
		if hour != nil && (*hour < 0 || *hour > 23) {
			return domain.Coupon{}, fmt.Errorf("%w: hours must be between 0 and 23", ErrCouponInvalidInput)
		}
	}
	if (coupon.StartHour == nil) != (coupon.EndHour == nil) {
		return domain.Coupon{}, fmt.Errorf("%w: start and end hour must be set together", ErrCouponInvalidInput)
	}
	for _, day := range coupon.ValidDays {
		if day < time.Sunday || day > time.Saturday {
			return domain.Coupon{}, fmt.Errorf("%w: invalid weekday %d", ErrCouponInvalidInput, day)
		}
	}
	slices.Sort(coupon.ValidDays)
	coupon.ValidDays = slices.Compact(coupon.ValidDays)

	if coupon.Scope == "" {
		coupon.Scope = domain.CouponScopeAll
	}
	switch coupon.Scope {
	case domain.CouponScopeAll:
	case domain.CouponScopeProducts:
		if len(coupon.ProductIDs) == 0 {
			return domain.Coupon{}, fmt.Errorf("%w: product scope requires product ids", ErrCouponInvalidInput)
		}
	case domain.CouponScopeCategories:
		if len(coupon.CategoryIDs) == 0 {
			return domain.Coupon{}, fmt.Errorf("%w: category scope requires category ids", ErrCouponInvalidInput)
		}
	default:
		return domain.Coupon{}, fmt.Errorf("%w: unsupported scope %q", ErrCouponInvalidInput, coupon.Scope)
	}
	if coupon.CustomerType == "" {
		coupon.CustomerType = domain.CustomerTypeAll
	}
	switch coupon.CustomerType {
	case domain.CustomerTypeAll, domain.CustomerTypeNew, domain.CustomerTypeReturning, domain.CustomerTypeVIP:
	default:
		return domain.Coupon{}, fmt.Errorf("%w: unsupported customer type %q", ErrCouponInvalidInput, coupon.CustomerType)
	}

	coupon.Status = couponStatusAt(coupon, now)
	return coupon, nil
}

// couponStatusAt derives the lifecycle status: the validity window wins over the active flag.
func couponStatusAt(coupon domain.Coupon, now time.Time) domain.CouponStatus {
	switch {
	case coupon.StartsAt != nil && now.Before(*coupon.StartsAt):
		return domain.CouponStatusScheduled
	case coupon.EndsAt != nil && now.After(*coupon.EndsAt):
		return domain.CouponStatusExpired
	case coupon.Active:
		return domain.CouponStatusActive
	default:
		return domain.CouponStatusInactive
	}
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
