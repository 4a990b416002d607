package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/merchant"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

var (
	ErrMerchantInvalidInput = errors.New("merchant: invalid input")
	ErrMerchantNotFound     = errors.New("merchant: product not found")
	ErrMerchantNotConnected = errors.New("merchant: account not connected")
	ErrMerchantUnavailable  = errors.New("merchant: integration unavailable")
)

const (
	merchantSyncPageSize    = 100
	merchantSyncConcurrency = 4
)

// MerchantGateway is the Merchant Center API surface the service relies on.
type MerchantGateway interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.MerchantConnection, error)
	InsertProduct(ctx context.Context, product domain.Product) (merchant.ProductRef, error)
	DeleteProduct(ctx context.Context, product domain.Product) error
	ListDatafeeds(ctx context.Context) ([]merchant.Datafeed, error)
	InsertDatafeed(ctx context.Context, feed merchant.Datafeed) (merchant.Datafeed, error)
}

// MerchantServiceDeps bundles collaborators for the merchant service.
type MerchantServiceDeps struct {
	Gateway     MerchantGateway
	Connections repositories.MerchantConnectionRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// Concurrency bounds parallel product writes during SyncCatalog.
	Concurrency int
}

type merchantService struct {
	gateway     MerchantGateway
	connections repositories.MerchantConnectionRepository
	products    repositories.ProductRepository
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	concurrency int
}

// NewMerchantService constructs the Merchant Center service. A nil gateway yields ErrMerchantUnavailable on every call.
func NewMerchantService(deps MerchantServiceDeps) (MerchantService, error) {
	if deps.Connections == nil {
		return nil, errors.New("merchant service: connection repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("merchant service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = merchantSyncConcurrency
	}
	return &merchantService{
		gateway:     deps.Gateway,
		connections: deps.Connections,
		products:    deps.Products,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *merchantService) AuthURL(_ context.Context, state string) (string, error) {
	if s.gateway == nil {
		return "", ErrMerchantUnavailable
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return "", fmt.Errorf("%w: state is required", ErrMerchantInvalidInput)
	}
	return s.gateway.AuthCodeURL(state), nil
}

// CompleteAuthorization exchanges the OAuth2 code and stores the grant, keeping the original connection time.
func (s *merchantService) CompleteAuthorization(ctx context.Context, code string) (MerchantConnection, error) {
	if s.gateway == nil {
		return MerchantConnection{}, ErrMerchantUnavailable
	}
	if strings.TrimSpace(code) == "" {
		return MerchantConnection{}, fmt.Errorf("%w: authorization code is required", ErrMerchantInvalidInput)
	}
	conn, err := s.gateway.Exchange(ctx, code)
	if err != nil {
		return MerchantConnection{}, fmt.Errorf("%w: %v", ErrMerchantUnavailable, err)
	}
	if existing, err := s.connections.Get(ctx); err == nil {
		if !existing.ConnectedAt.IsZero() {
			conn.ConnectedAt = existing.ConnectedAt
		}
		// Google omits the refresh token on re-consent when one is still valid.
		if conn.RefreshToken == "" {
			conn.RefreshToken = existing.RefreshToken
		}
	} else if !isRepositoryNotFound(err) {
		return MerchantConnection{}, fmt.Errorf("%w: load connection: %v", ErrMerchantUnavailable, err)
	}
	conn.UpdatedAt = s.clock()
	if err := s.connections.Save(ctx, conn); err != nil {
		return MerchantConnection{}, fmt.Errorf("%w: save connection: %v", ErrMerchantUnavailable, err)
	}
	s.logger(ctx, "merchant.connected", map[string]any{"merchantId": conn.MerchantID})
	return conn, nil
}

func (s *merchantService) UpsertProduct(ctx context.Context, productID string) (MerchantProductResult, error) {
	if s.gateway == nil {
		return MerchantProductResult{}, ErrMerchantUnavailable
	}
	product, err := s.product(ctx, productID)
	if err != nil {
		return MerchantProductResult{}, err
	}
	return s.upsert(ctx, product)
}

func (s *merchantService) upsert(ctx context.Context, product domain.Product) (MerchantProductResult, error) {
	ref, err := s.gateway.InsertProduct(ctx, product)
	if err != nil {
		return MerchantProductResult{}, s.mapGatewayError(err)
	}
	return MerchantProductResult{
		ProductID:  product.ID,
		MerchantID: ref.ID,
		OfferID:    ref.OfferID,
	}, nil
}

func (s *merchantService) DeleteProduct(ctx context.Context, productID string) error {
	if s.gateway == nil {
		return ErrMerchantUnavailable
	}
	product, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.gateway.DeleteProduct(ctx, product); err != nil {
		return s.mapGatewayError(err)
	}
	s.logger(ctx, "merchant.product_deleted", map[string]any{"productId": product.ID})
	return nil
}

func (s *merchantService) ListFeeds(ctx context.Context) ([]MerchantFeed, error) {
	if s.gateway == nil {
		return nil, ErrMerchantUnavailable
	}
	feeds, err := s.gateway.ListDatafeeds(ctx)
	if err != nil {
		return nil, s.mapGatewayError(err)
	}
	out := make([]MerchantFeed, 0, len(feeds))
	for _, feed := range feeds {
		out = append(out, merchantFeedFrom(feed))
	}
	return out, nil
}

func (s *merchantService) CreateFeed(ctx context.Context, cmd CreateMerchantFeedCommand) (MerchantFeed, error) {
	if s.gateway == nil {
		return MerchantFeed{}, ErrMerchantUnavailable
	}
	feed := merchant.Datafeed{
		Name:      strings.TrimSpace(cmd.Name),
		FileName:  strings.TrimSpace(cmd.FileName),
		Language:  strings.ToLower(strings.TrimSpace(cmd.Language)),
		FetchURL:  strings.TrimSpace(cmd.FetchURL),
		FetchHour: cmd.FetchHour,
	}
	if country := strings.TrimSpace(cmd.Country); country != "" {
		feed.Countries = []string{strings.ToUpper(country)}
	}
	if err := merchant.ValidateDatafeed(feed); err != nil {
		return MerchantFeed{}, fmt.Errorf("%w: %v", ErrMerchantInvalidInput, err)
	}
	created, err := s.gateway.InsertDatafeed(ctx, feed)
	if err != nil {
		return MerchantFeed{}, s.mapGatewayError(err)
	}
	s.logger(ctx, "merchant.feed_created", map[string]any{"feedId": created.ID, "name": created.Name})
	return merchantFeedFrom(created), nil
}

// SyncCatalog pushes every active product with bounded parallelism. Per-product failures are reported, not fatal.
func (s *merchantService) SyncCatalog(ctx context.Context) (MerchantSyncReport, error) {
	if s.gateway == nil {
		return MerchantSyncReport{}, ErrMerchantUnavailable
	}
	report := MerchantSyncReport{Errors: map[string]string{}}
	var mu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)

	token := ""
	for {
		page, err := s.products.List(ctx, repositories.ProductListFilter{
			Status:     []domain.ProductStatus{domain.ProductStatusActive},
			Pagination: domain.Pagination{PageSize: merchantSyncPageSize, PageToken: token},
		})
		if err != nil {
			_ = group.Wait()
			return report, fmt.Errorf("%w: list products: %v", ErrMerchantUnavailable, err)
		}
		for _, product := range page.Items {
			product := product
			group.Go(func() error {
				_, err := s.upsert(gctx, product)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failed++
					report.Errors[product.ID] = err.Error()
					// A lost grant fails every remaining product the same way.
					if errors.Is(err, ErrMerchantNotConnected) {
						return err
					}
					return nil
				}
				report.Synced++
				return nil
			})
		}
		token = page.NextPageToken
		if token == "" {
			break
		}
	}
	if err := group.Wait(); err != nil {
		return report, err
	}
	s.logger(ctx, "merchant.sync.completed", map[string]any{
		"synced": report.Synced,
		"failed": report.Failed,
	})
	return report, nil
}

func (s *merchantService) product(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrMerchantInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return domain.Product{}, ErrMerchantNotFound
		}
		return domain.Product{}, fmt.Errorf("%w: load product: %v", ErrMerchantUnavailable, err)
	}
	return product, nil
}

func (s *merchantService) mapGatewayError(err error) error {
	if errors.Is(err, merchant.ErrNotConnected) {
		return ErrMerchantNotConnected
	}
	return fmt.Errorf("%w: %v", ErrMerchantUnavailable, err)
}

func merchantFeedFrom(feed merchant.Datafeed) MerchantFeed {
	out := MerchantFeed{
		Name:        feed.Name,
		FileName:    feed.FileName,
		ContentType: feed.ContentType,
		Countries:   feed.Countries,
		Language:    feed.Language,
	}
	if feed.ID != 0 {
		out.ID = strconv.FormatInt(feed.ID, 10)
	}
	return out
}
