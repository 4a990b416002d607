package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/storage"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	productIDPrefix        = "prod_"
	defaultProductPageSize = 20
	maxProductPageSize     = 100
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid product data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product does not exist or is not visible.
	ErrCatalogNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates another product already uses the SKU.
	ErrCatalogConflict = errors.New("catalog: sku conflict")
	// ErrCatalogImportSource indicates the import source could not be read.
	ErrCatalogImportSource = errors.New("catalog: import source unavailable")
	// ErrCatalogMediaUnavailable indicates media uploads are not configured.
	ErrCatalogMediaUnavailable = errors.New("catalog: media uploads unavailable")
)

// ObjectReader reads gs:// objects.
type ObjectReader interface {
	ReadObject(ctx context.Context, uri string) ([]byte, error)
}

// MediaUploader signs direct uploads to the product media bucket.
type MediaUploader interface {
	SignUpload(ctx context.Context, object, contentType string) (storage.SignedUpload, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Settings    SettingsService
	Objects     ObjectReader
	Media       MediaUploader
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	settings SettingsService
	objects  ObjectReader
	media    MediaUploader
	mapping  importFieldMapping
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("catalog service: settings service is required")
	}
	mapping, err := loadImportFieldMapping(catalogImportFieldsYAML)
	if err != nil {
		return nil, fmt.Errorf("catalog service: %w", err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products: deps.Products,
		settings: deps.Settings,
		objects:  deps.Objects,
		media:    deps.Media,
		mapping:  mapping,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// ListProducts returns active products only.
func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	filter.Status = []domain.ProductStatus{domain.ProductStatusActive}
	return s.list(ctx, filter)
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.GetAdminProduct(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if product.Status != domain.ProductStatusActive {
		return Product{}, ErrCatalogNotFound
	}
	return product, nil
}

func (s *catalogService) ListAdminProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	return s.list(ctx, filter)
}

func (s *catalogService) list(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	pageSize := filter.Pagination.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultProductPageSize
	case pageSize > maxProductPageSize:
		pageSize = maxProductPageSize
	}
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Status:     filter.Status,
		CategoryID: strings.TrimSpace(filter.CategoryID),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	})
	if err != nil {
		return domain.CursorPage[Product]{}, mapCatalogRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetAdminProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := s.prepareProduct(ctx, cmd.Product)
	if err != nil {
		return Product{}, err
	}
	if err := s.ensureUniqueSKU(ctx, product.SKU, ""); err != nil {
		return Product{}, err
	}
	now := s.clock()
	product.ID = productIDPrefix + s.newID()
	product.CreatedAt = now
	product.UpdatedAt = now
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	s.logger(ctx, "catalog.product.created", map[string]any{
		"productId": product.ID,
		"sku":       product.SKU,
		"actorId":   strings.TrimSpace(cmd.ActorID),
	})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	existing, err := s.GetAdminProduct(ctx, cmd.Product.ID)
	if err != nil {
		return Product{}, err
	}
	product, err := s.prepareProduct(ctx, cmd.Product)
	if err != nil {
		return Product{}, err
	}
	if err := s.ensureUniqueSKU(ctx, product.SKU, existing.ID); err != nil {
		return Product{}, err
	}
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	s.logger(ctx, "catalog.product.updated", map[string]any{
		"productId": product.ID,
		"actorId":   strings.TrimSpace(cmd.ActorID),
	})
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return mapCatalogRepositoryError(err)
	}
	s.logger(ctx, "catalog.product.deleted", map[string]any{"productId": productID})
	return nil
}

// CreateImageUpload signs a direct upload for a new product image.
func (s *catalogService) CreateImageUpload(ctx context.Context, cmd CreateProductImageUploadCommand) (ProductImageUpload, error) {
	if s.media == nil {
		return ProductImageUpload{}, ErrCatalogMediaUnavailable
	}
	product, err := s.GetAdminProduct(ctx, cmd.ProductID)
	if err != nil {
		return ProductImageUpload{}, err
	}
	object, err := storage.ProductImagePath(product.ID, strings.ToLower(s.newID()), cmd.FileName)
	if err != nil {
		return ProductImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	signed, err := s.media.SignUpload(ctx, object, cmd.ContentType)
	if err != nil {
		if errors.Is(err, storage.ErrContentTypeDenied) {
			return ProductImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
		}
		return ProductImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogMediaUnavailable, err)
	}
	return ProductImageUpload{
		ObjectPath: object,
		UploadURL:  signed.URL,
		Method:     signed.Method,
		Headers:    signed.Headers,
		ExpiresAt:  signed.ExpiresAt,
		PublicURL:  signed.PublicURL,
	}, nil
}

// prepareProduct normalizes and validates a product for persistence.
func (s *catalogService) prepareProduct(ctx context.Context, product Product) (Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	product.Slug = strings.TrimSpace(product.Slug)
	product.Brand = strings.TrimSpace(product.Brand)
	product.GTIN = strings.TrimSpace(product.GTIN)
	product.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))
	product.CategoryIDs = compactStrings(product.CategoryIDs)
	product.Images = compactStrings(product.Images)

	switch {
	case product.Name == "":
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	case product.SKU == "":
		return Product{}, fmt.Errorf("%w: sku is required", ErrCatalogInvalidInput)
	case product.Price < 0 || product.CompareAtPrice < 0:
		return Product{}, fmt.Errorf("%w: prices must not be negative", ErrCatalogInvalidInput)
	case product.Stock < 0:
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}
	if !slices.Contains([]domain.ProductStatus{domain.ProductStatusActive, domain.ProductStatusDraft, domain.ProductStatusArchived}, product.Status) {
		return Product{}, fmt.Errorf("%w: unknown status %q", ErrCatalogInvalidInput, product.Status)
	}
	if product.Slug == "" {
		product.Slug = slugify(product.Name)
	} else {
		product.Slug = slugify(product.Slug)
	}
	if product.Currency == "" {
		settings, err := s.settings.Get(ctx)
		if err != nil {
			return Product{}, err
		}
		product.Currency = settings.Currency
	}
	return product, nil
}

func (s *catalogService) ensureUniqueSKU(ctx context.Context, sku, selfID string) error {
	existing, err := s.products.FindBySKU(ctx, sku)
	switch {
	case err == nil:
		if existing.ID != selfID {
			return fmt.Errorf("%w: %s is used by %s", ErrCatalogConflict, sku, existing.ID)
		}
		return nil
	case isRepositoryNotFound(err):
		return nil
	default:
		return mapCatalogRepositoryError(err)
	}
}

func mapCatalogRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}

func slugify(value string) string {
	return strings.Trim(slugSanitizer.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
