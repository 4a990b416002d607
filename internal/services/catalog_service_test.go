package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/storage"
)

type stubObjectReader struct {
	objects map[string][]byte
	uris    []string
}

func (r *stubObjectReader) ReadObject(_ context.Context, uri string) ([]byte, error) {
	r.uris = append(r.uris, uri)
	data, ok := r.objects[uri]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

type stubMediaUploader struct {
	objects []string
}

func (u *stubMediaUploader) SignUpload(_ context.Context, object, contentType string) (storage.SignedUpload, error) {
	if contentType != "image/jpeg" {
		return storage.SignedUpload{}, storage.ErrContentTypeDenied
	}
	u.objects = append(u.objects, object)
	return storage.SignedUpload{
		URL:       "https://storage.googleapis.com/media/" + object + "?X-Goog-Signature=abc",
		Method:    "PUT",
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: couponTestNow.Add(15 * time.Minute),
		PublicURL: "https://storage.googleapis.com/media/" + object,
	}, nil
}

func newTestCatalog(t *testing.T, products *memoryProductRepo, objects ObjectReader, media MediaUploader) CatalogService {
	t.Helper()
	deps := CatalogServiceDeps{
		Products:    products,
		Settings:    staticSettings{settings: testStoreSettings()},
		Clock:       fixedClock(couponTestNow),
		IDGenerator: sequentialIDs(),
	}
	if objects != nil {
		deps.Objects = objects
	}
	if media != nil {
		deps.Media = media
	}
	svc, err := NewCatalogService(deps)
	require.NoError(t, err)
	return svc
}

func TestCatalogPublicReadsHideInactiveProducts(t *testing.T) {
	products := newMemoryProductRepo(
		domain.Product{ID: "prod_a", Name: "Amber", SKU: "AM-1", Status: domain.ProductStatusActive, CategoryIDs: []string{"oud"}},
		domain.Product{ID: "prod_b", Name: "Bakhoor", SKU: "BK-1", Status: domain.ProductStatusDraft, CategoryIDs: []string{"oud"}},
		domain.Product{ID: "prod_c", Name: "Cedar", SKU: "CD-1", Status: domain.ProductStatusActive, CategoryIDs: []string{"wood"}},
	)
	svc := newTestCatalog(t, products, nil, nil)
	ctx := context.Background()

	page, err := svc.ListProducts(ctx, ProductFilter{CategoryID: "oud", Status: []domain.ProductStatus{domain.ProductStatusDraft}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "prod_a", page.Items[0].ID)

	_, err = svc.GetProduct(ctx, "prod_b")
	assert.ErrorIs(t, err, ErrCatalogNotFound)

	admin, err := svc.GetAdminProduct(ctx, "prod_b")
	require.NoError(t, err)
	assert.Equal(t, "Bakhoor", admin.Name)

	all, err := svc.ListAdminProducts(ctx, ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 3)
}

func TestCatalogCreateUpdateDelete(t *testing.T) {
	products := newMemoryProductRepo(domain.Product{ID: "prod_x", Name: "Existing", SKU: "EX-1", Status: domain.ProductStatusActive})
	svc := newTestCatalog(t, products, nil, nil)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, UpsertProductCommand{Product: domain.Product{
		Name: "  Rose Oud Intense ", SKU: " ro-2 ", Price: 25000, Stock: 3, Images: []string{" a.jpg ", "a.jpg", ""},
	}})
	require.NoError(t, err)
	assert.Equal(t, "prod_0001", created.ID)
	assert.Equal(t, "RO-2", created.SKU)
	assert.Equal(t, "rose-oud-intense", created.Slug)
	assert.Equal(t, "AED", created.Currency)
	assert.Equal(t, domain.ProductStatusActive, created.Status)
	assert.Equal(t, []string{"a.jpg"}, created.Images)
	assert.Equal(t, couponTestNow, created.CreatedAt)

	_, err = svc.CreateProduct(ctx, UpsertProductCommand{Product: domain.Product{Name: "Dup", SKU: "ex-1"}})
	assert.ErrorIs(t, err, ErrCatalogConflict)

	_, err = svc.CreateProduct(ctx, UpsertProductCommand{Product: domain.Product{Name: "Bad", SKU: "B-1", Price: -1}})
	assert.ErrorIs(t, err, ErrCatalogInvalidInput)

	created.Price = 27000
	created.SKU = "EX-1"
	_, err = svc.UpdateProduct(ctx, UpsertProductCommand{Product: created})
	assert.ErrorIs(t, err, ErrCatalogConflict, "sku owned by another product")

	created.SKU = "RO-2"
	updated, err := svc.UpdateProduct(ctx, UpsertProductCommand{Product: created})
	require.NoError(t, err)
	assert.Equal(t, int64(27000), updated.Price)

	require.NoError(t, svc.DeleteProduct(ctx, created.ID))
	_, err = svc.GetAdminProduct(ctx, created.ID)
	assert.ErrorIs(t, err, ErrCatalogNotFound)
	assert.ErrorIs(t, svc.DeleteProduct(ctx, created.ID), ErrCatalogNotFound)
}

func TestCatalogImportMapsLooseRecords(t *testing.T) {
	products := newMemoryProductRepo(domain.Product{
		ID: "prod_existing", Name: "White Musk", SKU: "WM-1", Price: 9000, Stock: 4, Currency: "AED", Status: domain.ProductStatusActive,
	})
	svc := newTestCatalog(t, products, nil, nil)

	payload := []byte(`{"products": [
		{"Title": "Oud Royale", "SKU": "or-1", "Sale Price": "1,299.50", "MRP": 1500, "Categories": "oud, gifts", "Image_URLs": ["a.jpg", "b.jpg"], "Qty": "7", "Published": false, "Colour": "gold"},
		{"product_code": "WM-1", "stock quantity": 12},
		{"name": "No Price", "sku": "NP-1"},
		{"name": "Bad Price", "sku": "BP-1", "price": "abc"},
		"not an object"
	]}`)
	report, err := svc.ImportProducts(context.Background(), ImportProductsCommand{Payload: payload, ActorID: "adm_1"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 3, report.Failed)
	require.Len(t, report.Rows, 5)

	created := report.Rows[0]
	assert.Equal(t, ImportActionCreated, created.Action)
	assert.Equal(t, []string{"Colour"}, created.Unmapped)
	product, err := svc.GetAdminProduct(context.Background(), created.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "OR-1", product.SKU)
	assert.Equal(t, int64(129950), product.Price)
	assert.Equal(t, int64(150000), product.CompareAtPrice)
	assert.Equal(t, []string{"oud", "gifts"}, product.CategoryIDs)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, product.Images)
	assert.Equal(t, 7, product.Stock)
	assert.Equal(t, domain.ProductStatusDraft, product.Status)

	assert.Equal(t, ImportActionUpdated, report.Rows[1].Action)
	assert.Equal(t, "prod_existing", report.Rows[1].ProductID)
	assert.Equal(t, 12, products.stock("prod_existing"))
	existing, _ := products.FindByID(context.Background(), "prod_existing")
	assert.Equal(t, int64(9000), existing.Price, "absent fields keep stored values")

	assert.Equal(t, "price is required for new products", report.Rows[2].Error)
	assert.Contains(t, report.Rows[3].Error, "not a number")
	assert.Equal(t, 4, report.Rows[4].Index)
	assert.Equal(t, "record is not an object", report.Rows[4].Error)
}

func TestCatalogImportFromCloudStorage(t *testing.T) {
	reader := &stubObjectReader{objects: map[string][]byte{
		"gs://elvora-imports/catalog.json": []byte(`[{"name": "Saffron", "sku": "SF-1", "price": 45}]`),
	}}
	svc := newTestCatalog(t, newMemoryProductRepo(), reader, nil)
	ctx := context.Background()

	report, err := svc.ImportProducts(ctx, ImportProductsCommand{SourceURI: "gs://elvora-imports/catalog.json"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, []string{"gs://elvora-imports/catalog.json"}, reader.uris)

	_, err = svc.ImportProducts(ctx, ImportProductsCommand{SourceURI: "gs://elvora-imports/missing.json"})
	assert.ErrorIs(t, err, ErrCatalogImportSource)

	_, err = svc.ImportProducts(ctx, ImportProductsCommand{SourceURI: "https://example.com/a.json"})
	assert.ErrorIs(t, err, ErrCatalogInvalidInput)

	_, err = svc.ImportProducts(ctx, ImportProductsCommand{SourceURI: "gs://a/b.json", Payload: []byte(`[]`)})
	assert.ErrorIs(t, err, ErrCatalogInvalidInput)

	noStorage := newTestCatalog(t, newMemoryProductRepo(), nil, nil)
	_, err = noStorage.ImportProducts(ctx, ImportProductsCommand{SourceURI: "gs://a/b.json"})
	assert.ErrorIs(t, err, ErrCatalogImportSource)

	_, err = noStorage.ImportProducts(ctx, ImportProductsCommand{Payload: []byte(`{"broken"`)})
	assert.ErrorIs(t, err, ErrCatalogInvalidInput)
}

func TestCatalogImageUpload(t *testing.T) {
	products := newMemoryProductRepo(domain.Product{ID: "prod_rose", Name: "Rose", SKU: "RO-1"})
	media := &stubMediaUploader{}
	svc := newTestCatalog(t, products, nil, media)
	ctx := context.Background()

	upload, err := svc.CreateImageUpload(ctx, CreateProductImageUploadCommand{ProductID: "prod_rose", FileName: "Front.JPG", ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "products/prod_rose/images/0001/front.jpg", upload.ObjectPath)
	assert.Equal(t, "PUT", upload.Method)
	assert.Contains(t, upload.PublicURL, upload.ObjectPath)

	_, err = svc.CreateImageUpload(ctx, CreateProductImageUploadCommand{ProductID: "prod_rose", FileName: "x.exe", ContentType: "application/octet-stream"})
	assert.ErrorIs(t, err, ErrCatalogInvalidInput)

	_, err = svc.CreateImageUpload(ctx, CreateProductImageUploadCommand{ProductID: "prod_none", FileName: "a.jpg", ContentType: "image/jpeg"})
	assert.ErrorIs(t, err, ErrCatalogNotFound)

	disabled := newTestCatalog(t, products, nil, nil)
	_, err = disabled.CreateImageUpload(ctx, CreateProductImageUploadCommand{ProductID: "prod_rose"})
	assert.True(t, errors.Is(err, ErrCatalogMediaUnavailable))
}

func TestLoadImportFieldMappingRejectsDuplicateAliases(t *testing.T) {
	_, err := loadImportFieldMapping([]byte("fields:\n  name: [title]\n  slug: [Title]\n"))
	assert.Error(t, err)

	mapping, err := loadImportFieldMapping(catalogImportFieldsYAML)
	require.NoError(t, err)
	assert.Equal(t, "compareAtPrice", mapping["compareatprice"])
	assert.Equal(t, "categoryIds", mapping["collections"])
}
