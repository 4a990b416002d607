package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/pagination"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

var productPageOptions = pagination.Options{DefaultPageSize: 24, MaxPageSize: 100}

// CatalogHandlers exposes the public product catalog and admin product management.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the public /products endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productId}", h.getProduct)
}

// AdminRoutes registers /admin/products endpoints on the admin router.
func (h *CatalogHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/products:import", h.importProducts)
	r.Route("/products", func(rt chi.Router) {
		rt.Get("/", h.listAdminProducts)
		rt.Post("/", h.createProduct)
		rt.Get("/{productId}", h.getAdminProduct)
		rt.Put("/{productId}", h.updateProduct)
		rt.Delete("/{productId}", h.deleteProduct)
		rt.Post("/{productId}/images:upload-url", h.createImageUpload)
	})
}

type productPayload struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	SKU            string   `json:"sku"`
	Slug           string   `json:"slug,omitempty"`
	Description    string   `json:"description,omitempty"`
	Brand          string   `json:"brand,omitempty"`
	GTIN           string   `json:"gtin,omitempty"`
	CategoryIDs    []string `json:"categoryIds"`
	Images         []string `json:"images"`
	Price          int64    `json:"price"`
	CompareAtPrice int64    `json:"compareAtPrice,omitempty"`
	Currency       string   `json:"currency"`
	Stock          int      `json:"stock"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"createdAt,omitempty"`
	UpdatedAt      string   `json:"updatedAt,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productRequest struct {
	Name           string   `json:"name"`
	SKU            string   `json:"sku"`
	Slug           string   `json:"slug"`
	Description    string   `json:"description"`
	Brand          string   `json:"brand"`
	GTIN           string   `json:"gtin"`
	CategoryIDs    []string `json:"categoryIds"`
	Images         []string `json:"images"`
	Price          int64    `json:"price"`
	CompareAtPrice int64    `json:"compareAtPrice"`
	Currency       string   `json:"currency"`
	Stock          int      `json:"stock"`
	Status         string   `json:"status"`
}

type importRowPayload struct {
	Index     int      `json:"index"`
	ProductID string   `json:"productId,omitempty"`
	SKU       string   `json:"sku,omitempty"`
	Action    string   `json:"action"`
	Error     string   `json:"error,omitempty"`
	Unmapped  []string `json:"unmapped,omitempty"`
}

type importReportPayload struct {
	Created int                `json:"created"`
	Updated int                `json:"updated"`
	Failed  int                `json:"failed"`
	Rows    []importRowPayload `json:"rows"`
}

type imageUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type imageUploadPayload struct {
	ObjectPath string            `json:"objectPath"`
	UploadURL  string            `json:"uploadUrl"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expiresAt"`
	PublicURL  string            `json:"publicUrl"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	h.writeProductList(w, r, h.catalog.ListProducts, nil)
}

func (h *CatalogHandlers) listAdminProducts(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.ProductStatus
	for _, status := range parseFilterValues(r.URL.Query()["status"]) {
		statuses = append(statuses, domain.ProductStatus(status))
	}
	h.writeProductList(w, r, h.catalog.ListAdminProducts, statuses)
}

func (h *CatalogHandlers) writeProductList(w http.ResponseWriter, r *http.Request, list func(context.Context, services.ProductFilter) (domain.CursorPage[services.Product], error), statuses []domain.ProductStatus) {
	ctx := r.Context()
	page, ok := parsePage(w, r, productPageOptions)
	if !ok {
		return
	}
	query := r.URL.Query()
	result, err := list(ctx, services.ProductFilter{
		Status:     statuses,
		CategoryID: firstNonEmpty(query.Get("category"), query.Get("categoryId")),
		Pagination: page,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(result.Items))
	for _, product := range result.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[productPayload]{Items: items, NextPageToken: result.NextPageToken})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) getAdminProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	product, err := h.catalog.GetAdminProduct(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req productRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	product, err := h.catalog.CreateProduct(ctx, services.UpsertProductCommand{Product: req.toDomain(""), ActorID: actorID(ctx)})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req productRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	product, err := h.catalog.UpdateProduct(ctx, services.UpsertProductCommand{
		Product: req.toDomain(chi.URLParam(r, "productId")),
		ActorID: actorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.catalog.DeleteProduct(ctx, chi.URLParam(r, "productId")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importProducts takes either the raw JSON records as the body or a ?source=gs://bucket/object reference.
func (h *CatalogHandlers) importProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd := services.ImportProductsCommand{
		SourceURI: strings.TrimSpace(r.URL.Query().Get("source")),
		ActorID:   actorID(ctx),
	}
	if cmd.SourceURI == "" && r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBodySize+1))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
			return
		}
		if len(data) > maxImportBodySize {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "import body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		cmd.Payload = data
	}

	report, err := h.catalog.ImportProducts(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := importReportPayload{
		Created: report.Created,
		Updated: report.Updated,
		Failed:  report.Failed,
		Rows:    make([]importRowPayload, 0, len(report.Rows)),
	}
	for _, row := range report.Rows {
		payload.Rows = append(payload.Rows, importRowPayload(row))
	}
	status := http.StatusOK
	if report.Failed > 0 && report.Created+report.Updated == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSONResponse(w, status, payload)
}

func (h *CatalogHandlers) createImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req imageUploadRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	upload, err := h.catalog.CreateImageUpload(ctx, services.CreateProductImageUploadCommand{
		ProductID:   chi.URLParam(r, "productId"),
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, imageUploadPayload{
		ObjectPath: upload.ObjectPath,
		UploadURL:  upload.UploadURL,
		Method:     upload.Method,
		Headers:    upload.Headers,
		ExpiresAt:  formatTime(upload.ExpiresAt),
		PublicURL:  upload.PublicURL,
	})
}

func (req productRequest) toDomain(id string) domain.Product {
	return domain.Product{
		ID:             strings.TrimSpace(id),
		Name:           req.Name,
		SKU:            req.SKU,
		Slug:           req.Slug,
		Description:    req.Description,
		Brand:          req.Brand,
		GTIN:           req.GTIN,
		CategoryIDs:    req.CategoryIDs,
		Images:         req.Images,
		Price:          req.Price,
		CompareAtPrice: req.CompareAtPrice,
		Currency:       req.Currency,
		Stock:          req.Stock,
		Status:         domain.ProductStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	}
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:             product.ID,
		Name:           product.Name,
		SKU:            product.SKU,
		Slug:           product.Slug,
		Description:    product.Description,
		Brand:          product.Brand,
		GTIN:           product.GTIN,
		CategoryIDs:    nonNil(product.CategoryIDs),
		Images:         nonNil(product.Images),
		Price:          product.Price,
		CompareAtPrice: product.CompareAtPrice,
		Currency:       product.Currency,
		Stock:          product.Stock,
		Status:         string(product.Status),
		CreatedAt:      formatTime(product.CreatedAt),
		UpdatedAt:      formatTime(product.UpdatedAt),
	}
}
