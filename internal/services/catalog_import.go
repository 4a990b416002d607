package services

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/textutil"
)

//go:embed catalog_import_fields.yaml
var catalogImportFieldsYAML []byte

// Import row actions.
const (
	ImportActionCreated = "created"
	ImportActionUpdated = "updated"
	ImportActionFailed  = "failed"
)

const maxImportRecords = 5000

// importFieldMapping resolves normalized source keys to product attributes.
type importFieldMapping map[string]string

func loadImportFieldMapping(data []byte) (importFieldMapping, error) {
	var doc struct {
		Fields map[string][]string `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse import field mapping: %w", err)
	}
	mapping := make(importFieldMapping)
	for field, aliases := range doc.Fields {
		for _, alias := range append(aliases, field) {
			key := textutil.NormalizeKey(alias)
			if key == "" {
				continue
			}
			if owner, ok := mapping[key]; ok && owner != field {
				return nil, fmt.Errorf("import field alias %q maps to both %s and %s", alias, owner, field)
			}
			mapping[key] = field
		}
	}
	if len(mapping) == 0 {
		return nil, errors.New("import field mapping is empty")
	}
	return mapping, nil
}

// importRecord is one source record keyed by product attribute.
type importRecord struct {
	values   map[string]any
	unmapped []string
}

func (m importFieldMapping) resolve(raw map[string]any) importRecord {
	rec := importRecord{values: make(map[string]any, len(raw))}
	for key, value := range raw {
		field, ok := m[textutil.NormalizeKey(key)]
		if !ok {
			rec.unmapped = append(rec.unmapped, key)
			continue
		}
		rec.values[field] = value
	}
	return rec
}

func (r importRecord) has(field string) bool {
	v, ok := r.values[field]
	return ok && v != nil
}

func (r importRecord) text(field string) string {
	switch v := r.values[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (r importRecord) list(field string) []string {
	switch v := r.values[field].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" && item != nil {
				out = append(out, s)
			}
		}
		return out
	case string:
		return textutil.SplitList(v)
	case nil:
		return nil
	default:
		return []string{r.text(field)}
	}
}

// minorUnits converts a major-unit amount ("129.50", 129.5) into minor units for currency code.
func (r importRecord) minorUnits(field, code string) (int64, error) {
	raw := strings.NewReplacer(",", "", " ", "").Replace(r.text(field))
	raw = strings.TrimPrefix(strings.ToUpper(raw), strings.ToUpper(code))
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", field, r.text(field))
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}

func (r importRecord) integer(field string) (int, error) {
	n, err := decimal.NewFromString(r.text(field))
	if err != nil || !n.Equal(n.Truncate(0)) {
		return 0, fmt.Errorf("%s: %q is not a whole number", field, r.text(field))
	}
	if n.IsNegative() {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return int(n.IntPart()), nil
}

func (r importRecord) status() (domain.ProductStatus, error) {
	switch strings.ToLower(r.text("status")) {
	case "", "active", "true", "published", "1", "yes":
		return domain.ProductStatusActive, nil
	case "draft", "false", "unpublished", "0", "no":
		return domain.ProductStatusDraft, nil
	case "archived":
		return domain.ProductStatusArchived, nil
	}
	return "", fmt.Errorf("status: unknown value %q", r.text("status"))
}

// apply overlays the record onto base. Absent fields keep base values.
func (r importRecord) apply(base Product, defaultCurrency string) (Product, error) {
	p := base
	if r.has("name") {
		p.Name = r.text("name")
	}
	if r.has("sku") {
		p.SKU = r.text("sku")
	}
	if r.has("slug") {
		p.Slug = r.text("slug")
	}
	if r.has("description") {
		p.Description = r.text("description")
	}
	if r.has("brand") {
		p.Brand = r.text("brand")
	}
	if r.has("gtin") {
		p.GTIN = r.text("gtin")
	}
	if r.has("categoryIds") {
		p.CategoryIDs = r.list("categoryIds")
	}
	if r.has("images") {
		p.Images = r.list("images")
	}
	if r.has("currency") {
		p.Currency = strings.ToUpper(r.text("currency"))
	}
	code := firstNonEmpty(p.Currency, defaultCurrency)
	if r.has("price") {
		price, err := r.minorUnits("price", code)
		if err != nil {
			return Product{}, err
		}
		p.Price = price
	}
	if r.has("compareAtPrice") {
		price, err := r.minorUnits("compareAtPrice", code)
		if err != nil {
			return Product{}, err
		}
		p.CompareAtPrice = price
	}
	if r.has("stock") {
		stock, err := r.integer("stock")
		if err != nil {
			return Product{}, err
		}
		p.Stock = stock
	}
	if r.has("status") || p.Status == "" {
		status, err := r.status()
		if err != nil {
			return Product{}, err
		}
		p.Status = status
	}
	return p, nil
}

// decodeImportPayload accepts a JSON array, an object with a "products" array, or a single object.
func decodeImportPayload(payload []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrCatalogInvalidInput, err)
	}
	var items []any
	switch v := root.(type) {
	case []any:
		items = v
	case map[string]any:
		if nested, ok := v["products"].([]any); ok {
			items = nested
		} else {
			items = []any{v}
		}
	default:
		return nil, fmt.Errorf("%w: payload must be an array or object", ErrCatalogInvalidInput)
	}
	if len(items) > maxImportRecords {
		return nil, fmt.Errorf("%w: at most %d records per import", ErrCatalogInvalidInput, maxImportRecords)
	}
	records := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			// Kept as nil so the row reports the failure with its index.
			continue
		}
		records[i] = obj
	}
	return records, nil
}

// ImportProducts upserts loosely shaped product records, matching existing products by ID then SKU.
func (s *catalogService) ImportProducts(ctx context.Context, cmd ImportProductsCommand) (ProductImportReport, error) {
	payload, err := s.importPayload(ctx, cmd)
	if err != nil {
		return ProductImportReport{}, err
	}
	records, err := decodeImportPayload(payload)
	if err != nil {
		return ProductImportReport{}, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return ProductImportReport{}, err
	}

	report := ProductImportReport{Rows: make([]ProductImportRow, 0, len(records))}
	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		row := s.importRecord(ctx, i, raw, settings.Currency, cmd.ActorID)
		switch row.Action {
		case ImportActionCreated:
			report.Created++
		case ImportActionUpdated:
			report.Updated++
		default:
			report.Failed++
		}
		report.Rows = append(report.Rows, row)
	}
	s.logger(ctx, "catalog.import.completed", map[string]any{
		"source":  firstNonEmpty(strings.TrimSpace(cmd.SourceURI), "payload"),
		"created": report.Created,
		"updated": report.Updated,
		"failed":  report.Failed,
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	return report, nil
}

func (s *catalogService) importPayload(ctx context.Context, cmd ImportProductsCommand) ([]byte, error) {
	uri := strings.TrimSpace(cmd.SourceURI)
	switch {
	case uri != "" && len(bytes.TrimSpace(cmd.Payload)) > 0:
		return nil, fmt.Errorf("%w: provide either records or a source uri", ErrCatalogInvalidInput)
	case uri == "":
		if len(bytes.TrimSpace(cmd.Payload)) == 0 {
			return nil, fmt.Errorf("%w: no records supplied", ErrCatalogInvalidInput)
		}
		return cmd.Payload, nil
	case !strings.HasPrefix(uri, "gs://"):
		return nil, fmt.Errorf("%w: source uri must be gs://", ErrCatalogInvalidInput)
	case s.objects == nil:
		return nil, fmt.Errorf("%w: cloud storage is not configured", ErrCatalogImportSource)
	}
	data, err := s.objects.ReadObject(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogImportSource, err)
	}
	return data, nil
}

func (s *catalogService) importRecord(ctx context.Context, index int, raw map[string]any, defaultCurrency, actorID string) ProductImportRow {
	row := ProductImportRow{Index: index, Action: ImportActionFailed}
	if raw == nil {
		row.Error = "record is not an object"
		return row
	}
	rec := s.mapping.resolve(raw)
	row.Unmapped = rec.unmapped
	row.SKU = strings.ToUpper(rec.text("sku"))

	existing, found, err := s.findImportTarget(ctx, rec.text("id"), row.SKU)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	if !found && !rec.has("price") {
		row.Error = "price is required for new products"
		return row
	}
	product, err := rec.apply(existing, defaultCurrency)
	if err != nil {
		row.Error = err.Error()
		return row
	}

	cmd := UpsertProductCommand{Product: product, ActorID: actorID}
	var saved Product
	if found {
		saved, err = s.UpdateProduct(ctx, cmd)
		row.Action = ImportActionUpdated
	} else {
		saved, err = s.CreateProduct(ctx, cmd)
		row.Action = ImportActionCreated
	}
	if err != nil {
		row.Action = ImportActionFailed
		row.Error = err.Error()
		return row
	}
	row.ProductID = saved.ID
	row.SKU = saved.SKU
	return row
}

func (s *catalogService) findImportTarget(ctx context.Context, id, sku string) (Product, bool, error) {
	if id != "" {
		product, err := s.products.FindByID(ctx, id)
		switch {
		case err == nil:
			return product, true, nil
		case !isRepositoryNotFound(err):
			return Product{}, false, mapCatalogRepositoryError(err)
		}
	}
	if sku != "" {
		product, err := s.products.FindBySKU(ctx, sku)
		switch {
		case err == nil:
			return product, true, nil
		case !isRepositoryNotFound(err):
			return Product{}, false, mapCatalogRepositoryError(err)
		}
	}
	return Product{}, false, nil
}
