package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

// Reasons reported by ProductUnavailableError.
const (
	ProductUnavailableNotFound   = "product_not_found"
	ProductUnavailableInactive   = "product_inactive"
	ProductUnavailableOutOfStock = "out_of_stock"
)

var (
	// ErrCartEmpty indicates no purchasable lines were supplied.
	ErrCartEmpty = errors.New("cart: empty")
	// ErrCartInvalidLine indicates a line is missing its product or has a non-positive quantity.
	ErrCartInvalidLine = errors.New("cart: invalid line")
	// ErrProductUnavailable is matched by every ProductUnavailableError.
	ErrProductUnavailable = errors.New("cart: product unavailable")
)

// ProductUnavailableError reports the first cart line that cannot be sold.
type ProductUnavailableError struct {
	ProductID string
	Reason    string
	Requested int
	Available int
}

func (e *ProductUnavailableError) Error() string {
	if e.Reason == ProductUnavailableOutOfStock {
		return fmt.Sprintf("product %s: %s (requested %d, available %d)", e.ProductID, e.Reason, e.Requested, e.Available)
	}
	return fmt.Sprintf("product %s: %s", e.ProductID, e.Reason)
}

func (e *ProductUnavailableError) Is(target error) bool {
	return target == ErrProductUnavailable
}

// priceCartLines re-prices client lines from the product store. Client prices are never trusted.
// Lines for the same product are merged; requireStock rejects quantities above current stock.
func priceCartLines(ctx context.Context, products repositories.ProductRepository, inputs []CartLineInput, requireStock bool) ([]domain.CartLine, error) {
	if len(inputs) == 0 {
		return nil, ErrCartEmpty
	}
	quantities := make(map[string]int, len(inputs))
	ids := make([]string, 0, len(inputs))
	for i, input := range inputs {
		id := strings.TrimSpace(input.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: line %d is missing a product id", ErrCartInvalidLine, i)
		}
		if input.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrCartInvalidLine, i)
		}
		if _, seen := quantities[id]; !seen {
			ids = append(ids, id)
		}
		quantities[id] += input.Quantity
	}

	found, err := products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("cart: load products: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(ids))
	for _, id := range ids {
		qty := quantities[id]
		product, ok := found[id]
		if !ok {
			return nil, &ProductUnavailableError{ProductID: id, Reason: ProductUnavailableNotFound}
		}
		if !product.Purchasable() {
			return nil, &ProductUnavailableError{ProductID: id, Reason: ProductUnavailableInactive}
		}
		if requireStock && product.Stock < qty {
			return nil, &ProductUnavailableError{ProductID: id, Reason: ProductUnavailableOutOfStock, Requested: qty, Available: product.Stock}
		}
		lines = append(lines, cartLineFromProduct(product, qty))
	}
	return lines, nil
}

func cartLineFromProduct(product domain.Product, qty int) domain.CartLine {
	original := product.Price
	if product.CompareAtPrice > product.Price {
		original = product.CompareAtPrice
	}
	var image string
	if len(product.Images) > 0 {
		image = product.Images[0]
	}
	return domain.CartLine{
		ProductID:     product.ID,
		Name:          product.Name,
		SKU:           product.SKU,
		Image:         image,
		CategoryIDs:   append([]string(nil), product.CategoryIDs...),
		Quantity:      qty,
		UnitPrice:     product.Price,
		OriginalPrice: original,
		Subtotal:      product.Price * int64(qty),
	}
}
