//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")

	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	if err := reg.Products().Insert(ctx, domain.Product{
		ID:        "prod_rose",
		Name:      "Rose Oud",
		SKU:       "ROSE-50",
		Price:     10000,
		Currency:  "AED",
		Stock:     5,
		Status:    domain.ProductStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if err := reg.Coupons().Save(ctx, domain.Coupon{
		Code:             "WELCOME10",
		Type:             domain.DiscountTypePercentage,
		Value:            10,
		UsageLimit:       10,
		PerCustomerLimit: 1,
		Scope:            domain.CouponScopeAll,
		CustomerType:     domain.CustomerTypeAll,
		Active:           true,
		Status:           domain.CouponStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}); err != nil {
		t.Fatalf("save coupon: %v", err)
	}

	newOrder := func(id string) domain.Order {
		return domain.Order{
			ID:     id,
			UserID: "user_1",
			Items: []domain.OrderLineItem{
				{ProductID: "prod_rose", Name: "Rose Oud", Quantity: 2, UnitPrice: 10000, Subtotal: 20000},
			},
			CouponCode:    "WELCOME10",
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusPending,
			PaymentMethod: domain.PaymentMethodStripe,
			History: []domain.OrderHistoryEntry{
				{ID: id + "_created", Status: domain.OrderStatusPending, Note: "order created", Level: domain.HistoryLevelInfo, CreatedAt: now},
			},
		}
	}
	seq := repositories.OrderSequence{
		CounterID: "orders-260304",
		Format:    func(n int64) string { return fmt.Sprintf("ORD-260304-%04d", n) },
	}

	placed, err := reg.Orders().Place(ctx, repositories.OrderPlacementRequest{
		Order:    newOrder("ord_1"),
		Sequence: seq,
		Coupon:   &repositories.CouponRedemption{Code: "welcome10", UserID: "user_1"},
		Now:      now,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if placed.OrderNumber != "ORD-260304-0001" {
		t.Fatalf("expected first order number, got %s", placed.OrderNumber)
	}

	redemptions, err := reg.Coupons().CountRedemptions(ctx, "WELCOME10", "user_1")
	if err != nil {
		t.Fatalf("count redemptions: %v", err)
	}
	if redemptions != 1 {
		t.Fatalf("expected 1 redemption, got %d", redemptions)
	}

	_, err = reg.Orders().Place(ctx, repositories.OrderPlacementRequest{
		Order:    newOrder("ord_2"),
		Sequence: seq,
		Coupon:   &repositories.CouponRedemption{Code: "WELCOME10", UserID: "user_1"},
		Now:      now.Add(time.Minute),
	})
	var orderErr *repositories.OrderError
	if !errors.As(err, &orderErr) || orderErr.Code != repositories.OrderErrorCouponCustomerLimit {
		t.Fatalf("expected customer limit error, got %v", err)
	}
	if _, err := reg.Orders().FindByID(ctx, "ord_2"); err == nil {
		t.Fatalf("rejected order must not be persisted")
	}

	coupon, err := reg.Coupons().FindByCode(ctx, "WELCOME10")
	if err != nil {
		t.Fatalf("find coupon: %v", err)
	}
	if coupon.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", coupon.UsageCount)
	}

	// Concurrent webhook deliveries must decrement stock exactly once.
	const deliveries = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	wg.Add(deliveries)
	for i := 0; i < deliveries; i++ {
		go func(idx int) {
			defer wg.Done()
			res, err := reg.Orders().Transition(ctx, repositories.OrderTransitionRequest{
				OrderID:       "ord_1",
				From:          []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusOnHold},
				To:            domain.OrderStatusProcessing,
				PaymentStatus: domain.PaymentStatusPaid,
				CommitStock:   true,
				MarkPaid:      true,
				History: domain.OrderHistoryEntry{
					ID:    fmt.Sprintf("ord_1_paid_%d", idx),
					Note:  "payment confirmed",
					Actor: "stripe",
					Level: domain.HistoryLevelInfo,
				},
				Now: now.Add(2 * time.Minute),
			})
			if err != nil {
				t.Errorf("transition %d: %v", idx, err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", applied)
	}
	product, err := reg.Products().FindByID(ctx, "prod_rose")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if product.Stock != 3 {
		t.Fatalf("expected stock 3 after single decrement, got %d", product.Stock)
	}

	order, err := reg.Orders().FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing || order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected order state %s/%s", order.Status, order.PaymentStatus)
	}
	if !order.StockCommitted || order.PaidAt == nil {
		t.Fatalf("expected stock committed and paidAt set: %+v", order)
	}

	history, err := reg.Orders().ListHistory(ctx, "ord_1", domain.Pagination{PageSize: 1})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history.Items) != 1 || history.NextPageToken == "" {
		t.Fatalf("expected paged history, got %d items token %q", len(history.Items), history.NextPageToken)
	}

	count, err := reg.Orders().CountByUser(ctx, "user_1")
	if err != nil {
		t.Fatalf("count by user: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 order for user, got %d", count)
	}
}

func TestOrderRepositoryStockGuardIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-stock-test")

	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	if err := reg.Products().Insert(ctx, domain.Product{
		ID:        "prod_musk",
		Name:      "White Musk",
		SKU:       "MUSK-30",
		Price:     4000,
		Currency:  "AED",
		Stock:     3,
		Status:    domain.ProductStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	seq := repositories.OrderSequence{
		CounterID: "orders-260304",
		Format:    func(n int64) string { return fmt.Sprintf("ORD-260304-%04d", n) },
	}
	newOrder := func(id string, qty int) domain.Order {
		return domain.Order{
			ID: id,
			Items: []domain.OrderLineItem{
				{ProductID: "prod_musk", Name: "White Musk", Quantity: qty, UnitPrice: 4000, Subtotal: int64(qty) * 4000},
			},
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusPending,
			PaymentMethod: domain.PaymentMethodStripe,
			History: []domain.OrderHistoryEntry{
				{ID: id + "_created", Status: domain.OrderStatusPending, Note: "order created", Level: domain.HistoryLevelInfo, CreatedAt: now},
			},
		}
	}

	_, err = reg.Orders().Place(ctx, repositories.OrderPlacementRequest{Order: newOrder("ord_big", 4), Sequence: seq, Now: now})
	if shortage, ok := repositories.IsOutOfStock(err); !ok || shortage.ProductID != "prod_musk" || shortage.Available != 3 {
		t.Fatalf("expected out of stock on placement, got %v", err)
	}

	for _, id := range []string{"ord_a", "ord_b"} {
		if _, err := reg.Orders().Place(ctx, repositories.OrderPlacementRequest{Order: newOrder(id, 3), Sequence: seq, Now: now}); err != nil {
			t.Fatalf("place %s: %v", id, err)
		}
	}

	commit := func(id string) (repositories.OrderTransitionResult, error) {
		return reg.Orders().Transition(ctx, repositories.OrderTransitionRequest{
			OrderID:       id,
			From:          []domain.OrderStatus{domain.OrderStatusPending},
			To:            domain.OrderStatusProcessing,
			PaymentStatus: domain.PaymentStatusPaid,
			CommitStock:   true,
			MarkPaid:      true,
			History:       domain.OrderHistoryEntry{ID: id + "_paid", Note: "payment confirmed", Level: domain.HistoryLevelInfo},
			Now:           now.Add(time.Minute),
		})
	}
	if res, err := commit("ord_a"); err != nil || !res.Applied {
		t.Fatalf("commit ord_a: applied=%v err=%v", res.Applied, err)
	}
	if _, err := commit("ord_b"); err == nil {
		t.Fatalf("expected second commit to fail")
	} else if _, ok := repositories.IsOutOfStock(err); !ok {
		t.Fatalf("expected out of stock, got %v", err)
	}

	product, err := reg.Products().FindByID(ctx, "prod_musk")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", product.Stock)
	}
	order, err := reg.Orders().FindByID(ctx, "ord_b")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != domain.OrderStatusPending || order.StockCommitted {
		t.Fatalf("failed commit must leave the order untouched, got %s committed=%v", order.Status, order.StockCommitted)
	}
}
