package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	ordersCollection  = "orders"
	historyCollection = "history"
)

// OrderRepository persists orders together with their history subcollection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	coupons  *pfirestore.BaseRepository[couponDocument]
	users    *pfirestore.BaseRepository[userDocument]
	counters *pfirestore.BaseRepository[counterDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		coupons:  pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection),
		users:    pfirestore.NewBaseRepository[userDocument](provider, usersCollection),
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
	}, nil
}

// Place allocates the order number, records coupon usage and writes the order in one transaction.
func (r *OrderRepository) Place(ctx context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order place: order id is required")
	}
	if strings.TrimSpace(req.Sequence.CounterID) == "" || req.Sequence.Format == nil {
		return domain.Order{}, errors.New("order place: order sequence is required")
	}
	if len(order.History) == 0 {
		return domain.Order{}, errors.New("order place: initial history entry is required")
	}
	now := req.Now.UTC()

	var placed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		counterRef, err := r.counters.DocumentRef(ctx, req.Sequence.CounterID)
		if err != nil {
			return err
		}

		var (
			couponRef     *firestore.DocumentRef
			redemptionRef *firestore.DocumentRef
			coupon        couponDocument
			redemption    redemptionDocument
		)
		if req.Coupon != nil {
			code := couponKey(req.Coupon.Code)
			if couponRef, err = r.coupons.DocumentRef(ctx, code); err != nil {
				return err
			}
			snap, err := tx.Get(couponRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewOrderError(repositories.OrderErrorCouponNotFound, fmt.Sprintf("coupon %s not found", code), err)
				}
				return err
			}
			if err := snap.DataTo(&coupon); err != nil {
				return fmt.Errorf("decode coupon %s: %w", code, err)
			}
			if userID := strings.TrimSpace(req.Coupon.UserID); userID != "" {
				redemptionRef = couponRef.Collection(redemptionsCollection).Doc(userID)
				snap, err := tx.Get(redemptionRef)
				switch status.Code(err) {
				case codes.OK:
					if err := snap.DataTo(&redemption); err != nil {
						return fmt.Errorf("decode redemption %s/%s: %w", code, userID, err)
					}
				case codes.NotFound:
				default:
					return err
				}
			}
		}

		ids, demand := newOrderDocument(order).stockDemand()
		stock, err := r.readStockTx(ctx, tx, ids)
		if err != nil {
			return err
		}

		seq, writeCounter, err := readCounter(tx, counterRef, req.Sequence.CounterID, 1)
		if err != nil {
			return err
		}

		var userRef *firestore.DocumentRef
		if userID := strings.TrimSpace(order.UserID); userID != "" {
			ref, err := r.users.DocumentRef(ctx, userID)
			if err != nil {
				return err
			}
			if _, err := tx.Get(ref); err == nil {
				userRef = ref
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		// All reads are done; validate, then write.
		for _, read := range stock {
			if !read.found {
				missing := repositories.NewOrderError(repositories.OrderErrorProductNotFound, fmt.Sprintf("product %s not found", read.productID), nil)
				missing.ProductID = read.productID
				return missing
			}
			if read.product.Stock < demand[read.productID] {
				return repositories.NewOutOfStockError(read.productID, demand[read.productID], read.product.Stock)
			}
		}
		if couponRef != nil {
			if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
				return repositories.NewOrderError(repositories.OrderErrorCouponExhausted, fmt.Sprintf("coupon %s usage limit reached", couponRef.ID), nil)
			}
			if redemptionRef != nil && coupon.PerCustomerLimit > 0 && redemption.Count >= coupon.PerCustomerLimit {
				return repositories.NewOrderError(repositories.OrderErrorCouponCustomerLimit, fmt.Sprintf("coupon %s customer limit reached", couponRef.ID), nil)
			}
		}

		if err := writeCounter(now); err != nil {
			return err
		}
		if couponRef != nil {
			if err := tx.Update(couponRef, []firestore.Update{
				{Path: "usageCount", Value: firestore.Increment(1)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			if redemptionRef != nil {
				if err := tx.Set(redemptionRef, redemptionDocument{
					Count:       redemption.Count + 1,
					LastOrderID: order.ID,
					UpdatedAt:   now,
				}); err != nil {
					return err
				}
			}
		}
		if userRef != nil {
			if err := tx.Update(userRef, []firestore.Update{
				{Path: "ordersCount", Value: firestore.Increment(1)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		order.OrderNumber = req.Sequence.Format(seq)
		order.CreatedAt = now
		order.UpdatedAt = now
		if len(order.History) > recentHistoryLimit {
			order.History = order.History[len(order.History)-recentHistoryLimit:]
		}
		order.HistoryCount = len(order.History)
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorAlreadyExists, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}
		for _, entry := range order.History {
			if err := tx.Create(orderRef.Collection(historyCollection).Doc(entry.ID), newHistoryEntryDocument(entry)); err != nil {
				return err
			}
		}
		placed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.place", err)
	}
	return placed, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := clampPageSize(filter.Pagination.PageSize)
	cursor, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if cursor != nil {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	items, next, err := trimPage(items, pageSize, func(o domain.Order) pageCursor {
		return pageCursor{ID: o.ID, CreatedAt: o.CreatedAt}
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (r *OrderRepository) ListHistory(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderHistoryEntry], error) {
	ref, err := r.orders.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.CursorPage[domain.OrderHistoryEntry]{}, err
	}
	pageSize := clampPageSize(pager.PageSize)
	cursor, err := decodePageToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderHistoryEntry]{}, pfirestore.WrapError("orders.history", err)
	}

	q := ref.Collection(historyCollection).OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
	if cursor != nil {
		q = q.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	snaps, err := q.Limit(pageSize + 1).Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.OrderHistoryEntry]{}, pfirestore.WrapError("orders.history", err)
	}
	entries := make([]domain.OrderHistoryEntry, 0, len(snaps))
	for _, snap := range snaps {
		var doc historyEntryDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.OrderHistoryEntry]{}, fmt.Errorf("decode history %s: %w", snap.Ref.ID, err)
		}
		entry := doc.toDomain()
		entry.ID = snap.Ref.ID
		entries = append(entries, entry)
	}
	entries, next, err := trimPage(entries, pageSize, func(e domain.OrderHistoryEntry) pageCursor {
		return pageCursor{ID: e.ID, CreatedAt: e.CreatedAt}
	})
	if err != nil {
		return domain.CursorPage[domain.OrderHistoryEntry]{}, err
	}
	return domain.CursorPage[domain.OrderHistoryEntry]{Items: entries, NextPageToken: next}, nil
}

func (r *OrderRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(ordersCollection).
		Where("userId", "==", userID)
	result, err := query.
		NewAggregationQuery().
		WithCount("all").
		Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.countByUser", err)
	}
	value, ok := result["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("orders.countByUser: unexpected aggregation result %T", result["all"])
	}
	return int(value.GetIntegerValue()), nil
}

// Transition applies a guarded status change. Stock is decremented at most once per order.
func (r *OrderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.OrderTransitionResult{}, errors.New("order transition: order id is required")
	}
	now := req.Now.UTC()

	var result repositories.OrderTransitionResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.OrderTransitionResult{}
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		doc, err := getOrderTx(tx, orderRef)
		if err != nil {
			return err
		}
		if len(req.From) > 0 && !slices.Contains(req.From, domain.OrderStatus(doc.Status)) {
			result.Order = doc.toDomain(orderID)
			return nil
		}

		var updates []stockLevelRead
		if req.CommitStock && !doc.StockCommitted {
			ids, demand := doc.stockDemand()
			reads, err := r.readStockTx(ctx, tx, ids)
			if err != nil {
				return err
			}
			for _, read := range reads {
				if !read.found {
					// deleted products keep the order fulfillable; there is no stock left to track.
					continue
				}
				remaining := read.product.Stock - demand[read.productID]
				if remaining < 0 {
					return repositories.NewOutOfStockError(read.productID, demand[read.productID], read.product.Stock)
				}
				read.product.Stock = remaining
				updates = append(updates, read)
			}
			doc.StockCommitted = true
		}

		for _, update := range updates {
			if err := tx.Update(update.ref, []firestore.Update{
				{Path: "stock", Value: update.product.Stock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			result.Stock = append(result.Stock, domain.StockLevel{
				ProductID: update.productID,
				Name:      update.product.Name,
				SKU:       update.product.SKU,
				Stock:     update.product.Stock,
			})
		}

		if req.To != "" {
			doc.Status = string(req.To)
		}
		if req.PaymentStatus != "" {
			doc.PaymentStatus = string(req.PaymentStatus)
		}
		if req.MarkPaid && doc.PaidAt == nil {
			doc.PaidAt = &now
		}
		if req.MarkCancel && doc.CancelledAt == nil {
			doc.CancelledAt = &now
		}
		doc.UpdatedAt = now

		entry := req.History
		entry.Status = domain.OrderStatus(doc.Status)
		entry.PaymentStatus = domain.PaymentStatus(doc.PaymentStatus)
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if err := writeHistoryTx(tx, orderRef, &doc, entry); err != nil {
			return err
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		result.Order = doc.toDomain(orderID)
		result.Applied = true
		return nil
	})
	if err != nil {
		return repositories.OrderTransitionResult{}, wrapOrderError("orders.transition", err)
	}
	return result, nil
}

func (r *OrderRepository) AppendHistory(ctx context.Context, orderID string, entry domain.OrderHistoryEntry) error {
	orderID = strings.TrimSpace(orderID)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		doc, err := getOrderTx(tx, orderRef)
		if err != nil {
			return err
		}
		if entry.Status == "" {
			entry.Status = domain.OrderStatus(doc.Status)
		}
		if entry.PaymentStatus == "" {
			entry.PaymentStatus = domain.PaymentStatus(doc.PaymentStatus)
		}
		if err := writeHistoryTx(tx, orderRef, &doc, entry); err != nil {
			return err
		}
		return tx.Update(orderRef, []firestore.Update{
			{Path: "history", Value: doc.History},
			{Path: "historyCount", Value: doc.HistoryCount},
		})
	})
	if err != nil {
		return wrapOrderError("orders.appendHistory", err)
	}
	return nil
}

func (r *OrderRepository) SetPayment(ctx context.Context, orderID string, payment domain.PaymentReference, now time.Time) error {
	ref, err := r.orders.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, []firestore.Update{
		{Path: "payment", Value: paymentDocument(payment)},
		{Path: "updatedAt", Value: now.UTC()},
	}); err != nil {
		return wrapOrderError("orders.setPayment", pfirestore.WrapError("orders.setPayment", err))
	}
	return nil
}

func (r *OrderRepository) AddReturn(ctx context.Context, orderID string, ret domain.OrderReturn, entry domain.OrderHistoryEntry) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		doc, err := getOrderTx(tx, orderRef)
		if err != nil {
			return err
		}
		doc.Returns = append(doc.Returns, newReturnDocument(ret))
		doc.UpdatedAt = ret.UpdatedAt.UTC()
		entry.Status = domain.OrderStatus(doc.Status)
		entry.PaymentStatus = domain.PaymentStatus(doc.PaymentStatus)
		if err := writeHistoryTx(tx, orderRef, &doc, entry); err != nil {
			return err
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.addReturn", err)
	}
	return updated, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	snaps, err := ref.Collection(historyCollection).Documents(ctx).GetAll()
	if err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	bulk := client.BulkWriter(ctx)
	for _, snap := range snaps {
		if _, err := bulk.Delete(snap.Ref); err != nil {
			bulk.End()
			return pfirestore.WrapError("orders.delete", err)
		}
	}
	bulk.End()
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// stockLevelRead is a product snapshot taken inside a transaction.
type stockLevelRead struct {
	productID string
	ref       *firestore.DocumentRef
	product   productDocument
	found     bool
}

// readStockTx loads the products an order draws on. Missing products are reported with found=false.
func (r *OrderRepository) readStockTx(ctx context.Context, tx *firestore.Transaction, productIDs []string) ([]stockLevelRead, error) {
	reads := make([]stockLevelRead, 0, len(productIDs))
	for _, productID := range productIDs {
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return nil, err
		}
		read := stockLevelRead{productID: productID, ref: ref}
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&read.product); err != nil {
				return nil, fmt.Errorf("decode product %s: %w", productID, err)
			}
			read.found = true
		case codes.NotFound:
		default:
			return nil, err
		}
		reads = append(reads, read)
	}
	return reads, nil
}

func getOrderTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (orderDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return orderDocument{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", ref.ID), err)
		}
		return orderDocument{}, err
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", ref.ID, err)
	}
	return doc, nil
}

func writeHistoryTx(tx *firestore.Transaction, orderRef *firestore.DocumentRef, doc *orderDocument, entry domain.OrderHistoryEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("history entry id is required")
	}
	doc.appendHistory(entry)
	return tx.Create(orderRef.Collection(historyCollection).Doc(entry.ID), newHistoryEntryDocument(entry))
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		if counterErr.Op == "" {
			counterErr.Op = op
		}
		return counterErr
	}
	return pfirestore.WrapError(op, err)
}
