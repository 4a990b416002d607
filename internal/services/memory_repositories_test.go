package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

type repoErr struct {
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoErr) Error() string       { return e.err.Error() }
func (e *repoErr) Unwrap() error       { return e.err }
func (e *repoErr) IsNotFound() bool    { return e.notFound }
func (e *repoErr) IsConflict() bool    { return e.conflict }
func (e *repoErr) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return &repoErr{err: fmt.Errorf("%s not found", what), notFound: true}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type memoryProductRepo struct {
	mu    sync.Mutex
	store map[string]domain.Product
}

func newMemoryProductRepo(products ...domain.Product) *memoryProductRepo {
	repo := &memoryProductRepo{store: make(map[string]domain.Product)}
	for _, p := range products {
		repo.store[p.ID] = p
	}
	return repo
}

func (r *memoryProductRepo) Insert(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[product.ID]; ok {
		return &repoErr{err: errors.New("product exists"), conflict: true}
	}
	r.store[product.ID] = product
	return nil
}

func (r *memoryProductRepo) Update(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[product.ID]; !ok {
		return notFoundErr("product")
	}
	r.store[product.ID] = product
	return nil
}

func (r *memoryProductRepo) Delete(_ context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[productID]; !ok {
		return notFoundErr("product")
	}
	delete(r.store, productID)
	return nil
}

func (r *memoryProductRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.store[productID]
	if !ok {
		return domain.Product{}, notFoundErr("product")
	}
	return product, nil
}

func (r *memoryProductRepo) FindBySKU(_ context.Context, sku string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, product := range r.store {
		if strings.EqualFold(product.SKU, sku) {
			return product, nil
		}
	}
	return domain.Product{}, notFoundErr("product")
}

func (r *memoryProductRepo) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.store[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (r *memoryProductRepo) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Product
	for _, product := range r.store {
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, product.Status) {
			continue
		}
		if filter.CategoryID != "" && !slices.Contains(product.CategoryIDs, filter.CategoryID) {
			continue
		}
		items = append(items, product)
	}
	slices.SortFunc(items, func(a, b domain.Product) int { return strings.Compare(a.ID, b.ID) })
	return domain.CursorPage[domain.Product]{Items: items}, nil
}

func (r *memoryProductRepo) stock(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store[productID].Stock
}

type memoryCouponRepo struct {
	mu          sync.Mutex
	store       map[string]domain.Coupon
	redemptions map[string]int
}

func newMemoryCouponRepo(coupons ...domain.Coupon) *memoryCouponRepo {
	repo := &memoryCouponRepo{store: make(map[string]domain.Coupon), redemptions: make(map[string]int)}
	for _, c := range coupons {
		repo.store[strings.ToUpper(c.Code)] = c
	}
	return repo
}

func (r *memoryCouponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coupon, ok := r.store[strings.ToUpper(code)]
	if !ok {
		return domain.Coupon{}, notFoundErr("coupon")
	}
	return coupon, nil
}

func (r *memoryCouponRepo) Save(_ context.Context, coupon domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.store[coupon.Code]; ok {
		coupon.UsageCount = existing.UsageCount
		coupon.CreatedAt = existing.CreatedAt
	}
	r.store[coupon.Code] = coupon
	return nil
}

func (r *memoryCouponRepo) Delete(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[code]; !ok {
		return notFoundErr("coupon")
	}
	delete(r.store, code)
	return nil
}

func (r *memoryCouponRepo) List(_ context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Coupon
	for _, coupon := range r.store {
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, coupon.Status) {
			continue
		}
		items = append(items, coupon)
	}
	slices.SortFunc(items, func(a, b domain.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return domain.CursorPage[domain.Coupon]{Items: items}, nil
}

func (r *memoryCouponRepo) CountRedemptions(_ context.Context, code string, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redemptions[strings.ToUpper(code)+"/"+userID], nil
}

type memoryUserRepo struct {
	mu    sync.Mutex
	store map[string]domain.User
	seq   int
}

func newMemoryUserRepo(users ...domain.User) *memoryUserRepo {
	repo := &memoryUserRepo{store: make(map[string]domain.User)}
	for _, u := range users {
		repo.store[u.ID] = u
	}
	return repo
}

func (r *memoryUserRepo) FindByID(_ context.Context, userID string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.store[userID]
	if !ok {
		return domain.User{}, notFoundErr("user")
	}
	return user, nil
}

func (r *memoryUserRepo) FindByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.store {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return domain.User{}, notFoundErr("user")
}

func (r *memoryUserRepo) FindOrCreateByEmail(_ context.Context, candidate domain.User) (domain.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.store {
		if strings.EqualFold(user.Email, candidate.Email) {
			return user, false, nil
		}
	}
	if candidate.ID == "" {
		r.seq++
		candidate.ID = fmt.Sprintf("usr_%d", r.seq)
	}
	r.store[candidate.ID] = candidate
	return candidate, true, nil
}

type memorySettingsRepo struct {
	mu       sync.Mutex
	settings *domain.Settings
	gets     int
	err      error
}

func (r *memorySettingsRepo) Get(context.Context) (domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		return domain.Settings{}, notFoundErr("settings")
	}
	return *r.settings, nil
}

func (r *memorySettingsRepo) GetOrCreate(_ context.Context, defaults domain.Settings) (domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.err != nil {
		return domain.Settings{}, r.err
	}
	if r.settings == nil {
		stored := defaults
		r.settings = &stored
	}
	return *r.settings, nil
}

func (r *memorySettingsRepo) Save(_ context.Context, settings domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = &settings
	return nil
}

func (r *memorySettingsRepo) loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

// memoryOrderRepo mirrors the transactional semantics of the Firestore order repository.
type memoryOrderRepo struct {
	mu            sync.Mutex
	orders        map[string]domain.Order
	counters      map[string]int64
	products      *memoryProductRepo
	coupons       *memoryCouponRepo
	users         *memoryUserRepo
	placeErr      error
	setPaymentErr error
	deleted       []string
}

func newMemoryOrderRepo(products *memoryProductRepo, coupons *memoryCouponRepo, users *memoryUserRepo) *memoryOrderRepo {
	return &memoryOrderRepo{
		orders:   make(map[string]domain.Order),
		counters: make(map[string]int64),
		products: products,
		coupons:  coupons,
		users:    users,
	}
}

func (r *memoryOrderRepo) Place(_ context.Context, req repositories.OrderPlacementRequest) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.placeErr != nil {
		return domain.Order{}, r.placeErr
	}
	order := req.Order
	if err := r.checkStock(order); err != nil {
		return domain.Order{}, err
	}
	if req.Coupon != nil && r.coupons != nil {
		r.coupons.mu.Lock()
		code := strings.ToUpper(req.Coupon.Code)
		coupon, ok := r.coupons.store[code]
		if !ok {
			r.coupons.mu.Unlock()
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorCouponNotFound, "coupon not found", nil)
		}
		key := code + "/" + req.Coupon.UserID
		if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
			r.coupons.mu.Unlock()
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorCouponExhausted, "coupon exhausted", nil)
		}
		if req.Coupon.UserID != "" && coupon.PerCustomerLimit > 0 && r.coupons.redemptions[key] >= coupon.PerCustomerLimit {
			r.coupons.mu.Unlock()
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorCouponCustomerLimit, "coupon customer limit", nil)
		}
		coupon.UsageCount++
		r.coupons.store[code] = coupon
		if req.Coupon.UserID != "" {
			r.coupons.redemptions[key]++
		}
		r.coupons.mu.Unlock()
	}
	if r.users != nil && order.UserID != "" {
		r.users.mu.Lock()
		if user, ok := r.users.store[order.UserID]; ok {
			user.OrdersCount++
			r.users.store[order.UserID] = user
		}
		r.users.mu.Unlock()
	}
	r.counters[req.Sequence.CounterID]++
	order.OrderNumber = req.Sequence.Format(r.counters[req.Sequence.CounterID])
	order.CreatedAt = req.Now
	order.UpdatedAt = req.Now
	order.HistoryCount = len(order.History)
	r.orders[order.ID] = order
	return order, nil
}

// checkStock mirrors the transactional stock guard: missing products are skipped, short ones fail.
func (r *memoryOrderRepo) checkStock(order domain.Order) error {
	if r.products == nil {
		return nil
	}
	r.products.mu.Lock()
	defer r.products.mu.Unlock()
	ids, demand := stockDemand(order)
	for _, id := range ids {
		product, ok := r.products.store[id]
		if ok && product.Stock < demand[id] {
			return repositories.NewOutOfStockError(id, demand[id], product.Stock)
		}
	}
	return nil
}

func stockDemand(order domain.Order) ([]string, map[string]int) {
	demand := make(map[string]int)
	var ids []string
	add := func(id string, qty int) {
		if _, seen := demand[id]; !seen {
			ids = append(ids, id)
		}
		demand[id] += qty
	}
	for _, item := range order.Items {
		add(item.ProductID, item.Quantity)
	}
	for _, item := range order.FreeItems {
		add(item.ProductID, item.Quantity)
	}
	return ids, demand
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	return order, nil
}

func (r *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		items = append(items, order)
	}
	slices.SortFunc(items, func(a, b domain.Order) int { return strings.Compare(a.ID, b.ID) })
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (r *memoryOrderRepo) ListHistory(_ context.Context, orderID string, _ domain.Pagination) (domain.CursorPage[domain.OrderHistoryEntry], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.CursorPage[domain.OrderHistoryEntry]{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	return domain.CursorPage[domain.OrderHistoryEntry]{Items: slices.Clone(order.History)}, nil
}

func (r *memoryOrderRepo) CountByUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, order := range r.orders {
		if order.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *memoryOrderRepo) Transition(_ context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[req.OrderID]
	if !ok {
		return repositories.OrderTransitionResult{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	if len(req.From) > 0 && !slices.Contains(req.From, order.Status) {
		return repositories.OrderTransitionResult{Order: order}, nil
	}
	var result repositories.OrderTransitionResult
	if req.CommitStock && !order.StockCommitted && r.products != nil {
		if err := r.checkStock(order); err != nil {
			return repositories.OrderTransitionResult{}, err
		}
		ids, demand := stockDemand(order)
		r.products.mu.Lock()
		for _, id := range ids {
			product, ok := r.products.store[id]
			if !ok {
				continue
			}
			product.Stock -= demand[id]
			r.products.store[id] = product
			result.Stock = append(result.Stock, domain.StockLevel{ProductID: product.ID, Name: product.Name, SKU: product.SKU, Stock: product.Stock})
		}
		r.products.mu.Unlock()
		order.StockCommitted = true
	}
	if req.To != "" {
		order.Status = req.To
	}
	if req.PaymentStatus != "" {
		order.PaymentStatus = req.PaymentStatus
	}
	if req.MarkPaid && order.PaidAt == nil {
		now := req.Now
		order.PaidAt = &now
	}
	if req.MarkCancel && order.CancelledAt == nil {
		now := req.Now
		order.CancelledAt = &now
	}
	entry := req.History
	entry.Status = order.Status
	entry.PaymentStatus = order.PaymentStatus
	order.History = append(order.History, entry)
	order.HistoryCount++
	order.UpdatedAt = req.Now
	r.orders[order.ID] = order
	result.Order = order
	result.Applied = true
	return result, nil
}

func (r *memoryOrderRepo) AppendHistory(_ context.Context, orderID string, entry domain.OrderHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	if entry.Status == "" {
		entry.Status = order.Status
	}
	if entry.PaymentStatus == "" {
		entry.PaymentStatus = order.PaymentStatus
	}
	order.History = append(order.History, entry)
	order.HistoryCount++
	r.orders[orderID] = order
	return nil
}

func (r *memoryOrderRepo) SetPayment(_ context.Context, orderID string, payment domain.PaymentReference, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setPaymentErr != nil {
		return r.setPaymentErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	order.Payment = payment
	order.UpdatedAt = now
	r.orders[orderID] = order
	return nil
}

func (r *memoryOrderRepo) AddReturn(_ context.Context, orderID string, ret domain.OrderReturn, entry domain.OrderHistoryEntry) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	order.Returns = append(order.Returns, ret)
	entry.Status = order.Status
	entry.PaymentStatus = order.PaymentStatus
	order.History = append(order.History, entry)
	order.HistoryCount++
	r.orders[orderID] = order
	return order, nil
}

func (r *memoryOrderRepo) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return repositories.NewOrderError(repositories.OrderErrorNotFound, "order not found", nil)
	}
	delete(r.orders, orderID)
	r.deleted = append(r.deleted, orderID)
	return nil
}

func (r *memoryOrderRepo) get(orderID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[orderID]
}

func (r *memoryOrderRepo) put(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
}

type memoryCounterRepo struct {
	mu     sync.Mutex
	values map[string]int64
}

func (r *memoryCounterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make(map[string]int64)
	}
	if step <= 0 {
		step = 1
	}
	r.values[counterID] += step
	return r.values[counterID], nil
}

func (r *memoryCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

// recordingNotifier captures notification calls; failWith makes every call return the error.
type recordingNotifier struct {
	mu        sync.Mutex
	placed    []string
	changed   []string
	cancelled []string
	lowStock  [][]domain.StockLevel
	failWith  error
}

func (n *recordingNotifier) OrderPlaced(_ context.Context, order domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.placed = append(n.placed, order.ID)
	return n.failWith
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, order domain.Order, _ domain.OrderStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, order.ID+":"+string(order.Status))
	return n.failWith
}

func (n *recordingNotifier) OrderCancelled(_ context.Context, order domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, order.ID)
	return n.failWith
}

func (n *recordingNotifier) LowStock(_ context.Context, levels []domain.StockLevel) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lowStock = append(n.lowStock, levels)
	return n.failWith
}

type staticSettings struct {
	settings domain.Settings
	err      error
}

func (s staticSettings) Get(context.Context) (domain.Settings, error) { return s.settings, s.err }

func (s staticSettings) Update(_ context.Context, cmd UpdateSettingsCommand) (domain.Settings, error) {
	return cmd.Settings, s.err
}

func (s staticSettings) Refresh(context.Context) (domain.Settings, error) { return s.settings, s.err }

func testStoreSettings() domain.Settings {
	return domain.Settings{
		StoreName:         "Elvora",
		AdminEmail:        "ops@elvora.test",
		Currency:          "AED",
		TaxRate:           5,
		Timezone:          "Asia/Dubai",
		LowStockThreshold: 2,
		OrderPrefix:       "ELV",
		ShippingMethods: []domain.ShippingMethod{
			{Name: "standard", Cost: 2500, FreeShippingThreshold: 50000, EstimatedDays: 3},
			{Name: "express", Cost: 4500, EstimatedDays: 1},
		},
	}
}
