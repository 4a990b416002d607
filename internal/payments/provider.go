package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusRequiresAction indicates the customer must complete an extra step such as 3-D Secure.
	StatusRequiresAction Status = "requires_action"
	// StatusAuthorized indicates funds are reserved but not yet captured.
	StatusAuthorized Status = "authorized"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the payment was cancelled or expired before completion.
	StatusCanceled Status = "canceled"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

const (
	ProviderStripe = "stripe"
	ProviderTabby  = "tabby"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrOperationUnsupported marks operations a provider does not offer.
	ErrOperationUnsupported = errors.New("payments: operation unsupported")
)

// LineItem describes a single purchased item forwarded to the PSP.
type LineItem struct {
	ReferenceID string
	Title       string
	Category    string
	Quantity    int64
	UnitAmount  int64
}

// Buyer identifies the customer paying for the order.
type Buyer struct {
	Name  string
	Email string
	Phone string
	// RegisteredSince is used by risk scoring providers.
	RegisteredSince time.Time
	OrdersCount     int
}

// ShippingAddress is the delivery destination shared with risk scoring providers.
type ShippingAddress struct {
	City    string
	Address string
	Zip     string
}

// CreatePaymentRequest captures the payload required to start a payment for an order.
type CreatePaymentRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	Description    string
	Buyer          Buyer
	Shipping       ShippingAddress
	Items          []LineItem
	ShippingAmount int64
	TaxAmount      int64
	DiscountAmount int64
	SuccessURL     string
	CancelURL      string
	FailureURL     string
	Language       string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentSession is the PSP handle returned to the client after creation.
type PaymentSession struct {
	Provider     string
	ID           string
	IntentID     string
	ClientSecret string
	RedirectURL  string
	Status       Status
}

// CaptureRequest defines a capture attempt, optionally for a partial amount.
type CaptureRequest struct {
	IntentID       string
	Amount         *int64
	Currency       string
	IdempotencyKey string
}

// RefundRequest defines a PSP refund attempt.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest returns provider specific payment details for reconciliation.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails normalises PSP specific fields for reconciliation.
type PaymentDetails struct {
	Provider string
	IntentID string
	Status   Status
	// ProviderStatus is the raw status string reported by the PSP.
	ProviderStatus string
	Amount         int64
	AmountReceived int64
	Currency       string
	// HasCharge reports whether the PSP attached a charge to the payment.
	HasCharge  bool
	ChargePaid bool
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	OrderID    string
	// OrderNumber is the merchant reference echoed back by providers that carry one.
	OrderNumber   string
	FailureReason string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentSession, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
	Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Supports reports whether a provider is registered under the key.
func (m *Manager) Supports(provider string) bool {
	if m == nil {
		return false
	}
	_, ok := m.providers[strings.TrimSpace(strings.ToLower(provider))]
	return ok
}

// Provider returns the provider registered under the key.
func (m *Manager) Provider(key string) (Provider, bool) {
	if m == nil {
		return nil, false
	}
	p, ok := m.providers[strings.TrimSpace(strings.ToLower(key))]
	return p, ok
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePayment delegates to the resolved provider.
func (m *Manager) CreatePayment(ctx context.Context, paymentCtx PaymentContext, req CreatePaymentRequest) (PaymentSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentSession{}, err
	}
	session, err := provider.CreatePayment(ctx, req)
	if err != nil {
		return PaymentSession{}, err
	}
	session.Provider = key
	return session, nil
}

// Capture delegates to the resolved provider.
func (m *Manager) Capture(ctx context.Context, paymentCtx PaymentContext, req CaptureRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Capture(ctx, req)
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}
