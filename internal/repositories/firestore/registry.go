package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

// Registry exposes every Firestore-backed repository through repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider

	products *ProductRepository
	coupons  *CouponRepository
	orders   *OrderRepository
	users    *UserRepository
	settings *SettingsRepository
	counters *CounterRepository
	content  *ContentRepository
	merchant *MerchantConnectionRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises repository construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	couponOpts []CouponRepositoryOption
	health     repositories.HealthRepository
}

// WithCouponOptions forwards options to the coupon repository.
func WithCouponOptions(opts ...CouponRepositoryOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.couponOpts = append(cfg.couponOpts, opts...)
	}
}

// WithHealthRepository attaches the dependency health probe set.
func WithHealthRepository(repo repositories.HealthRepository) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.health = repo
	}
}

// NewRegistry builds all repositories on top of a shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	reg := &Registry{provider: provider, health: cfg.health}
	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, fmt.Errorf("product repository: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider, cfg.couponOpts...); err != nil {
		return nil, fmt.Errorf("coupon repository: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("order repository: %w", err)
	}
	if reg.users, err = NewUserRepository(provider); err != nil {
		return nil, fmt.Errorf("user repository: %w", err)
	}
	if reg.settings, err = NewSettingsRepository(provider); err != nil {
		return nil, fmt.Errorf("settings repository: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("counter repository: %w", err)
	}
	if reg.content, err = NewContentRepository(provider); err != nil {
		return nil, fmt.Errorf("content repository: %w", err)
	}
	if reg.merchant, err = NewMerchantConnectionRepository(provider); err != nil {
		return nil, fmt.Errorf("merchant repository: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Coupons() repositories.CouponRepository   { return r.coupons }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Users() repositories.UserRepository       { return r.users }
func (r *Registry) Settings() repositories.SettingsRepository {
	return r.settings
}
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Content() repositories.ContentRepository  { return r.content }
func (r *Registry) Merchant() repositories.MerchantConnectionRepository {
	return r.merchant
}
func (r *Registry) Health() repositories.HealthRepository { return r.health }
