package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/notifications"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/config"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/observability"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

const meterName = "github.com/Oashe02/ELVORA-Backend-sub000"

// Adapters carries the clients for external systems. Nil fields disable the features that
// depend on them: no Merchant gateway leaves the merchant service nil, no Email sender logs
// messages instead of delivering them.
type Adapters struct {
	Payments      services.PaymentGateway
	StripeWebhook services.StripeWebhookVerifier
	Tabby         services.TabbyEligibilityChecker
	Email         notifications.Sender
	Objects       services.ObjectReader
	Media         services.MediaUploader
	Merchant      services.MerchantGateway
	Meter         metric.Meter
	Logger        *zap.Logger
	Clock         func() time.Time
	Build         services.BuildInfo
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Settings      services.SettingsService
	Users         services.UserService
	Counters      services.CounterService
	Coupons       services.CouponService
	Catalog       services.CatalogService
	Content       services.ContentService
	Notifications services.NotificationService
	Fulfillment   services.FulfillmentService
	Orders        services.OrderService
	Payments      services.PaymentService
	Merchant      services.MerchantService
	System        services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies on top of reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, adapters Adapters) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, adapters)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// SettingsDefaults seeds the settings document from configured store defaults.
func SettingsDefaults(store config.StoreDefaults) domain.Settings {
	return domain.Settings{
		StoreName:         store.Name,
		AdminEmail:        store.AdminEmail,
		Currency:          store.Currency,
		TaxRate:           store.TaxRate,
		Timezone:          store.Timezone,
		LowStockThreshold: store.LowStockThreshold,
		OrderPrefix:       store.OrderPrefix,
		ShippingMethods: []domain.ShippingMethod{
			{Name: "standard", EstimatedDays: 3},
		},
	}
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, adapters Adapters) (Services, error) {
	var svc Services

	clock := adapters.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := adapters.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := adapters.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	newID := func() string { return ulid.Make().String() }
	events := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(logger.Named(name))
	}

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Repository: reg.Settings(),
		Defaults:   SettingsDefaults(cfg.Store),
		TTL:        cfg.Store.SettingsTTL,
		Clock:      clock,
		Logger:     events("settings"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}
	svc.Settings = settingsSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:       reg.Users(),
		Clock:       clock,
		IDGenerator: newID,
		Logger:      events("users"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:  reg.Coupons(),
		Products: reg.Products(),
		Orders:   reg.Orders(),
		Users:    reg.Users(),
		Settings: settingsSvc,
		Clock:    clock,
		Logger:   events("coupons"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:    reg.Products(),
		Settings:    settingsSvc,
		Objects:     adapters.Objects,
		Media:       adapters.Media,
		Clock:       clock,
		IDGenerator: newID,
		Logger:      events("catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	contentSvc, err := services.NewContentService(services.ContentServiceDeps{
		Repository:  reg.Content(),
		Clock:       clock,
		IDGenerator: newID,
		Logger:      events("content"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build content service: %w", err)
	}
	svc.Content = contentSvc

	composer, err := notifications.NewComposer()
	if err != nil {
		return Services{}, fmt.Errorf("build email composer: %w", err)
	}
	sender := adapters.Email
	if sender == nil {
		sender = notifications.LogSender{Logger: logger.Named("email")}
	}
	notificationSvc, err := services.NewNotificationService(services.NotificationServiceDeps{
		Composer: composer,
		Sender:   sender,
		Settings: settingsSvc,
		Logger:   events("notifications"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifications = notificationSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:        reg.Orders(),
		Payments:      adapters.Payments,
		Settings:      settingsSvc,
		Notifications: notificationSvc,
		Meter:         meter,
		Clock:         clock,
		IDGenerator:   newID,
		Logger:        events("fulfillment"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Products:      reg.Products(),
		Coupons:       reg.Coupons(),
		UserAccounts:  reg.Users(),
		Users:         userSvc,
		Settings:      settingsSvc,
		Counters:      counterSvc,
		Payments:      adapters.Payments,
		Fulfillment:   fulfillmentSvc,
		Notifications: notificationSvc,
		Clock:         clock,
		IDGenerator:   newID,
		Logger:        events("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:        reg.Orders(),
		OrderService:  orderSvc,
		Users:         userSvc,
		Fulfillment:   fulfillmentSvc,
		Notifications: notificationSvc,
		Stripe:        adapters.StripeWebhook,
		Tabby:         adapters.Tabby,
		Clock:         clock,
		IDGenerator:   newID,
		Logger:        events("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	if adapters.Merchant != nil {
		merchantSvc, err := services.NewMerchantService(services.MerchantServiceDeps{
			Gateway:     adapters.Merchant,
			Connections: reg.Merchant(),
			Products:    reg.Products(),
			Clock:       clock,
			Logger:      events("merchant"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build merchant service: %w", err)
		}
		svc.Merchant = merchantSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := adapters.Build
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health: healthRepo,
			Clock:  clock,
			Build:  build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
