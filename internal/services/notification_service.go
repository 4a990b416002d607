package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/notifications"
)

// ErrNotificationFailed wraps composer and transport failures.
var ErrNotificationFailed = errors.New("notification: delivery failed")

// NotificationServiceDeps bundles collaborators for the notification service.
type NotificationServiceDeps struct {
	Composer *notifications.Composer
	Sender   notifications.Sender
	Settings SettingsService
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	composer *notifications.Composer
	sender   notifications.Sender
	settings SettingsService
	logger   func(context.Context, string, map[string]any)
}

// NewNotificationService wires the email composer to a transport.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Sender == nil {
		return nil, errors.New("notification service: sender is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("notification service: settings service is required")
	}
	composer := deps.Composer
	if composer == nil {
		var err error
		composer, err = notifications.NewComposer()
		if err != nil {
			return nil, fmt.Errorf("notification service: %w", err)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationService{
		composer: composer,
		sender:   deps.Sender,
		settings: deps.Settings,
		logger:   logger,
	}, nil
}

// OrderPlaced emails the buyer confirmation and the admin alert in parallel.
func (s *notificationService) OrderPlaced(ctx context.Context, order Order) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: load settings: %v", ErrNotificationFailed, err)
	}
	store := storeFromSettings(settings)

	// Each send is independent, so failures are collected instead of cancelling the sibling.
	var group errgroup.Group
	errs := make([]error, 2)
	group.Go(func() error {
		errs[0] = s.deliver(ctx, order.ID, func() (notifications.Message, error) {
			return s.composer.OrderConfirmation(store, order)
		})
		return nil
	})
	group.Go(func() error {
		errs[1] = s.deliver(ctx, order.ID, func() (notifications.Message, error) {
			return s.composer.AdminNewOrder(store, order, settings.AdminEmail)
		})
		return nil
	})
	_ = group.Wait()
	return errors.Join(errs...)
}

func (s *notificationService) OrderStatusChanged(ctx context.Context, order Order, previous OrderStatus) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: load settings: %v", ErrNotificationFailed, err)
	}
	return s.deliver(ctx, order.ID, func() (notifications.Message, error) {
		return s.composer.StatusUpdate(storeFromSettings(settings), order, previous)
	})
}

func (s *notificationService) OrderCancelled(ctx context.Context, order Order) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: load settings: %v", ErrNotificationFailed, err)
	}
	return s.deliver(ctx, order.ID, func() (notifications.Message, error) {
		return s.composer.Cancellation(storeFromSettings(settings), order)
	})
}

func (s *notificationService) LowStock(ctx context.Context, levels []StockLevel) error {
	if len(levels) == 0 {
		return nil
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: load settings: %v", ErrNotificationFailed, err)
	}
	return s.deliver(ctx, "", func() (notifications.Message, error) {
		return s.composer.LowStock(storeFromSettings(settings), levels, settings.LowStockThreshold, settings.AdminEmail)
	})
}

// deliver renders and sends one message. A message without a recipient is skipped, not failed.
func (s *notificationService) deliver(ctx context.Context, orderID string, compose func() (notifications.Message, error)) error {
	msg, err := compose()
	if err != nil {
		if errors.Is(err, notifications.ErrNoRecipient) {
			s.logger(ctx, "notification.skipped", map[string]any{
				"orderId": orderID,
				"reason":  err.Error(),
			})
			return nil
		}
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	if orderID != "" {
		msg.Tags = map[string]string{"orderId": orderID}
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger(ctx, "notification.send_failed", map[string]any{
			"orderId": orderID,
			"kind":    msg.Kind,
			"error":   err.Error(),
		})
		return fmt.Errorf("%w: %s: %v", ErrNotificationFailed, msg.Kind, err)
	}
	s.logger(ctx, "notification.sent", map[string]any{
		"orderId": orderID,
		"kind":    msg.Kind,
	})
	return nil
}

func storeFromSettings(settings domain.Settings) notifications.Store {
	return notifications.Store{
		Name:         settings.StoreName,
		SupportEmail: settings.AdminEmail,
		Timezone:     settings.Location(),
	}
}
