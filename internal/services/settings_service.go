package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/currency"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const defaultSettingsTTL = time.Minute

var (
	// ErrSettingsInvalidInput indicates an update failed validation.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsUnavailable indicates the settings store could not be reached.
	ErrSettingsUnavailable = errors.New("settings: unavailable")
)

// SettingsServiceDeps bundles collaborators for the settings service.
type SettingsServiceDeps struct {
	Repository repositories.SettingsRepository
	// Defaults are written the first time settings are read from an empty store.
	Defaults domain.Settings
	TTL      time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type settingsService struct {
	repo     repositories.SettingsRepository
	defaults domain.Settings
	ttl      time.Duration
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	cached   domain.Settings
	loadedAt time.Time
	loaded   bool
	group    singleflight.Group
}

// NewSettingsService constructs a cached settings service.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Repository == nil {
		return nil, errors.New("settings service: repository is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSettingsTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	defaults := normalizeSettings(deps.Defaults)
	if err := validateSettings(defaults); err != nil {
		return nil, fmt.Errorf("settings service: defaults: %w", err)
	}
	return &settingsService{
		repo:     deps.Repository,
		defaults: defaults,
		ttl:      ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *settingsService) Get(ctx context.Context) (Settings, error) {
	s.mu.RLock()
	if s.loaded && s.clock().Sub(s.loadedAt) < s.ttl {
		settings := cloneSettings(s.cached)
		s.mu.RUnlock()
		return settings, nil
	}
	s.mu.RUnlock()
	return s.load(ctx)
}

func (s *settingsService) Refresh(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return s.load(ctx)
}

func (s *settingsService) Update(ctx context.Context, cmd UpdateSettingsCommand) (Settings, error) {
	settings := normalizeSettings(cmd.Settings)
	if err := validateSettings(settings); err != nil {
		return Settings{}, err
	}
	settings.UpdatedAt = s.clock()
	if err := s.repo.Save(ctx, settings); err != nil {
		return Settings{}, s.mapRepositoryError(err)
	}
	s.store(settings)
	s.logger(ctx, "settings.updated", map[string]any{
		"actorId":  strings.TrimSpace(cmd.ActorID),
		"currency": settings.Currency,
		"taxRate":  settings.TaxRate,
	})
	return cloneSettings(settings), nil
}

// load collapses concurrent cache misses into a single repository read.
func (s *settingsService) load(ctx context.Context) (Settings, error) {
	result, err, _ := s.group.Do("settings", func() (any, error) {
		settings, err := s.repo.GetOrCreate(ctx, s.defaults)
		if err != nil {
			return nil, err
		}
		settings = normalizeSettings(settings)
		s.store(settings)
		return settings, nil
	})
	if err != nil {
		s.logger(ctx, "settings.load.failed", map[string]any{"error": err.Error()})
		return Settings{}, s.mapRepositoryError(err)
	}
	return cloneSettings(result.(domain.Settings)), nil
}

func (s *settingsService) store(settings domain.Settings) {
	s.mu.Lock()
	s.cached = cloneSettings(settings)
	s.loadedAt = s.clock()
	s.loaded = true
	s.mu.Unlock()
}

func (s *settingsService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}
	return err
}

func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.StoreName = strings.TrimSpace(settings.StoreName)
	settings.AdminEmail = strings.TrimSpace(settings.AdminEmail)
	settings.Currency = strings.ToUpper(strings.TrimSpace(settings.Currency))
	settings.Timezone = strings.TrimSpace(settings.Timezone)
	settings.OrderPrefix = strings.ToUpper(strings.TrimSpace(settings.OrderPrefix))
	methods := make([]domain.ShippingMethod, 0, len(settings.ShippingMethods))
	for _, method := range settings.ShippingMethods {
		method.Name = strings.TrimSpace(method.Name)
		methods = append(methods, method)
	}
	settings.ShippingMethods = methods
	return settings
}

func validateSettings(settings domain.Settings) error {
	if settings.TaxRate < 0 || settings.TaxRate > 100 {
		return fmt.Errorf("%w: tax rate must be between 0 and 100", ErrSettingsInvalidInput)
	}
	if _, err := currency.ParseISO(settings.Currency); err != nil {
		return fmt.Errorf("%w: unknown currency %q", ErrSettingsInvalidInput, settings.Currency)
	}
	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrSettingsInvalidInput, settings.Timezone)
		}
	}
	if settings.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low stock threshold must not be negative", ErrSettingsInvalidInput)
	}
	if len(settings.ShippingMethods) == 0 {
		return fmt.Errorf("%w: at least one shipping method is required", ErrSettingsInvalidInput)
	}
	seen := make([]string, 0, len(settings.ShippingMethods))
	for _, method := range settings.ShippingMethods {
		if method.Name == "" {
			return fmt.Errorf("%w: shipping method name is required", ErrSettingsInvalidInput)
		}
		key := strings.ToLower(method.Name)
		if slices.Contains(seen, key) {
			return fmt.Errorf("%w: duplicate shipping method %q", ErrSettingsInvalidInput, method.Name)
		}
		seen = append(seen, key)
		if method.Cost < 0 || method.FreeShippingThreshold < 0 || method.EstimatedDays < 0 {
			return fmt.Errorf("%w: shipping method %q has negative values", ErrSettingsInvalidInput, method.Name)
		}
	}
	return nil
}

func cloneSettings(settings domain.Settings) domain.Settings {
	settings.ShippingMethods = slices.Clone(settings.ShippingMethods)
	return settings
}
