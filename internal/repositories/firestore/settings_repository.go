package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	settingsCollection = "settings"
	settingsDocumentID = "store"
)

type settingsDocument struct {
	StoreName         string                   `firestore:"storeName"`
	AdminEmail        string                   `firestore:"adminEmail"`
	Currency          string                   `firestore:"currency"`
	TaxRate           float64                  `firestore:"taxRate"`
	Timezone          string                   `firestore:"timezone"`
	LowStockThreshold int                      `firestore:"lowStockThreshold"`
	OrderPrefix       string                   `firestore:"orderPrefix"`
	ShippingMethods   []shippingMethodDocument `firestore:"shippingMethods"`
	UpdatedAt         time.Time                `firestore:"updatedAt"`
}

type shippingMethodDocument struct {
	Name                  string `firestore:"name"`
	Cost                  int64  `firestore:"cost"`
	FreeShippingThreshold int64  `firestore:"freeShippingThreshold,omitempty"`
	EstimatedDays         int    `firestore:"estimatedDays,omitempty"`
}

func newSettingsDocument(s domain.Settings) settingsDocument {
	methods := make([]shippingMethodDocument, len(s.ShippingMethods))
	for i, m := range s.ShippingMethods {
		methods[i] = shippingMethodDocument(m)
	}
	return settingsDocument{
		StoreName:         s.StoreName,
		AdminEmail:        s.AdminEmail,
		Currency:          s.Currency,
		TaxRate:           s.TaxRate,
		Timezone:          s.Timezone,
		LowStockThreshold: s.LowStockThreshold,
		OrderPrefix:       s.OrderPrefix,
		ShippingMethods:   methods,
		UpdatedAt:         s.UpdatedAt.UTC(),
	}
}

func (d settingsDocument) toDomain() domain.Settings {
	methods := make([]domain.ShippingMethod, len(d.ShippingMethods))
	for i, m := range d.ShippingMethods {
		methods[i] = domain.ShippingMethod(m)
	}
	return domain.Settings{
		StoreName:         d.StoreName,
		AdminEmail:        d.AdminEmail,
		Currency:          d.Currency,
		TaxRate:           d.TaxRate,
		Timezone:          d.Timezone,
		LowStockThreshold: d.LowStockThreshold,
		OrderPrefix:       d.OrderPrefix,
		ShippingMethods:   methods,
		UpdatedAt:         d.UpdatedAt,
	}
}

// SettingsRepository persists the store settings singleton document.
type SettingsRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[settingsDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[settingsDocument](provider, settingsCollection),
	}, nil
}

func (r *SettingsRepository) Get(ctx context.Context) (domain.Settings, error) {
	doc, err := r.base.Get(ctx, settingsDocumentID)
	if err != nil {
		return domain.Settings{}, err
	}
	return doc.Data.toDomain(), nil
}

func (r *SettingsRepository) GetOrCreate(ctx context.Context, defaults domain.Settings) (domain.Settings, error) {
	var result domain.Settings
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, settingsDocumentID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			var doc settingsDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode settings: %w", err)
			}
			result = doc.toDomain()
			return nil
		case codes.NotFound:
			result = defaults
			return tx.Create(ref, newSettingsDocument(defaults))
		default:
			return err
		}
	})
	if err != nil {
		return domain.Settings{}, pfirestore.WrapError("settings.getOrCreate", err)
	}
	return result, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings domain.Settings) error {
	err := r.base.Set(ctx, settingsDocumentID, newSettingsDocument(settings))
	return err
}
