package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	integrationsCollection = "integrations"
	merchantDocumentID     = "googleMerchant"
)

type merchantConnectionDocument struct {
	MerchantID   string    `firestore:"merchantId"`
	AccessToken  string    `firestore:"accessToken"`
	RefreshToken string    `firestore:"refreshToken"`
	TokenType    string    `firestore:"tokenType,omitempty"`
	Expiry       time.Time `firestore:"expiry"`
	ConnectedAt  time.Time `firestore:"connectedAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// MerchantConnectionRepository stores the Merchant Center OAuth2 grant as a singleton document.
type MerchantConnectionRepository struct {
	base *pfirestore.BaseRepository[merchantConnectionDocument]
}

var _ repositories.MerchantConnectionRepository = (*MerchantConnectionRepository)(nil)

// NewMerchantConnectionRepository constructs a Firestore-backed merchant connection repository.
func NewMerchantConnectionRepository(provider *pfirestore.Provider) (*MerchantConnectionRepository, error) {
	if provider == nil {
		return nil, errors.New("merchant connection repository requires firestore provider")
	}
	return &MerchantConnectionRepository{
		base: pfirestore.NewBaseRepository[merchantConnectionDocument](provider, integrationsCollection),
	}, nil
}

func (r *MerchantConnectionRepository) Get(ctx context.Context) (domain.MerchantConnection, error) {
	doc, err := r.base.Get(ctx, merchantDocumentID)
	if err != nil {
		return domain.MerchantConnection{}, err
	}
	return domain.MerchantConnection(doc.Data), nil
}

func (r *MerchantConnectionRepository) Save(ctx context.Context, conn domain.MerchantConnection) error {
	err := r.base.Set(ctx, merchantDocumentID, merchantConnectionDocument(conn))
	return err
}

func (r *MerchantConnectionRepository) Delete(ctx context.Context) error {
	ref, err := r.base.DocumentRef(ctx, merchantDocumentID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("integrations.delete", err)
	}
	return nil
}
