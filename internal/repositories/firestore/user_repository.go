package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	usersCollection      = "users"
	userEmailsCollection = "userEmails"
)

type userDocument struct {
	Email       string    `firestore:"email"`
	Phone       string    `firestore:"phone,omitempty"`
	Name        string    `firestore:"name,omitempty"`
	Role        string    `firestore:"role,omitempty"`
	Blocked     bool      `firestore:"isBlocked"`
	VIP         bool      `firestore:"isVip"`
	Guest       bool      `firestore:"isGuest"`
	OrdersCount int       `firestore:"ordersCount"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type userEmailDocument struct {
	UserID string `firestore:"userId"`
}

func newUserDocument(u domain.User) userDocument {
	return userDocument{
		Email:       normalizeEmail(u.Email),
		Phone:       strings.TrimSpace(u.Phone),
		Name:        strings.TrimSpace(u.Name),
		Role:        strings.TrimSpace(u.Role),
		Blocked:     u.Blocked,
		VIP:         u.VIP,
		Guest:       u.Guest,
		OrdersCount: u.OrdersCount,
		CreatedAt:   u.CreatedAt.UTC(),
		UpdatedAt:   u.UpdatedAt.UTC(),
	}
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:          id,
		Email:       d.Email,
		Phone:       d.Phone,
		Name:        d.Name,
		Role:        d.Role,
		Blocked:     d.Blocked,
		VIP:         d.VIP,
		Guest:       d.Guest,
		OrdersCount: d.OrdersCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// UserRepository persists customer accounts with a unique email index.
type UserRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[userDocument]
	emails   *pfirestore.BaseRepository[userEmailDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[userDocument](provider, usersCollection),
		emails:   pfirestore.NewBaseRepository[userEmailDocument](provider, userEmailsCollection),
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, pfirestore.WrapError("users.findByEmail", errors.New("email is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByEmail", status.Error(codes.NotFound, "user not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// FindOrCreateByEmail claims the email index entry and the user document in one transaction,
// so concurrent guest checkouts with the same email resolve to a single account.
func (r *UserRepository) FindOrCreateByEmail(ctx context.Context, candidate domain.User) (domain.User, bool, error) {
	email := normalizeEmail(candidate.Email)
	if email == "" {
		return domain.User{}, false, pfirestore.WrapError("users.findOrCreate", errors.New("email is required"))
	}
	if strings.TrimSpace(candidate.ID) == "" {
		return domain.User{}, false, pfirestore.WrapError("users.findOrCreate", errors.New("candidate id is required"))
	}

	var (
		result  domain.User
		created bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		indexRef, err := r.emails.DocumentRef(ctx, email)
		if err != nil {
			return err
		}
		indexSnap, err := tx.Get(indexRef)
		switch status.Code(err) {
		case codes.OK:
			var index userEmailDocument
			if err := indexSnap.DataTo(&index); err != nil {
				return fmt.Errorf("decode user email index %s: %w", email, err)
			}
			userRef, err := r.base.DocumentRef(ctx, index.UserID)
			if err != nil {
				return err
			}
			userSnap, err := tx.Get(userRef)
			if err != nil {
				return err
			}
			var doc userDocument
			if err := userSnap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode user %s: %w", index.UserID, err)
			}
			result = doc.toDomain(userSnap.Ref.ID)
			return nil
		case codes.NotFound:
		default:
			return err
		}

		// accounts created before the index existed are matched by query and indexed on the fly.
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		existing, err := tx.Documents(client.Collection(usersCollection).Where("email", "==", email).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			var doc userDocument
			if err := existing[0].DataTo(&doc); err != nil {
				return fmt.Errorf("decode user %s: %w", existing[0].Ref.ID, err)
			}
			result = doc.toDomain(existing[0].Ref.ID)
			return tx.Create(indexRef, userEmailDocument{UserID: result.ID})
		}

		userRef, err := r.base.DocumentRef(ctx, candidate.ID)
		if err != nil {
			return err
		}
		candidate.Email = email
		if err := tx.Create(userRef, newUserDocument(candidate)); err != nil {
			return err
		}
		if err := tx.Create(indexRef, userEmailDocument{UserID: candidate.ID}); err != nil {
			return err
		}
		result = candidate
		created = true
		return nil
	})
	if err != nil {
		return domain.User{}, false, pfirestore.WrapError("users.findOrCreate", err)
	}
	return result, created, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
