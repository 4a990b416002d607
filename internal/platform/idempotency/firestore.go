package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
)

const firestoreCollection = "idempotencyKeys"

// FirestoreStore shares claims across instances through a Firestore collection.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{provider: provider}, nil
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(firestoreCollection).Doc(key), nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return 0, Entry{}, err
	}
	var (
		state State
		entry Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing *Entry
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var stored Entry
			if err := snap.DataTo(&stored); err != nil {
				return fmt.Errorf("idempotency: decode %s: %w", key, err)
			}
			existing = &stored
		}
		var write bool
		state, entry, write, err = claim(existing, fingerprint, now, normaliseTTL(ttl))
		if err != nil || !write {
			return err
		}
		return tx.Set(ref, entry)
	})
	if err != nil {
		if errors.Is(err, ErrKeyReused) {
			return 0, Entry{}, ErrKeyReused
		}
		return 0, Entry{}, err
	}
	return state, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, entry Entry) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	entry.Done = true
	if _, err := ref.Set(ctx, entry); err != nil {
		return pfirestore.WrapError("idempotency.complete", err)
	}
	return nil
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

// Purge deletes a batch of expired entries; the janitor calls it until it returns fewer than limit.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 200
	}
	docs, err := client.Collection(firestoreCollection).
		Where("expiresAt", "<=", now).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	writer.End()
	return len(docs), nil
}
