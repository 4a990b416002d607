package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the outcome of claiming a key.
type State int

const (
	// StateClaimed means the caller owns the key and must run the request.
	StateClaimed State = iota
	// StateReplay means a stored response exists for the same request.
	StateReplay
	// StateInFlight means another request holds the key and has not finished.
	StateInFlight
)

// ErrKeyReused means the key was first used with a different request body or route.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Entry is what a store keeps per key.
type Entry struct {
	Fingerprint string              `json:"fingerprint" firestore:"fingerprint"`
	Done        bool                `json:"done" firestore:"done"`
	Status      int                 `json:"status,omitempty" firestore:"status"`
	Header      map[string][]string `json:"header,omitempty" firestore:"header"`
	Body        []byte              `json:"body,omitempty" firestore:"body"`
	ExpiresAt   time.Time           `json:"expiresAt" firestore:"expiresAt"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists claims and finished responses. Keys arrive already scoped and hashed.
type Store interface {
	// Claim reserves key for fingerprint or reports the existing entry.
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error)
	// Complete stores the response for a claimed key.
	Complete(ctx context.Context, key string, entry Entry) error
	// Release drops a claim so the client may retry.
	Release(ctx context.Context, key string) error
	// Purge deletes up to limit expired entries and reports how many went.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// claim applies the shared decision table to an existing entry.
func claim(existing *Entry, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, bool, error) {
	fresh := Entry{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
	if existing == nil || existing.expired(now) {
		return StateClaimed, fresh, true, nil
	}
	if existing.Fingerprint != fingerprint {
		return 0, Entry{}, false, ErrKeyReused
	}
	if existing.Done {
		return StateReplay, *existing, false, nil
	}
	return StateInFlight, *existing, false, nil
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// replayableHeader keeps the response headers worth replaying.
func replayableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Transfer-Encoding", "Set-Cookie":
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
