package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	ReplayHeader  = "Idempotent-Replayed"
	maxKeyLength  = 255
	maxBodyBytes  = 1 << 20
)

// Options configure Middleware.
type Options struct {
	Header string
	TTL    time.Duration
	// Required rejects requests without a key. When false such requests run unguarded.
	Required bool
	Clock    func() time.Time
}

// Middleware replays the stored response when a client retries a request with the same key.
// Keys are scoped to the caller so two shoppers cannot collide. Responses with a 5xx status are
// not stored, letting the client retry after a transient failure.
func Middleware(store Store, opts Options) func(http.Handler) http.Handler {
	header := strings.TrimSpace(opts.Header)
	if header == "" {
		header = DefaultHeader
	}
	ttl := normaliseTTL(opts.TTL)
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(header))
			if key == "" {
				if opts.Required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", header+" header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			if len(body) > maxBodyBytes {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller := callerOf(ctx)
			storeKey := hashKey(caller, key)
			fingerprint := hashKey(r.Method, r.URL.Path, r.URL.RawQuery, string(body))
			logger := requestctx.Logger(ctx).With(zap.String("idempotency_key", storeKey[:16]))

			state, entry, err := store.Claim(ctx, storeKey, fingerprint, clock().UTC(), ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency: claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch state {
			case StateReplay:
				replay(w, entry)
				return
			case StateInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this key is still processing", http.StatusConflict))
				return
			}

			rec := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(rec, r)
			rec.flush(w)

			// The response is already sent; persistence failures only cost replayability.
			persistCtx := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(persistCtx, storeKey); err != nil {
					logger.Warn("idempotency: release failed", zap.Error(err))
				}
				return
			}
			entry.Status = rec.status
			entry.Header = replayableHeader(rec.header)
			entry.Body = rec.body.Bytes()
			if err := store.Complete(persistCtx, storeKey, entry); err != nil {
				logger.Warn("idempotency: store response failed", zap.Error(err))
			}
		})
	}
}

func callerOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		return "user:" + identity.UserID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok {
		return "service:" + svc.Subject
	}
	return "guest"
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(ReplayHeader, "true")
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
