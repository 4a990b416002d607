package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/requestctx"
)

const maxSignedBody = 1 << 20

// SignBody returns the lowercase hex HMAC-SHA256 of body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// RequireBodySignature verifies that header carries the HMAC-SHA256 of the raw request body.
// An optional "sha256=" prefix is accepted. The body is restored for the next handler.
func RequireBodySignature(secret, header string) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if secret == "" {
				httpx.WriteError(ctx, w, httpx.NewError("signature_unavailable", "webhook signing secret not configured", http.StatusServiceUnavailable))
				return
			}
			provided := strings.TrimSpace(r.Header.Get(header))
			provided = strings.TrimPrefix(strings.ToLower(provided), "sha256=")
			if provided == "" {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature header missing", http.StatusUnauthorized))
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
				return
			}
			if len(body) > maxSignedBody {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			if !hmac.Equal([]byte(provided), []byte(SignBody(secret, body))) {
				requestctx.Logger(ctx).Warn("auth: webhook signature mismatch")
				httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature mismatch", http.StatusUnauthorized))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
