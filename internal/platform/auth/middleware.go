package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/requestctx"
)

// DefaultCookieName is the session cookie the storefront sets after login.
const DefaultCookieName = "token"

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Authenticator resolves identities from the Authorization header or the session cookie.
// Verifiers are tried in order; the first that accepts the token wins.
type Authenticator struct {
	verifiers  []TokenVerifier
	cookieName string
}

// NewAuthenticator builds an authenticator. Nil verifiers are ignored.
func NewAuthenticator(cookieName string, verifiers ...TokenVerifier) *Authenticator {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = DefaultCookieName
	}
	active := make([]TokenVerifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			active = append(active, v)
		}
	}
	return &Authenticator{verifiers: active, cookieName: cookieName}
}

// Optional attaches an identity when a token is present. Requests without a token pass through
// as guests; a present but invalid token is rejected.
func (a *Authenticator) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := a.tokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := a.authenticate(r.Context(), token)
			if err != nil {
				a.reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Require rejects requests without a valid identity (401) or without one of roles (403).
// With no roles any authenticated user is accepted.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := IdentityFromContext(ctx)
			if !ok {
				token := a.tokenFromRequest(r)
				if token == "" {
					httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
					return
				}
				var err error
				identity, err = a.authenticate(ctx, token)
				if err != nil {
					a.reject(w, r, err)
					return
				}
				ctx = WithIdentity(ctx, identity)
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				requestctx.Logger(ctx).Info("auth: role check failed",
					zap.String("userId", identity.UserID),
					zap.Strings("required", roles))
				httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, token string) (*Identity, error) {
	if len(a.verifiers) == 0 {
		return nil, ErrVerifierUnavailable
	}
	var errs []error
	for _, verifier := range a.verifiers {
		identity, err := verifier.Verify(ctx, token)
		if err == nil && identity != nil && identity.UserID != "" {
			return identity, nil
		}
		if err == nil {
			err = ErrInvalidToken
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, ErrVerifierUnavailable) && !errors.Is(err, ErrInvalidToken) {
		requestctx.Logger(ctx).Error("auth: verifier unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication temporarily unavailable", http.StatusServiceUnavailable))
		return
	}
	requestctx.Logger(ctx).Debug("auth: token rejected", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "token is invalid or expired", http.StatusUnauthorized))
}

func (a *Authenticator) tokenFromRequest(r *http.Request) string {
	if token, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if cookie, err := r.Cookie(a.cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
