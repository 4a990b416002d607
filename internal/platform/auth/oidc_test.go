package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type jwksServer struct {
	*httptest.Server
	key   *rsa.PrivateKey
	hits  atomic.Int32
	keyID string
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &jwksServer{key: key, keyID: "kid-1"}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: s.keyID, Algorithm: "RS256", Use: "sig",
		}}})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func schedulerClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   "https://api.elvora.test/internal",
		"sub":   "1234",
		"email": "scheduler@elvora.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func callInternal(t *testing.T, mw func(http.Handler) http.Handler, token string) (int, *ServiceIdentity) {
	t.Helper()
	var seen *ServiceIdentity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ServiceIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/merchant:sync", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, seen
}

func TestRequireOIDC(t *testing.T) {
	srv := newJWKSServer(t)
	cache := NewJWKSCache(srv.URL, srv.Client(), nil)
	policy := OIDCPolicy{
		Audience:       "https://api.elvora.test/internal",
		Issuers:        []string{"https://accounts.google.com"},
		ServiceAccount: "scheduler@elvora.iam.gserviceaccount.com",
	}
	mw := RequireOIDC(cache, policy)

	code, identity := callInternal(t, mw, srv.sign(t, schedulerClaims()))
	if code != http.StatusAccepted || identity == nil || identity.Subject != "1234" {
		t.Fatalf("expected accepted, got %d %+v", code, identity)
	}
	if code, _ := callInternal(t, mw, srv.sign(t, schedulerClaims())); code != http.StatusAccepted {
		t.Fatalf("expected second call to pass, got %d", code)
	}
	if hits := srv.hits.Load(); hits != 1 {
		t.Fatalf("expected jwks to be cached, got %d fetches", hits)
	}

	if code, _ := callInternal(t, mw, ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	wrongAud := schedulerClaims()
	wrongAud["aud"] = "https://elsewhere"
	if code, _ := callInternal(t, mw, srv.sign(t, wrongAud)); code != http.StatusUnauthorized {
		t.Fatalf("expected audience mismatch, got %d", code)
	}

	wrongIss := schedulerClaims()
	wrongIss["iss"] = "https://evil.test"
	if code, _ := callInternal(t, mw, srv.sign(t, wrongIss)); code != http.StatusUnauthorized {
		t.Fatalf("expected issuer mismatch, got %d", code)
	}

	otherAccount := schedulerClaims()
	otherAccount["email"] = "someone@elvora.iam.gserviceaccount.com"
	if code, _ := callInternal(t, mw, srv.sign(t, otherAccount)); code != http.StatusForbidden {
		t.Fatalf("expected forbidden caller, got %d", code)
	}
}

func TestRequireOIDCUnavailable(t *testing.T) {
	if code, _ := callInternal(t, RequireOIDC(nil, OIDCPolicy{Audience: "x"}), "tok"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without cache, got %d", code)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	srv := newJWKSServer(t)
	mw := RequireOIDC(NewJWKSCache(down.URL, down.Client(), nil), OIDCPolicy{Audience: "https://api.elvora.test/internal"})
	if code, _ := callInternal(t, mw, srv.sign(t, schedulerClaims())); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when jwks is down, got %d", code)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=120, must-revalidate"); got != 2*time.Minute {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge("no-store"); got != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}
