package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
)

// tokenVerifier accepts "customer-<id>" and "admin-<id>" bearer tokens.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	if id, ok := strings.CutPrefix(token, "admin-"); ok && id != "" {
		return &auth.Identity{UserID: id, Roles: []string{auth.RoleAdmin}, Source: "test"}, nil
	}
	if id, ok := strings.CutPrefix(token, "customer-"); ok && id != "" {
		return &auth.Identity{UserID: id, Roles: []string{auth.RoleCustomer}, Source: "test"}, nil
	}
	return nil, auth.ErrInvalidToken
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(auth.DefaultCookieName, tokenVerifier{})
}

func mountRoutes(prefix string, register func(chi.Router)) http.Handler {
	router := chi.NewRouter()
	router.Route(prefix, register)
	return router
}

func serve(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return record(handler, req)
}

func record(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	case []byte:
		reader = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Reason  string `json:"reason"`
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	body := decodeResponse[errorBody](t, rr)
	if body.Error != code {
		t.Fatalf("expected error %q, got %q", code, body.Error)
	}
	return body
}
