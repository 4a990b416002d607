package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

type countingHandler struct {
	calls  int
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/v1/orders/ord_1")
	w.WriteHeader(h.status)
	_, _ = w.Write([]byte(`{"id":"ord_1"}`))
}

func postOrder(handler http.Handler, key, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestMiddlewareReplaysResponse(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := Middleware(NewMemoryStore(), Options{Clock: func() time.Time { return fixedTime }})(next)

	first := postOrder(handler, "key-1", `{"items":[1]}`, nil)
	second := postOrder(handler, "key-1", `{"items":[1]}`, nil)

	if next.calls != 1 {
		t.Fatalf("expected one handler call, got %d", next.calls)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d/%d", first.Code, second.Code)
	}
	if second.Body.String() != `{"id":"ord_1"}` || second.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("replay lost response: %q %v", second.Body.String(), second.Header())
	}
	if second.Header().Get(ReplayHeader) != "true" || first.Header().Get(ReplayHeader) != "" {
		t.Fatal("expected replay header only on the replay")
	}
}

func TestMiddlewareRejectsReusedKey(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := Middleware(NewMemoryStore(), Options{})(next)

	postOrder(handler, "key-1", `{"items":[1]}`, nil)
	rec := postOrder(handler, "key-1", `{"items":[2]}`, nil)
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "idempotency_key_reused" {
		t.Fatalf("expected 422 key reuse, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	handler := Middleware(NewMemoryStore(), Options{})(next)

	postOrder(handler, "same", `{}`, &auth.Identity{UserID: "usr_1"})
	postOrder(handler, "same", `{}`, &auth.Identity{UserID: "usr_2"})
	if next.calls != 2 {
		t.Fatalf("expected separate callers to run independently, got %d calls", next.calls)
	}
}

func TestMiddlewareReleasesOnServerError(t *testing.T) {
	next := &countingHandler{status: http.StatusBadGateway}
	handler := Middleware(NewMemoryStore(), Options{})(next)

	postOrder(handler, "key-5xx", `{}`, nil)
	postOrder(handler, "key-5xx", `{}`, nil)
	if next.calls != 2 {
		t.Fatalf("expected retry after 5xx to run again, got %d calls", next.calls)
	}
}

func TestMiddlewareMissingKey(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated}
	optional := Middleware(NewMemoryStore(), Options{})(next)
	if rec := postOrder(optional, "", `{}`, nil); rec.Code != http.StatusCreated {
		t.Fatalf("expected pass-through without key, got %d", rec.Code)
	}

	required := Middleware(NewMemoryStore(), Options{Required: true})(next)
	rec := postOrder(required, "", `{}`, nil)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "idempotency_key_required" {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMemoryStoreInFlightAndExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state, _, err := store.Claim(ctx, "k", "fp", fixedTime, time.Minute)
	if err != nil || state != StateClaimed {
		t.Fatalf("expected claim, got %v %v", state, err)
	}
	if state, _, _ = store.Claim(ctx, "k", "fp", fixedTime, time.Minute); state != StateInFlight {
		t.Fatalf("expected in-flight, got %v", state)
	}
	if state, _, _ = store.Claim(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute); state != StateClaimed {
		t.Fatalf("expected expired claim to be reusable, got %v", state)
	}

	store.entries["old"] = Entry{Fingerprint: "x", ExpiresAt: fixedTime.Add(-time.Hour)}
	removed, err := PurgeAll(ctx, store, fixedTime, 1)
	if err != nil || removed != 1 {
		t.Fatalf("expected one purge, got %d %v", removed, err)
	}
}
