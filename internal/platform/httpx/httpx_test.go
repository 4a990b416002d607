package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "abc"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("coupon_invalid", "coupon expired\nnow", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"reason": "expired", "status": "ignored"}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "coupon_invalid" || body["message"] != "coupon expired now" || body["reason"] != "expired" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["status"] != float64(422) || body["request_id"] != "req-1" || body["trace_id"] != "abc" {
		t.Fatalf("expected status and ids in envelope, got %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Code string `json:"code"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"TEN","legacy":true}`))
	if err := DecodeJSON(req, &dst, 0); err != nil || dst.Code != "TEN" {
		t.Fatalf("expected decode, got %+v %v", dst, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":`))
	if err := DecodeJSON(req, &dst, 0); !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected invalid json, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"0123456789"}`))
	if err := DecodeJSON(req, &dst, 8); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  "))
	if err := DecodeJSON(req, &dst, 0); err != nil {
		t.Fatalf("expected empty body to pass, got %v", err)
	}
}
