package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/1;o=1")
	require.True(t, ok)
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", sc.TraceID().String())
	assert.Equal(t, "0000000000000001", sc.SpanID().String())
	assert.True(t, sc.IsSampled())

	_, ok = parseCloudTrace("not-a-trace")
	assert.False(t, ok)
	_, ok = parseCloudTrace("105445aa7843bc8bf206b12000100000/0")
	assert.False(t, ok)
}

func TestTraceKeepsCallerTraceID(t *testing.T) {
	var got requestctx.TraceInfo
	handler := Trace("elvora-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/12;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "105445aa7843bc8bf206b12000100000", got.TraceID)
	assert.Equal(t, "elvora-prod", got.ProjectID)
}

func TestRequestLoggerLogsStatusAndUser(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core)))
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := auth.WithIdentity(req.Context(), &auth.Identity{UserID: "usr_1"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}, CaptureIdentity).Get("/orders/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.Equal(t, "/orders/{orderID}", fields["route"])
	assert.Equal(t, "usr_1", fields["user_id"])
}

func TestRecovererWritesJSON(t *testing.T) {
	handler := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"internal_error"`)
}

func TestEventLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core))

	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	log(context.Background(), "notification.send_failed", map[string]any{"error": "smtp down"})
	log(context.Background(), "merchant.sync_failed", map[string]any{"cause": errors.New("quota")})

	all := logs.All()
	require.Len(t, all, 3)
	assert.Equal(t, zapcore.InfoLevel, all[0].Level)
	assert.Equal(t, "ord_1", all[0].ContextMap()["orderId"])
	assert.Equal(t, zapcore.WarnLevel, all[1].Level)
	assert.Equal(t, zapcore.WarnLevel, all[2].Level)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "/ordersx", clean("/orders\n\rx", 20))
	assert.Equal(t, "abc", clean("abcdef", 3))
}
