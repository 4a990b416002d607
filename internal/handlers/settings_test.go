package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

type stubSettingsService struct {
	current   services.Settings
	getErr    error
	updated   *services.UpdateSettingsCommand
	updateErr error
	refreshes int
}

func (s *stubSettingsService) Get(context.Context) (services.Settings, error) {
	return s.current, s.getErr
}

func (s *stubSettingsService) Update(_ context.Context, cmd services.UpdateSettingsCommand) (services.Settings, error) {
	s.updated = &cmd
	if s.updateErr != nil {
		return services.Settings{}, s.updateErr
	}
	s.current = cmd.Settings
	return s.current, nil
}

func (s *stubSettingsService) Refresh(context.Context) (services.Settings, error) {
	s.refreshes++
	return s.current, s.getErr
}

func settingsRouter(svc services.SettingsService) http.Handler {
	authn := testAuthenticator()
	handlers := NewSettingsHandlers(svc)
	router := chi.NewRouter()
	router.Route("/settings", handlers.Routes)
	router.Route("/admin", func(r chi.Router) {
		r.Use(authn.Require(auth.RoleAdmin))
		handlers.AdminRoutes(r)
	})
	return router
}

func sampleSettings() services.Settings {
	return services.Settings{
		StoreName:         "Elvora",
		AdminEmail:        "ops@elvora.example",
		Currency:          "AED",
		TaxRate:           5,
		Timezone:          "Asia/Dubai",
		LowStockThreshold: 3,
		OrderPrefix:       "ELV",
		ShippingMethods:   []domain.ShippingMethod{{Name: "standard", Cost: 2500, FreeShippingThreshold: 20000, EstimatedDays: 3}},
	}
}

func TestSettingsHandlersPublicSubset(t *testing.T) {
	rr := serve(t, settingsRouter(&stubSettingsService{current: sampleSettings()}), http.MethodGet, "/settings", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, leaked := raw["adminEmail"]; leaked {
		t.Fatalf("public settings must not expose adminEmail")
	}
	body := decodeResponse[publicSettingsPayload](t, rr)
	if body.Currency != "AED" || len(body.ShippingMethods) != 1 || body.ShippingMethods[0].FreeShippingThreshold != 20000 {
		t.Fatalf("unexpected public settings %+v", body)
	}
}

func TestSettingsHandlersUnavailable(t *testing.T) {
	rr := serve(t, settingsRouter(&stubSettingsService{getErr: services.ErrSettingsUnavailable}), http.MethodGet, "/settings", "", nil)
	expectError(t, rr, http.StatusServiceUnavailable, "service_unavailable")
}

func TestSettingsHandlersAdminUpdateAndRefresh(t *testing.T) {
	svc := &stubSettingsService{current: sampleSettings()}
	router := settingsRouter(svc)

	expectError(t, serve(t, router, http.MethodGet, "/admin/settings", "customer-usr_1", nil), http.StatusForbidden, "forbidden")

	rr := serve(t, router, http.MethodGet, "/admin/settings", "admin-ops", nil)
	if body := decodeResponse[settingsPayload](t, rr); body.AdminEmail != "ops@elvora.example" {
		t.Fatalf("admin settings should include adminEmail, got %+v", body)
	}

	rr = serve(t, router, http.MethodPut, "/admin/settings", "admin-ops", map[string]any{
		"storeName": "Elvora", "currency": "aed", "taxRate": 7.5, "timezone": "Asia/Dubai",
		"shippingMethods": []map[string]any{{"name": " express ", "cost": 4500}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if svc.updated.Settings.Currency != "AED" || svc.updated.Settings.ShippingMethods[0].Name != "express" || svc.updated.ActorID != "ops" {
		t.Fatalf("unexpected update command %+v", svc.updated)
	}

	svc.updateErr = services.ErrSettingsInvalidInput
	expectError(t, serve(t, router, http.MethodPut, "/admin/settings", "admin-ops", map[string]any{"taxRate": 140}), http.StatusBadRequest, "invalid_request")

	if rr := serve(t, router, http.MethodPost, "/admin/settings:refresh", "admin-ops", nil); rr.Code != http.StatusOK || svc.refreshes != 1 {
		t.Fatalf("expected refresh, got %d (refreshes=%d)", rr.Code, svc.refreshes)
	}
}
