package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

// SettingsHandlers serves store settings: a public subset and the full admin document.
type SettingsHandlers struct {
	settings services.SettingsService
}

// NewSettingsHandlers constructs settings handlers.
func NewSettingsHandlers(settings services.SettingsService) *SettingsHandlers {
	return &SettingsHandlers{settings: settings}
}

// Routes registers GET /settings.
func (h *SettingsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getPublicSettings)
}

// AdminRoutes registers /admin/settings endpoints.
func (h *SettingsHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.updateSettings)
	r.Post("/settings:refresh", h.refreshSettings)
}

type shippingMethodPayload struct {
	Name                  string `json:"name"`
	Cost                  int64  `json:"cost"`
	FreeShippingThreshold int64  `json:"freeShippingThreshold,omitempty"`
	EstimatedDays         int    `json:"estimatedDays,omitempty"`
}

type publicSettingsPayload struct {
	StoreName       string                  `json:"storeName"`
	Currency        string                  `json:"currency"`
	TaxRate         float64                 `json:"taxRate"`
	ShippingMethods []shippingMethodPayload `json:"shippingMethods"`
}

type settingsPayload struct {
	StoreName         string                  `json:"storeName"`
	AdminEmail        string                  `json:"adminEmail,omitempty"`
	Currency          string                  `json:"currency"`
	TaxRate           float64                 `json:"taxRate"`
	Timezone          string                  `json:"timezone"`
	LowStockThreshold int                     `json:"lowStockThreshold"`
	OrderPrefix       string                  `json:"orderPrefix"`
	ShippingMethods   []shippingMethodPayload `json:"shippingMethods"`
	UpdatedAt         string                  `json:"updatedAt,omitempty"`
}

func (h *SettingsHandlers) getPublicSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.settings.Get(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, publicSettingsPayload{
		StoreName:       settings.StoreName,
		Currency:        settings.Currency,
		TaxRate:         settings.TaxRate,
		ShippingMethods: shippingMethodPayloads(settings.ShippingMethods),
	})
}

func (h *SettingsHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.settings.Get(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSettingsPayload(settings))
}

func (h *SettingsHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req settingsPayload
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	methods := make([]domain.ShippingMethod, 0, len(req.ShippingMethods))
	for _, method := range req.ShippingMethods {
		methods = append(methods, domain.ShippingMethod{
			Name:                  strings.TrimSpace(method.Name),
			Cost:                  method.Cost,
			FreeShippingThreshold: method.FreeShippingThreshold,
			EstimatedDays:         method.EstimatedDays,
		})
	}
	updated, err := h.settings.Update(ctx, services.UpdateSettingsCommand{
		Settings: domain.Settings{
			StoreName:         strings.TrimSpace(req.StoreName),
			AdminEmail:        strings.TrimSpace(req.AdminEmail),
			Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
			TaxRate:           req.TaxRate,
			Timezone:          strings.TrimSpace(req.Timezone),
			LowStockThreshold: req.LowStockThreshold,
			OrderPrefix:       strings.TrimSpace(req.OrderPrefix),
			ShippingMethods:   methods,
		},
		ActorID: actorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSettingsPayload(updated))
}

func (h *SettingsHandlers) refreshSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.settings.Refresh(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSettingsPayload(settings))
}

func buildSettingsPayload(settings domain.Settings) settingsPayload {
	return settingsPayload{
		StoreName:         settings.StoreName,
		AdminEmail:        settings.AdminEmail,
		Currency:          settings.Currency,
		TaxRate:           settings.TaxRate,
		Timezone:          settings.Timezone,
		LowStockThreshold: settings.LowStockThreshold,
		OrderPrefix:       settings.OrderPrefix,
		ShippingMethods:   shippingMethodPayloads(settings.ShippingMethods),
		UpdatedAt:         formatTime(settings.UpdatedAt),
	}
}

func shippingMethodPayloads(methods []domain.ShippingMethod) []shippingMethodPayload {
	out := make([]shippingMethodPayload, 0, len(methods))
	for _, method := range methods {
		out = append(out, shippingMethodPayload(method))
	}
	return out
}
