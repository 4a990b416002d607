package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

const (
	merchantStateCookie = "merchant_oauth_state"
	merchantStateTTL    = 10 * time.Minute
)

// MerchantHandlers drives the Merchant Center connection and catalog mirroring.
// A nil service answers 503 so the routes stay mounted when the integration is disabled.
type MerchantHandlers struct {
	merchant services.MerchantService
	newState func() string
}

// MerchantHandlersOption customises MerchantHandlers.
type MerchantHandlersOption func(*MerchantHandlers)

// WithMerchantStateGenerator overrides the OAuth state generator.
func WithMerchantStateGenerator(fn func() string) MerchantHandlersOption {
	return func(h *MerchantHandlers) {
		if fn != nil {
			h.newState = fn
		}
	}
}

// NewMerchantHandlers constructs merchant handlers.
func NewMerchantHandlers(merchant services.MerchantService, opts ...MerchantHandlersOption) *MerchantHandlers {
	h := &MerchantHandlers{
		merchant: merchant,
		newState: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// AdminRoutes registers /admin/merchant endpoints.
func (h *MerchantHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/merchant", func(rt chi.Router) {
		rt.Get("/auth-url", h.authURL)
		rt.Get("/oauth/callback", h.oauthCallback)
		rt.Post("/products/{productId}", h.upsertProduct)
		rt.Delete("/products/{productId}", h.deleteProduct)
		rt.Get("/feeds", h.listFeeds)
		rt.Post("/feeds", h.createFeed)
	})
}

// InternalRoutes registers the scheduler-triggered catalog sync.
func (h *MerchantHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/merchant:sync", h.syncCatalog)
}

type merchantAuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type merchantConnectionResponse struct {
	Connected   bool   `json:"connected"`
	MerchantID  string `json:"merchantId,omitempty"`
	ConnectedAt string `json:"connectedAt,omitempty"`
	Expiry      string `json:"expiry,omitempty"`
}

type merchantProductResponse struct {
	ProductID  string `json:"productId"`
	MerchantID string `json:"merchantId"`
	OfferID    string `json:"offerId"`
}

type merchantFeedPayload struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	FileName    string   `json:"fileName"`
	ContentType string   `json:"contentType,omitempty"`
	Countries   []string `json:"countries"`
	Language    string   `json:"language,omitempty"`
}

type createFeedRequest struct {
	Name      string `json:"name"`
	FileName  string `json:"fileName"`
	Country   string `json:"country"`
	Language  string `json:"language"`
	FetchURL  string `json:"fetchUrl"`
	FetchHour int    `json:"fetchHour"`
}

type merchantSyncResponse struct {
	Synced int               `json:"synced"`
	Failed int               `json:"failed"`
	Errors map[string]string `json:"errors,omitempty"`
}

func (h *MerchantHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.merchant == nil {
		writeUnavailable(r.Context(), w, "merchant integration")
		return false
	}
	return true
}

func (h *MerchantHandlers) authURL(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	state := h.newState()
	url, err := h.merchant.AuthURL(ctx, state)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     merchantStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(merchantStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSONResponse(w, http.StatusOK, merchantAuthURLResponse{URL: url, State: state})
}

func (h *MerchantHandlers) oauthCallback(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	query := r.URL.Query()
	if denied := strings.TrimSpace(query.Get("error")); denied != "" {
		httpx.WriteError(ctx, w, httpx.NewError("authorization_denied", "merchant authorization was not granted", http.StatusBadRequest).
			WithDetails(map[string]any{"reason": denied}))
		return
	}
	state := strings.TrimSpace(query.Get("state"))
	cookie, err := r.Cookie(merchantStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", "oauth state mismatch", http.StatusBadRequest))
		return
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	conn, err := h.merchant.CompleteAuthorization(ctx, code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: merchantStateCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeJSONResponse(w, http.StatusOK, merchantConnectionResponse{
		Connected:   true,
		MerchantID:  conn.MerchantID,
		ConnectedAt: formatTime(conn.ConnectedAt),
		Expiry:      formatTime(conn.Expiry),
	})
}

func (h *MerchantHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	result, err := h.merchant.UpsertProduct(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, merchantProductResponse(result))
}

func (h *MerchantHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	if err := h.merchant.DeleteProduct(ctx, chi.URLParam(r, "productId")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MerchantHandlers) listFeeds(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	feeds, err := h.merchant.ListFeeds(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]merchantFeedPayload, 0, len(feeds))
	for _, feed := range feeds {
		items = append(items, buildMerchantFeedPayload(feed))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[merchantFeedPayload]{Items: items})
}

func (h *MerchantHandlers) createFeed(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	var req createFeedRequest
	if !decodeBody(w, r, &req, maxJSONBodySize) {
		return
	}
	feed, err := h.merchant.CreateFeed(ctx, services.CreateMerchantFeedCommand{
		Name:      strings.TrimSpace(req.Name),
		FileName:  strings.TrimSpace(req.FileName),
		Country:   strings.ToUpper(strings.TrimSpace(req.Country)),
		Language:  strings.ToLower(strings.TrimSpace(req.Language)),
		FetchURL:  strings.TrimSpace(req.FetchURL),
		FetchHour: req.FetchHour,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildMerchantFeedPayload(feed))
}

func (h *MerchantHandlers) syncCatalog(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	report, err := h.merchant.SyncCatalog(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, merchantSyncResponse(report))
}

func buildMerchantFeedPayload(feed services.MerchantFeed) merchantFeedPayload {
	return merchantFeedPayload{
		ID:          feed.ID,
		Name:        feed.Name,
		FileName:    feed.FileName,
		ContentType: feed.ContentType,
		Countries:   nonNil(feed.Countries),
		Language:    feed.Language,
	}
}
