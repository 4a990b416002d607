package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/pagination"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

var contentPageOptions = pagination.Options{DefaultPageSize: 12, MaxPageSize: 100}

// ContentHandlers exposes storefront CMS content and its admin management.
type ContentHandlers struct {
	content services.ContentService
}

// NewContentHandlers constructs content handlers.
func NewContentHandlers(content services.ContentService) *ContentHandlers {
	return &ContentHandlers{content: content}
}

// Routes registers the public /content endpoints.
func (h *ContentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/blogs", h.listBlogs)
	r.Get("/blogs/{slug}", h.getBlogBySlug)
	r.Get("/faqs", h.listFAQs)
	r.Get("/banners", h.listBanners)
}

// AdminRoutes registers /admin/content/{kind} endpoints.
func (h *ContentHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/content/{kind}", func(rt chi.Router) {
		rt.Get("/", h.adminList)
		rt.Post("/", h.adminCreate)
		rt.Get("/{id}", h.adminGet)
		rt.Put("/{id}", h.adminUpdate)
		rt.Delete("/{id}", h.adminDelete)
	})
}

type blogPayload struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Body        string   `json:"body,omitempty"`
	HTML        string   `json:"html,omitempty"`
	Tags        []string `json:"tags"`
	CoverImage  string   `json:"coverImage,omitempty"`
	Published   bool     `json:"published"`
	PublishedAt string   `json:"publishedAt,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

type faqPayload struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Category  string `json:"category,omitempty"`
	Position  int    `json:"position"`
	Published bool   `json:"published"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type bannerPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	ImageURL  string `json:"imageUrl"`
	LinkURL   string `json:"linkUrl,omitempty"`
	Placement string `json:"placement"`
	Position  int    `json:"position"`
	Active    bool   `json:"active"`
	StartsAt  string `json:"startsAt,omitempty"`
	EndsAt    string `json:"endsAt,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (h *ContentHandlers) listBlogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, ok := contentFilter(w, r)
	if !ok {
		return
	}
	result, err := h.content.ListBlogs(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[blogPayload]{Items: blogPayloads(result.Items, false), NextPageToken: result.NextPageToken})
}

func (h *ContentHandlers) getBlogBySlug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	post, err := h.content.GetBlogBySlug(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildBlogPayload(post, false))
}

func (h *ContentHandlers) listFAQs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	faqs, err := h.content.ListFAQs(ctx, services.ContentFilter{Category: strings.TrimSpace(r.URL.Query().Get("category"))})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[faqPayload]{Items: faqPayloads(faqs)})
}

func (h *ContentHandlers) listBanners(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	banners, err := h.content.ListBanners(ctx, strings.TrimSpace(r.URL.Query().Get("placement")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[bannerPayload]{Items: bannerPayloads(banners)})
}

func (h *ContentHandlers) adminList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := contentKind(w, r)
	if !ok {
		return
	}
	filter, ok := contentFilter(w, r)
	if !ok {
		return
	}
	switch kind {
	case domain.ContentKindBlog:
		result, err := h.content.ListAdminBlogs(ctx, filter)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, listResponse[blogPayload]{Items: blogPayloads(result.Items, true), NextPageToken: result.NextPageToken})
	case domain.ContentKindFAQ:
		faqs, err := h.content.ListAdminFAQs(ctx, filter)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, listResponse[faqPayload]{Items: faqPayloads(faqs)})
	case domain.ContentKindBanner:
		banners, err := h.content.ListAdminBanners(ctx, strings.TrimSpace(r.URL.Query().Get("placement")))
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, listResponse[bannerPayload]{Items: bannerPayloads(banners)})
	}
}

func (h *ContentHandlers) adminGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := contentKind(w, r)
	if !ok {
		return
	}
	payload, err := h.getContent(ctx, kind, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *ContentHandlers) adminCreate(w http.ResponseWriter, r *http.Request) {
	h.upsert(w, r, "", http.StatusCreated)
}

func (h *ContentHandlers) adminUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := contentKind(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.getContent(ctx, kind, id); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.upsert(w, r, id, http.StatusOK)
}

func (h *ContentHandlers) adminDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, ok := contentKind(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	switch kind {
	case domain.ContentKindBlog:
		err = h.content.DeleteBlog(ctx, id)
	case domain.ContentKindFAQ:
		err = h.content.DeleteFAQ(ctx, id)
	case domain.ContentKindBanner:
		err = h.content.DeleteBanner(ctx, id)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContentHandlers) getContent(ctx context.Context, kind domain.ContentKind, id string) (any, error) {
	switch kind {
	case domain.ContentKindBlog:
		post, err := h.content.GetBlog(ctx, id)
		return buildBlogPayload(post, true), err
	case domain.ContentKindFAQ:
		faq, err := h.content.GetFAQ(ctx, id)
		return buildFAQPayload(faq), err
	default:
		banner, err := h.content.GetBanner(ctx, id)
		return buildBannerPayload(banner), err
	}
}

func (h *ContentHandlers) upsert(w http.ResponseWriter, r *http.Request, id string, status int) {
	ctx := r.Context()
	kind, ok := contentKind(w, r)
	if !ok {
		return
	}
	actor := actorID(ctx)
	switch kind {
	case domain.ContentKindBlog:
		var req blogPayload
		if !decodeBody(w, r, &req, maxJSONBodySize) {
			return
		}
		post := domain.BlogPost{
			ID:         id,
			Slug:       strings.TrimSpace(req.Slug),
			Title:      req.Title,
			Excerpt:    req.Excerpt,
			Body:       req.Body,
			Tags:       req.Tags,
			CoverImage: req.CoverImage,
			Published:  req.Published,
		}
		saved, err := h.content.UpsertBlog(ctx, services.UpsertBlogCommand{Post: post, ActorID: actor})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, status, buildBlogPayload(saved, true))
	case domain.ContentKindFAQ:
		var req faqPayload
		if !decodeBody(w, r, &req, maxJSONBodySize) {
			return
		}
		faq := domain.FAQ{
			ID:        id,
			Question:  req.Question,
			Answer:    req.Answer,
			Category:  strings.TrimSpace(req.Category),
			Position:  req.Position,
			Published: req.Published,
		}
		saved, err := h.content.UpsertFAQ(ctx, services.UpsertFAQCommand{FAQ: faq, ActorID: actor})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, status, buildFAQPayload(saved))
	case domain.ContentKindBanner:
		var req bannerPayload
		if !decodeBody(w, r, &req, maxJSONBodySize) {
			return
		}
		banner, err := req.toDomain(id)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		saved, err := h.content.UpsertBanner(ctx, services.UpsertBannerCommand{Banner: banner, ActorID: actor})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, status, buildBannerPayload(saved))
	}
}

func contentKind(w http.ResponseWriter, r *http.Request) (domain.ContentKind, bool) {
	kind := domain.ContentKind(strings.ToLower(chi.URLParam(r, "kind")))
	switch kind {
	case domain.ContentKindBlog, domain.ContentKindFAQ, domain.ContentKindBanner:
		return kind, true
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("not_found", "unknown content kind", http.StatusNotFound))
	return "", false
}

func contentFilter(w http.ResponseWriter, r *http.Request) (services.ContentFilter, bool) {
	page, ok := parsePage(w, r, contentPageOptions)
	if !ok {
		return services.ContentFilter{}, false
	}
	query := r.URL.Query()
	return services.ContentFilter{
		Category:   strings.TrimSpace(query.Get("category")),
		Tag:        strings.ToLower(strings.TrimSpace(query.Get("tag"))),
		Pagination: page,
	}, true
}

func (p bannerPayload) toDomain(id string) (domain.Banner, error) {
	startsAt, err := parseTimeField(p.StartsAt)
	if err != nil {
		return domain.Banner{}, fmt.Errorf("startsAt %w", err)
	}
	endsAt, err := parseTimeField(p.EndsAt)
	if err != nil {
		return domain.Banner{}, fmt.Errorf("endsAt %w", err)
	}
	return domain.Banner{
		ID:        id,
		Title:     p.Title,
		ImageURL:  strings.TrimSpace(p.ImageURL),
		LinkURL:   strings.TrimSpace(p.LinkURL),
		Placement: strings.TrimSpace(p.Placement),
		Position:  p.Position,
		Active:    p.Active,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
	}, nil
}

// buildBlogPayload includes the markdown source only for admins.
func buildBlogPayload(post domain.BlogPost, withSource bool) blogPayload {
	payload := blogPayload{
		ID:          post.ID,
		Slug:        post.Slug,
		Title:       post.Title,
		Excerpt:     post.Excerpt,
		HTML:        post.HTML,
		Tags:        nonNil(post.Tags),
		CoverImage:  post.CoverImage,
		Published:   post.Published,
		PublishedAt: formatTimePtr(post.PublishedAt),
		CreatedAt:   formatTime(post.CreatedAt),
		UpdatedAt:   formatTime(post.UpdatedAt),
	}
	if withSource {
		payload.Body = post.Body
	}
	return payload
}

func blogPayloads(posts []domain.BlogPost, withSource bool) []blogPayload {
	out := make([]blogPayload, 0, len(posts))
	for _, post := range posts {
		out = append(out, buildBlogPayload(post, withSource))
	}
	return out
}

func buildFAQPayload(faq domain.FAQ) faqPayload {
	return faqPayload{
		ID:        faq.ID,
		Question:  faq.Question,
		Answer:    faq.Answer,
		Category:  faq.Category,
		Position:  faq.Position,
		Published: faq.Published,
		CreatedAt: formatTime(faq.CreatedAt),
		UpdatedAt: formatTime(faq.UpdatedAt),
	}
}

func faqPayloads(faqs []domain.FAQ) []faqPayload {
	out := make([]faqPayload, 0, len(faqs))
	for _, faq := range faqs {
		out = append(out, buildFAQPayload(faq))
	}
	return out
}

func buildBannerPayload(banner domain.Banner) bannerPayload {
	return bannerPayload{
		ID:        banner.ID,
		Title:     banner.Title,
		ImageURL:  banner.ImageURL,
		LinkURL:   banner.LinkURL,
		Placement: banner.Placement,
		Position:  banner.Position,
		Active:    banner.Active,
		StartsAt:  formatTimePtr(banner.StartsAt),
		EndsAt:    formatTimePtr(banner.EndsAt),
		CreatedAt: formatTime(banner.CreatedAt),
		UpdatedAt: formatTime(banner.UpdatedAt),
	}
}

func bannerPayloads(banners []domain.Banner) []bannerPayload {
	out := make([]bannerPayload, 0, len(banners))
	for _, banner := range banners {
		out = append(out, buildBannerPayload(banner))
	}
	return out
}
