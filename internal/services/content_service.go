package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	blogIDPrefix   = "blog_"
	faqIDPrefix    = "faq_"
	bannerIDPrefix = "ban_"

	excerptLength = 160
)

var (
	// ErrContentInvalidInput indicates the submitted content failed validation.
	ErrContentInvalidInput = errors.New("content: invalid input")
	// ErrContentNotFound indicates the document does not exist or is not published.
	ErrContentNotFound = errors.New("content: not found")
	// ErrContentConflict indicates a blog slug is already taken.
	ErrContentConflict = errors.New("content: slug conflict")
)

// ContentServiceDeps groups constructor parameters for the content service.
type ContentServiceDeps struct {
	Repository  repositories.ContentRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type contentService struct {
	repo     repositories.ContentRepository
	markdown goldmark.Markdown
	html     *bluemonday.Policy
	text     *bluemonday.Policy
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewContentService constructs the content service with the supplied dependencies.
func NewContentService(deps ContentServiceDeps) (ContentService, error) {
	if deps.Repository == nil {
		return nil, errors.New("content service: content repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &contentService{
		repo: deps.Repository,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		html:   newContentHTMLPolicy(),
		text:   bluemonday.StrictPolicy(),
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Raw HTML passes through goldmark and is then filtered here.
func newContentHTMLPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("figure", "figcaption")
	policy.AllowAttrs("class").OnElements("figure", "figcaption", "p", "span")
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// Public reads ---------------------------------------------------------------

func (s *contentService) ListBlogs(ctx context.Context, filter ContentFilter) (domain.CursorPage[BlogPost], error) {
	page, err := s.repo.ListBlogs(ctx, s.listFilter(filter, true))
	if err != nil {
		return domain.CursorPage[BlogPost]{}, mapContentRepositoryError(err)
	}
	return page, nil
}

func (s *contentService) GetBlogBySlug(ctx context.Context, slug string) (BlogPost, error) {
	slug = slugify(slug)
	if slug == "" {
		return BlogPost{}, fmt.Errorf("%w: slug is required", ErrContentInvalidInput)
	}
	post, err := s.repo.FindBlogBySlug(ctx, slug)
	if err != nil {
		return BlogPost{}, mapContentRepositoryError(err)
	}
	if !post.Published {
		return BlogPost{}, ErrContentNotFound
	}
	return post, nil
}

func (s *contentService) ListFAQs(ctx context.Context, filter ContentFilter) ([]FAQ, error) {
	return s.listFAQs(ctx, filter, true)
}

// ListBanners returns banners live now for the placement, ordered by position.
func (s *contentService) ListBanners(ctx context.Context, placement string) ([]Banner, error) {
	banners, err := s.listBanners(ctx, placement)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	live := banners[:0]
	for _, banner := range banners {
		if banner.LiveAt(now) {
			live = append(live, banner)
		}
	}
	return live, nil
}

// Admin ----------------------------------------------------------------------

func (s *contentService) ListAdminBlogs(ctx context.Context, filter ContentFilter) (domain.CursorPage[BlogPost], error) {
	page, err := s.repo.ListBlogs(ctx, s.listFilter(filter, false))
	if err != nil {
		return domain.CursorPage[BlogPost]{}, mapContentRepositoryError(err)
	}
	return page, nil
}

func (s *contentService) GetBlog(ctx context.Context, blogID string) (BlogPost, error) {
	blogID = strings.TrimSpace(blogID)
	if blogID == "" {
		return BlogPost{}, fmt.Errorf("%w: blog id is required", ErrContentInvalidInput)
	}
	post, err := s.repo.FindBlog(ctx, blogID)
	if err != nil {
		return BlogPost{}, mapContentRepositoryError(err)
	}
	return post, nil
}

// UpsertBlog renders the markdown body to sanitized HTML and saves the post.
func (s *contentService) UpsertBlog(ctx context.Context, cmd UpsertBlogCommand) (BlogPost, error) {
	post := cmd.Post
	front, body, err := splitBlogFrontMatter(post.Body)
	if err != nil {
		return BlogPost{}, err
	}
	post.Body = body
	post.Title = firstNonEmpty(strings.TrimSpace(post.Title), front.Title)
	post.Excerpt = firstNonEmpty(strings.TrimSpace(post.Excerpt), front.Excerpt)
	post.CoverImage = firstNonEmpty(strings.TrimSpace(post.CoverImage), front.CoverImage)
	if len(post.Tags) == 0 {
		post.Tags = front.Tags
	}
	post.Tags = normalizeContentTags(post.Tags)
	post.Slug = slugify(firstNonEmpty(post.Slug, front.Slug, post.Title))
	if post.Title == "" {
		return BlogPost{}, fmt.Errorf("%w: title is required", ErrContentInvalidInput)
	}
	if post.Slug == "" {
		return BlogPost{}, fmt.Errorf("%w: slug is required", ErrContentInvalidInput)
	}
	if post.CoverImage != "" && !validContentURL(post.CoverImage) {
		return BlogPost{}, fmt.Errorf("%w: cover image must be an absolute http(s) url", ErrContentInvalidInput)
	}

	var rendered bytes.Buffer
	if err := s.markdown.Convert([]byte(post.Body), &rendered); err != nil {
		return BlogPost{}, fmt.Errorf("%w: render markdown: %v", ErrContentInvalidInput, err)
	}
	post.HTML = strings.TrimSpace(s.html.Sanitize(rendered.String()))
	if post.Excerpt == "" {
		post.Excerpt = excerptOf(s.text.Sanitize(post.HTML))
	} else {
		post.Excerpt = s.text.Sanitize(post.Excerpt)
	}

	now := s.clock()
	existing, isUpdate, err := s.existingBlog(ctx, post.ID)
	if err != nil {
		return BlogPost{}, err
	}
	if other, err := s.repo.FindBlogBySlug(ctx, post.Slug); err == nil && other.ID != post.ID {
		return BlogPost{}, fmt.Errorf("%w: %s", ErrContentConflict, post.Slug)
	} else if err != nil && !isRepositoryNotFound(err) {
		return BlogPost{}, mapContentRepositoryError(err)
	}

	if isUpdate {
		post.CreatedAt = existing.CreatedAt
		post.PublishedAt = existing.PublishedAt
	} else {
		post.ID = blogIDPrefix + s.newID()
		post.CreatedAt = now
	}
	switch {
	case !post.Published:
		post.PublishedAt = nil
	case post.PublishedAt == nil:
		post.PublishedAt = &now
	}
	post.UpdatedAt = now

	if err := s.repo.SaveBlog(ctx, post); err != nil {
		return BlogPost{}, mapContentRepositoryError(err)
	}
	s.logger(ctx, "content.blog.saved", map[string]any{
		"blogId":    post.ID,
		"slug":      post.Slug,
		"published": post.Published,
		"actorId":   strings.TrimSpace(cmd.ActorID),
	})
	return post, nil
}

func (s *contentService) existingBlog(ctx context.Context, blogID string) (BlogPost, bool, error) {
	if blogID == "" {
		return BlogPost{}, false, nil
	}
	existing, err := s.GetBlog(ctx, blogID)
	if err != nil {
		return BlogPost{}, false, err
	}
	return existing, true, nil
}

func (s *contentService) DeleteBlog(ctx context.Context, blogID string) error {
	blogID = strings.TrimSpace(blogID)
	if blogID == "" {
		return fmt.Errorf("%w: blog id is required", ErrContentInvalidInput)
	}
	if err := s.repo.DeleteBlog(ctx, blogID); err != nil {
		return mapContentRepositoryError(err)
	}
	return nil
}

func (s *contentService) ListAdminFAQs(ctx context.Context, filter ContentFilter) ([]FAQ, error) {
	return s.listFAQs(ctx, filter, false)
}

func (s *contentService) listFAQs(ctx context.Context, filter ContentFilter, publishedOnly bool) ([]FAQ, error) {
	faqs, err := s.repo.ListFAQs(ctx, s.listFilter(filter, publishedOnly))
	if err != nil {
		return nil, mapContentRepositoryError(err)
	}
	slices.SortStableFunc(faqs, func(a, b FAQ) int { return a.Position - b.Position })
	return faqs, nil
}

func (s *contentService) GetFAQ(ctx context.Context, faqID string) (FAQ, error) {
	faqID = strings.TrimSpace(faqID)
	if faqID == "" {
		return FAQ{}, fmt.Errorf("%w: faq id is required", ErrContentInvalidInput)
	}
	faq, err := s.repo.FindFAQ(ctx, faqID)
	if err != nil {
		return FAQ{}, mapContentRepositoryError(err)
	}
	return faq, nil
}

func (s *contentService) UpsertFAQ(ctx context.Context, cmd UpsertFAQCommand) (FAQ, error) {
	faq := cmd.FAQ
	faq.Question = strings.TrimSpace(s.text.Sanitize(faq.Question))
	faq.Answer = strings.TrimSpace(s.html.Sanitize(faq.Answer))
	faq.Category = strings.ToLower(strings.TrimSpace(faq.Category))
	switch {
	case faq.Question == "":
		return FAQ{}, fmt.Errorf("%w: question is required", ErrContentInvalidInput)
	case faq.Answer == "":
		return FAQ{}, fmt.Errorf("%w: answer is required", ErrContentInvalidInput)
	case faq.Position < 0:
		return FAQ{}, fmt.Errorf("%w: position must not be negative", ErrContentInvalidInput)
	}
	now := s.clock()
	if faq.ID == "" {
		faq.ID = faqIDPrefix + s.newID()
		faq.CreatedAt = now
	} else {
		existing, err := s.GetFAQ(ctx, faq.ID)
		if err != nil {
			return FAQ{}, err
		}
		faq.CreatedAt = existing.CreatedAt
	}
	faq.UpdatedAt = now
	if err := s.repo.SaveFAQ(ctx, faq); err != nil {
		return FAQ{}, mapContentRepositoryError(err)
	}
	s.logger(ctx, "content.faq.saved", map[string]any{"faqId": faq.ID, "actorId": strings.TrimSpace(cmd.ActorID)})
	return faq, nil
}

func (s *contentService) DeleteFAQ(ctx context.Context, faqID string) error {
	faqID = strings.TrimSpace(faqID)
	if faqID == "" {
		return fmt.Errorf("%w: faq id is required", ErrContentInvalidInput)
	}
	if err := s.repo.DeleteFAQ(ctx, faqID); err != nil {
		return mapContentRepositoryError(err)
	}
	return nil
}

func (s *contentService) ListAdminBanners(ctx context.Context, placement string) ([]Banner, error) {
	return s.listBanners(ctx, placement)
}

func (s *contentService) listBanners(ctx context.Context, placement string) ([]Banner, error) {
	banners, err := s.repo.ListBanners(ctx, repositories.ContentListFilter{
		Placement: strings.ToLower(strings.TrimSpace(placement)),
	})
	if err != nil {
		return nil, mapContentRepositoryError(err)
	}
	slices.SortStableFunc(banners, func(a, b Banner) int { return a.Position - b.Position })
	return banners, nil
}

func (s *contentService) GetBanner(ctx context.Context, bannerID string) (Banner, error) {
	bannerID = strings.TrimSpace(bannerID)
	if bannerID == "" {
		return Banner{}, fmt.Errorf("%w: banner id is required", ErrContentInvalidInput)
	}
	banner, err := s.repo.FindBanner(ctx, bannerID)
	if err != nil {
		return Banner{}, mapContentRepositoryError(err)
	}
	return banner, nil
}

func (s *contentService) UpsertBanner(ctx context.Context, cmd UpsertBannerCommand) (Banner, error) {
	banner := cmd.Banner
	banner.Title = strings.TrimSpace(s.text.Sanitize(banner.Title))
	banner.ImageURL = strings.TrimSpace(banner.ImageURL)
	banner.LinkURL = strings.TrimSpace(banner.LinkURL)
	banner.Placement = strings.ToLower(strings.TrimSpace(banner.Placement))
	switch {
	case !validContentURL(banner.ImageURL):
		return Banner{}, fmt.Errorf("%w: image url must be an absolute http(s) url", ErrContentInvalidInput)
	case banner.LinkURL != "" && !strings.HasPrefix(banner.LinkURL, "/") && !validContentURL(banner.LinkURL):
		return Banner{}, fmt.Errorf("%w: link url must be a path or an absolute http(s) url", ErrContentInvalidInput)
	case banner.Placement == "":
		return Banner{}, fmt.Errorf("%w: placement is required", ErrContentInvalidInput)
	case banner.StartsAt != nil && banner.EndsAt != nil && !banner.EndsAt.After(*banner.StartsAt):
		return Banner{}, fmt.Errorf("%w: endsAt must be after startsAt", ErrContentInvalidInput)
	}
	now := s.clock()
	if banner.ID == "" {
		banner.ID = bannerIDPrefix + s.newID()
		banner.CreatedAt = now
	} else {
		existing, err := s.GetBanner(ctx, banner.ID)
		if err != nil {
			return Banner{}, err
		}
		banner.CreatedAt = existing.CreatedAt
	}
	banner.UpdatedAt = now
	if err := s.repo.SaveBanner(ctx, banner); err != nil {
		return Banner{}, mapContentRepositoryError(err)
	}
	s.logger(ctx, "content.banner.saved", map[string]any{"bannerId": banner.ID, "actorId": strings.TrimSpace(cmd.ActorID)})
	return banner, nil
}

func (s *contentService) DeleteBanner(ctx context.Context, bannerID string) error {
	bannerID = strings.TrimSpace(bannerID)
	if bannerID == "" {
		return fmt.Errorf("%w: banner id is required", ErrContentInvalidInput)
	}
	if err := s.repo.DeleteBanner(ctx, bannerID); err != nil {
		return mapContentRepositoryError(err)
	}
	return nil
}

// Helpers --------------------------------------------------------------------

func (s *contentService) listFilter(filter ContentFilter, publishedOnly bool) repositories.ContentListFilter {
	return repositories.ContentListFilter{
		PublishedOnly: publishedOnly,
		Category:      strings.ToLower(strings.TrimSpace(filter.Category)),
		Tag:           strings.ToLower(strings.TrimSpace(filter.Tag)),
		Pagination: domain.Pagination{
			PageSize:  filter.Pagination.PageSize,
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	}
}

type blogFrontMatter struct {
	Title      string   `yaml:"title"`
	Slug       string   `yaml:"slug"`
	Excerpt    string   `yaml:"excerpt"`
	CoverImage string   `yaml:"cover_image"`
	Tags       []string `yaml:"tags"`
}

// splitBlogFrontMatter separates an optional leading "---" YAML block from the markdown body.
func splitBlogFrontMatter(input string) (blogFrontMatter, string, error) {
	var front blogFrontMatter
	input = strings.TrimPrefix(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return front, strings.TrimSpace(input), nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "---" {
			continue
		}
		if err := yaml.Unmarshal([]byte(strings.Join(lines[1:i], "\n")), &front); err != nil {
			return front, "", fmt.Errorf("%w: front matter: %v", ErrContentInvalidInput, err)
		}
		front.Title = strings.TrimSpace(front.Title)
		front.Slug = strings.TrimSpace(front.Slug)
		front.Excerpt = strings.TrimSpace(front.Excerpt)
		front.CoverImage = strings.TrimSpace(front.CoverImage)
		return front, strings.TrimSpace(strings.Join(lines[i+1:], "\n")), nil
	}
	return front, strings.TrimSpace(input), nil
}

// excerptOf collapses whitespace and cuts at a word boundary.
func excerptOf(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= excerptLength {
		return text
	}
	runes := []rune(text)[:excerptLength]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > excerptLength/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

func normalizeContentTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}

func validContentURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func mapContentRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrContentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrContentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("content: repository unavailable: %w", err)
		}
	}
	return err
}
