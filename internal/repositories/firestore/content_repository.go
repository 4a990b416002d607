package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
)

const (
	blogsCollection   = "blogs"
	faqsCollection    = "faqs"
	bannersCollection = "banners"
)

type blogDocument struct {
	Slug        string     `firestore:"slug"`
	Title       string     `firestore:"title"`
	Excerpt     string     `firestore:"excerpt,omitempty"`
	Body        string     `firestore:"body"`
	HTML        string     `firestore:"html"`
	Tags        []string   `firestore:"tags"`
	CoverImage  string     `firestore:"coverImage,omitempty"`
	Published   bool       `firestore:"published"`
	PublishedAt *time.Time `firestore:"publishedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

type faqDocument struct {
	Question  string    `firestore:"question"`
	Answer    string    `firestore:"answer"`
	Category  string    `firestore:"category,omitempty"`
	Position  int       `firestore:"position"`
	Published bool      `firestore:"published"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type bannerDocument struct {
	Title     string     `firestore:"title"`
	ImageURL  string     `firestore:"imageUrl"`
	LinkURL   string     `firestore:"linkUrl,omitempty"`
	Placement string     `firestore:"placement"`
	Position  int        `firestore:"position"`
	Active    bool       `firestore:"active"`
	StartsAt  *time.Time `firestore:"startsAt,omitempty"`
	EndsAt    *time.Time `firestore:"endsAt,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
}

// ContentRepository stores blogs, FAQs and banners in their own collections.
type ContentRepository struct {
	blogs   *pfirestore.BaseRepository[blogDocument]
	faqs    *pfirestore.BaseRepository[faqDocument]
	banners *pfirestore.BaseRepository[bannerDocument]
}

var _ repositories.ContentRepository = (*ContentRepository)(nil)

// NewContentRepository constructs a Firestore-backed content repository.
func NewContentRepository(provider *pfirestore.Provider) (*ContentRepository, error) {
	if provider == nil {
		return nil, errors.New("content repository requires firestore provider")
	}
	return &ContentRepository{
		blogs:   pfirestore.NewBaseRepository[blogDocument](provider, blogsCollection),
		faqs:    pfirestore.NewBaseRepository[faqDocument](provider, faqsCollection),
		banners: pfirestore.NewBaseRepository[bannerDocument](provider, bannersCollection),
	}, nil
}

// Blogs ---------------------------------------------------------------------

func (r *ContentRepository) ListBlogs(ctx context.Context, filter repositories.ContentListFilter) (domain.CursorPage[domain.BlogPost], error) {
	pageSize := clampPageSize(filter.Pagination.PageSize)
	cursor, err := decodePageToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.BlogPost]{}, pfirestore.WrapError("blogs.list", err)
	}
	docs, err := r.blogs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.PublishedOnly {
			q = q.Where("published", "==", true)
		}
		if tag := strings.TrimSpace(filter.Tag); tag != "" {
			q = q.Where("tags", "array-contains", tag)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if cursor != nil {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.BlogPost]{}, err
	}
	posts := make([]domain.BlogPost, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, blogFromDocument(doc.ID, doc.Data))
	}
	posts, next, err := trimPage(posts, pageSize, func(p domain.BlogPost) pageCursor {
		return pageCursor{ID: p.ID, CreatedAt: p.CreatedAt}
	})
	if err != nil {
		return domain.CursorPage[domain.BlogPost]{}, err
	}
	return domain.CursorPage[domain.BlogPost]{Items: posts, NextPageToken: next}, nil
}

func (r *ContentRepository) FindBlog(ctx context.Context, blogID string) (domain.BlogPost, error) {
	doc, err := r.blogs.Get(ctx, strings.TrimSpace(blogID))
	if err != nil {
		return domain.BlogPost{}, err
	}
	return blogFromDocument(doc.ID, doc.Data), nil
}

func (r *ContentRepository) FindBlogBySlug(ctx context.Context, slug string) (domain.BlogPost, error) {
	slug = strings.TrimSpace(slug)
	docs, err := r.blogs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.BlogPost{}, err
	}
	if len(docs) == 0 {
		return domain.BlogPost{}, pfirestore.WrapError("blogs.findBySlug", status.Errorf(codes.NotFound, "blog %s not found", slug))
	}
	return blogFromDocument(docs[0].ID, docs[0].Data), nil
}

func (r *ContentRepository) SaveBlog(ctx context.Context, post domain.BlogPost) error {
	err := r.blogs.Set(ctx, post.ID, blogDocument{
		Slug:        post.Slug,
		Title:       post.Title,
		Excerpt:     post.Excerpt,
		Body:        post.Body,
		HTML:        post.HTML,
		Tags:        nonNilStrings(post.Tags),
		CoverImage:  post.CoverImage,
		Published:   post.Published,
		PublishedAt: utcPtr(post.PublishedAt),
		CreatedAt:   post.CreatedAt.UTC(),
		UpdatedAt:   post.UpdatedAt.UTC(),
	})
	return err
}

func (r *ContentRepository) DeleteBlog(ctx context.Context, blogID string) error {
	return deleteDocument(ctx, r.blogs, "blogs.delete", blogID)
}

func blogFromDocument(id string, d blogDocument) domain.BlogPost {
	return domain.BlogPost{
		ID:          id,
		Slug:        d.Slug,
		Title:       d.Title,
		Excerpt:     d.Excerpt,
		Body:        d.Body,
		HTML:        d.HTML,
		Tags:        d.Tags,
		CoverImage:  d.CoverImage,
		Published:   d.Published,
		PublishedAt: d.PublishedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// FAQs ----------------------------------------------------------------------

func (r *ContentRepository) ListFAQs(ctx context.Context, filter repositories.ContentListFilter) ([]domain.FAQ, error) {
	docs, err := r.faqs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.PublishedOnly {
			q = q.Where("published", "==", true)
		}
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("category", "==", category)
		}
		return q.OrderBy("position", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	faqs := make([]domain.FAQ, 0, len(docs))
	for _, doc := range docs {
		faqs = append(faqs, faqFromDocument(doc.ID, doc.Data))
	}
	return faqs, nil
}

func (r *ContentRepository) FindFAQ(ctx context.Context, faqID string) (domain.FAQ, error) {
	doc, err := r.faqs.Get(ctx, strings.TrimSpace(faqID))
	if err != nil {
		return domain.FAQ{}, err
	}
	return faqFromDocument(doc.ID, doc.Data), nil
}

func (r *ContentRepository) SaveFAQ(ctx context.Context, faq domain.FAQ) error {
	err := r.faqs.Set(ctx, faq.ID, faqDocument{
		Question:  faq.Question,
		Answer:    faq.Answer,
		Category:  faq.Category,
		Position:  faq.Position,
		Published: faq.Published,
		CreatedAt: faq.CreatedAt.UTC(),
		UpdatedAt: faq.UpdatedAt.UTC(),
	})
	return err
}

func (r *ContentRepository) DeleteFAQ(ctx context.Context, faqID string) error {
	return deleteDocument(ctx, r.faqs, "faqs.delete", faqID)
}

func faqFromDocument(id string, d faqDocument) domain.FAQ {
	return domain.FAQ{
		ID:        id,
		Question:  d.Question,
		Answer:    d.Answer,
		Category:  d.Category,
		Position:  d.Position,
		Published: d.Published,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Banners -------------------------------------------------------------------

func (r *ContentRepository) ListBanners(ctx context.Context, filter repositories.ContentListFilter) ([]domain.Banner, error) {
	docs, err := r.banners.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.PublishedOnly {
			q = q.Where("active", "==", true)
		}
		if placement := strings.TrimSpace(filter.Placement); placement != "" {
			q = q.Where("placement", "==", placement)
		}
		return q.OrderBy("position", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	banners := make([]domain.Banner, 0, len(docs))
	for _, doc := range docs {
		banners = append(banners, bannerFromDocument(doc.ID, doc.Data))
	}
	return banners, nil
}

func (r *ContentRepository) FindBanner(ctx context.Context, bannerID string) (domain.Banner, error) {
	doc, err := r.banners.Get(ctx, strings.TrimSpace(bannerID))
	if err != nil {
		return domain.Banner{}, err
	}
	return bannerFromDocument(doc.ID, doc.Data), nil
}

func (r *ContentRepository) SaveBanner(ctx context.Context, banner domain.Banner) error {
	err := r.banners.Set(ctx, banner.ID, bannerDocument{
		Title:     banner.Title,
		ImageURL:  banner.ImageURL,
		LinkURL:   banner.LinkURL,
		Placement: banner.Placement,
		Position:  banner.Position,
		Active:    banner.Active,
		StartsAt:  utcPtr(banner.StartsAt),
		EndsAt:    utcPtr(banner.EndsAt),
		CreatedAt: banner.CreatedAt.UTC(),
		UpdatedAt: banner.UpdatedAt.UTC(),
	})
	return err
}

func (r *ContentRepository) DeleteBanner(ctx context.Context, bannerID string) error {
	return deleteDocument(ctx, r.banners, "banners.delete", bannerID)
}

func bannerFromDocument(id string, d bannerDocument) domain.Banner {
	return domain.Banner{
		ID:        id,
		Title:     d.Title,
		ImageURL:  d.ImageURL,
		LinkURL:   d.LinkURL,
		Placement: d.Placement,
		Position:  d.Position,
		Active:    d.Active,
		StartsAt:  d.StartsAt,
		EndsAt:    d.EndsAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func deleteDocument[T any](ctx context.Context, base *pfirestore.BaseRepository[T], op, id string) error {
	ref, err := base.DocumentRef(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError(op, err)
	}
	return nil
}
