package merchant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	content "google.golang.org/api/content/v2.1"
	"google.golang.org/api/option"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

// Scope grants read/write access to the Content API for Shopping.
const Scope = "https://www.googleapis.com/auth/content"

var (
	// ErrNotConnected indicates no OAuth2 grant has been stored yet.
	ErrNotConnected = errors.New("merchant: account not connected")
	// ErrNotConfigured indicates the OAuth2 client or merchant ID is missing.
	ErrNotConfigured = errors.New("merchant: not configured")
)

// TokenStore persists the OAuth2 grant between requests.
type TokenStore interface {
	Get(ctx context.Context) (domain.MerchantConnection, error)
	Save(ctx context.Context, conn domain.MerchantConnection) error
}

// Config configures the Merchant Center client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	MerchantID   string
	// StoreURL is the storefront base used to build product landing links.
	StoreURL string
	Country  string
	Language string
	// ClientOptions are appended when constructing the Content API service.
	ClientOptions []option.ClientOption
	Clock         func() time.Time
}

// Client talks to the Content API on behalf of the connected merchant account.
type Client struct {
	oauth      *oauth2.Config
	merchantID uint64
	store      TokenStore
	listing    Listing
	options    []option.ClientOption
	now        func() time.Time
}

// NewClient validates cfg and builds a client backed by store.
func NewClient(cfg Config, store TokenStore) (*Client, error) {
	if store == nil {
		return nil, errors.New("merchant: token store is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: oauth client id and secret are required", ErrNotConfigured)
	}
	merchantID, err := strconv.ParseUint(strings.TrimSpace(cfg.MerchantID), 10, 64)
	if err != nil || merchantID == 0 {
		return nil, fmt.Errorf("%w: merchant id must be numeric", ErrNotConfigured)
	}
	listing, err := NewListing(cfg.StoreURL, cfg.Country, cfg.Language)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Endpoint:     google.Endpoint,
			Scopes:       []string{Scope},
		},
		merchantID: merchantID,
		store:      store,
		listing:    listing,
		options:    cfg.ClientOptions,
		now:        func() time.Time { return clock().UTC() },
	}, nil
}

// AuthCodeURL returns the consent URL. Offline access with forced consent guarantees a refresh token.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the authorization code for tokens. The caller persists the result.
func (c *Client) Exchange(ctx context.Context, code string) (domain.MerchantConnection, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.MerchantConnection{}, errors.New("merchant: authorization code is required")
	}
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.MerchantConnection{}, fmt.Errorf("merchant: exchange code: %w", err)
	}
	now := c.now()
	return domain.MerchantConnection{
		MerchantID:   strconv.FormatUint(c.merchantID, 10),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry.UTC(),
		ConnectedAt:  now,
		UpdatedAt:    now,
	}, nil
}

// service builds a Content API service using the stored grant.
func (c *Client) service(ctx context.Context) (*content.ProductsService, *content.DatafeedsService, error) {
	conn, err := c.store.Get(ctx)
	if err != nil {
		var nf interface{ IsNotFound() bool }
		if errors.As(err, &nf) && nf.IsNotFound() {
			return nil, nil, ErrNotConnected
		}
		return nil, nil, fmt.Errorf("merchant: load connection: %w", err)
	}
	if conn.RefreshToken == "" && conn.AccessToken == "" {
		return nil, nil, ErrNotConnected
	}
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    conn.TokenType,
		Expiry:       conn.Expiry,
	}
	source := &persistingTokenSource{
		base:  c.oauth.TokenSource(ctx, token),
		last:  conn,
		store: c.store,
		ctx:   ctx,
		now:   c.now,
	}
	opts := append([]option.ClientOption{option.WithTokenSource(source)}, c.options...)
	svc, err := content.NewService(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("merchant: content service: %w", err)
	}
	return svc.Products, svc.Datafeeds, nil
}

// persistingTokenSource saves refreshed access tokens so other instances reuse them.
type persistingTokenSource struct {
	base  oauth2.TokenSource
	store TokenStore
	ctx   context.Context
	now   func() time.Time

	mu   sync.Mutex
	last domain.MerchantConnection
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last.AccessToken {
		return token, nil
	}
	next := s.last
	next.AccessToken = token.AccessToken
	next.TokenType = token.TokenType
	next.Expiry = token.Expiry.UTC()
	if token.RefreshToken != "" {
		next.RefreshToken = token.RefreshToken
	}
	next.UpdatedAt = s.now()
	if err := s.store.Save(s.ctx, next); err != nil {
		return nil, fmt.Errorf("merchant: persist refreshed token: %w", err)
	}
	s.last = next
	return token, nil
}

// ProductRef identifies a product written to Merchant Center.
type ProductRef struct {
	ID      string
	OfferID string
}

// InsertProduct creates or replaces the Merchant Center product for p.
func (c *Client) InsertProduct(ctx context.Context, p domain.Product) (ProductRef, error) {
	products, _, err := c.service(ctx)
	if err != nil {
		return ProductRef{}, err
	}
	out, err := products.Insert(c.merchantID, c.listing.Product(p)).Context(ctx).Do()
	if err != nil {
		return ProductRef{}, fmt.Errorf("merchant: insert product %s: %w", p.ID, err)
	}
	return ProductRef{ID: out.Id, OfferID: out.OfferId}, nil
}

// DeleteProduct removes the Merchant Center product mirroring p.
func (c *Client) DeleteProduct(ctx context.Context, p domain.Product) error {
	products, _, err := c.service(ctx)
	if err != nil {
		return err
	}
	if err := products.Delete(c.merchantID, c.listing.RESTID(p)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("merchant: delete product %s: %w", p.ID, err)
	}
	return nil
}

// Datafeed describes a scheduled feed registered in Merchant Center.
type Datafeed struct {
	ID          int64
	Name        string
	FileName    string
	ContentType string
	Countries   []string
	Language    string
	FetchURL    string
	FetchHour   int
}

func (c *Client) ListDatafeeds(ctx context.Context) ([]Datafeed, error) {
	_, feeds, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	var out []Datafeed
	err = feeds.List(c.merchantID).Pages(ctx, func(page *content.DatafeedsListResponse) error {
		for _, feed := range page.Resources {
			out = append(out, fromContentDatafeed(feed))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merchant: list datafeeds: %w", err)
	}
	return out, nil
}

func (c *Client) InsertDatafeed(ctx context.Context, feed Datafeed) (Datafeed, error) {
	_, feeds, err := c.service(ctx)
	if err != nil {
		return Datafeed{}, err
	}
	out, err := feeds.Insert(c.merchantID, c.listing.Datafeed(feed)).Context(ctx).Do()
	if err != nil {
		return Datafeed{}, fmt.Errorf("merchant: insert datafeed: %w", err)
	}
	return fromContentDatafeed(out), nil
}

func fromContentDatafeed(feed *content.Datafeed) Datafeed {
	out := Datafeed{
		ID:          feed.Id,
		Name:        feed.Name,
		FileName:    feed.FileName,
		ContentType: feed.ContentType,
	}
	for _, target := range feed.Targets {
		if target == nil {
			continue
		}
		out.Countries = append(out.Countries, target.Country)
		if out.Language == "" {
			out.Language = target.Language
		}
	}
	if feed.FetchSchedule != nil {
		out.FetchURL = feed.FetchSchedule.FetchUrl
		out.FetchHour = int(feed.FetchSchedule.Hour)
	}
	return out
}
