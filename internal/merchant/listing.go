package merchant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	content "google.golang.org/api/content/v2.1"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

const (
	channelOnline        = "online"
	maxTitleRunes        = 150
	maxDescriptionRunes  = 5000
	maxAdditionalImages  = 10
	datafeedContentType  = "products"
	defaultFetchTimeZone = "Asia/Dubai"
)

// Listing maps catalog products onto Merchant Center products for one target market.
type Listing struct {
	storeURL string
	country  string
	language string
	strip    *bluemonday.Policy
}

// NewListing validates the storefront URL, country and content language.
func NewListing(storeURL, country, lang string) (Listing, error) {
	base, err := url.Parse(strings.TrimSpace(storeURL))
	if err != nil || base.Scheme != "https" || base.Host == "" {
		return Listing{}, fmt.Errorf("%w: store url must be an absolute https url", ErrNotConfigured)
	}
	region, err := language.ParseRegion(strings.TrimSpace(country))
	if err != nil {
		return Listing{}, fmt.Errorf("%w: invalid country %q", ErrNotConfigured, country)
	}
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return Listing{}, fmt.Errorf("%w: invalid language %q", ErrNotConfigured, lang)
	}
	baseLang, _ := tag.Base()
	return Listing{
		storeURL: strings.TrimRight(base.String(), "/"),
		country:  region.String(),
		language: baseLang.String(),
		strip:    bluemonday.StrictPolicy(),
	}, nil
}

// OfferID is the merchant-side identifier: the SKU, falling back to the product ID.
func (l Listing) OfferID(p domain.Product) string {
	if sku := strings.TrimSpace(p.SKU); sku != "" {
		return sku
	}
	return p.ID
}

// RESTID is the Content API product ID "online:lang:COUNTRY:offerId".
func (l Listing) RESTID(p domain.Product) string {
	return strings.Join([]string{channelOnline, l.language, l.country, l.OfferID(p)}, ":")
}

// Product converts p into a Content API product.
func (l Listing) Product(p domain.Product) *content.Product {
	out := &content.Product{
		OfferId:         l.OfferID(p),
		Title:           truncateRunes(p.Name, maxTitleRunes),
		Description:     truncateRunes(strings.Join(strings.Fields(l.strip.Sanitize(p.Description)), " "), maxDescriptionRunes),
		Link:            l.storeURL + "/products/" + url.PathEscape(firstNonEmpty(p.Slug, p.ID)),
		ContentLanguage: l.language,
		TargetCountry:   l.country,
		Channel:         channelOnline,
		Condition:       "new",
		Availability:    "out of stock",
		Brand:           p.Brand,
		Gtin:            p.GTIN,
		ProductTypes:    p.CategoryIDs,
	}
	if p.Stock > 0 && p.Status == domain.ProductStatusActive {
		out.Availability = "in stock"
	}
	if len(p.Images) > 0 {
		out.ImageLink = p.Images[0]
		extra := p.Images[1:]
		if len(extra) > maxAdditionalImages {
			extra = extra[:maxAdditionalImages]
		}
		out.AdditionalImageLinks = extra
	}
	out.Price = price(p.Price, p.Currency)
	if p.CompareAtPrice > p.Price {
		out.Price = price(p.CompareAtPrice, p.Currency)
		out.SalePrice = price(p.Price, p.Currency)
	}
	return out
}

// Datafeed converts feed into a Content API datafeed targeting the listing market by default.
func (l Listing) Datafeed(feed Datafeed) *content.Datafeed {
	countries := feed.Countries
	if len(countries) == 0 {
		countries = []string{l.country}
	}
	lang := firstNonEmpty(feed.Language, l.language)
	out := &content.Datafeed{
		Name:        feed.Name,
		FileName:    feed.FileName,
		ContentType: firstNonEmpty(feed.ContentType, datafeedContentType),
	}
	for _, country := range countries {
		out.Targets = append(out.Targets, &content.DatafeedTarget{
			Country:  strings.ToUpper(country),
			Language: lang,
		})
	}
	if feed.FetchURL != "" {
		out.FetchSchedule = &content.DatafeedFetchSchedule{
			FetchUrl: feed.FetchURL,
			Hour:     int64(feed.FetchHour),
			TimeZone: defaultFetchTimeZone,
		}
	}
	return out
}

// ValidateDatafeed checks the fields Merchant Center requires before an insert.
func ValidateDatafeed(feed Datafeed) error {
	switch {
	case strings.TrimSpace(feed.Name) == "":
		return errors.New("datafeed name is required")
	case strings.TrimSpace(feed.FileName) == "":
		return errors.New("datafeed file name is required")
	case feed.FetchHour < 0 || feed.FetchHour > 23:
		return errors.New("datafeed fetch hour must be between 0 and 23")
	}
	if feed.FetchURL != "" {
		u, err := url.Parse(feed.FetchURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http" && u.Scheme != "sftp") || u.Host == "" {
			return errors.New("datafeed fetch url is invalid")
		}
	}
	return nil
}

func price(minor int64, code string) *content.Price {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	return &content.Price{
		Value:    decimal.New(minor, int32(-scale)).StringFixed(int32(scale)),
		Currency: code,
	}
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
