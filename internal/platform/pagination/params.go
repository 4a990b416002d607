package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/Oashe02/ELVORA-Backend-sub000/internal/domain"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page size")
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// Options tune Parse for one listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) normalised() Options {
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = MaxPageSize
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = DefaultPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	return o
}

// Parse reads pageSize (or its "limit" alias) and pageToken from query values.
// Oversized pages are clamped; malformed values are errors so handlers can answer 400.
func Parse(values url.Values, opts Options) (domain.Pagination, error) {
	opts = opts.normalised()
	params := domain.Pagination{PageSize: opts.DefaultPageSize}

	raw := strings.TrimSpace(values.Get("pageSize"))
	if raw == "" {
		raw = strings.TrimSpace(values.Get("limit"))
	}
	if raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return domain.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = ClampPageSize(size, opts)
	}

	token := strings.TrimSpace(values.Get("pageToken"))
	if token != "" {
		if _, err := DecodeToken(token); err != nil {
			return domain.Pagination{}, err
		}
		params.PageToken = token
	}
	return params, nil
}

// ClampPageSize applies the default to non-positive sizes and caps the rest.
func ClampPageSize(size int, opts Options) int {
	opts = opts.normalised()
	switch {
	case size <= 0:
		return opts.DefaultPageSize
	case size > opts.MaxPageSize:
		return opts.MaxPageSize
	}
	return size
}
