package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const defaultUploadExpiry = 15 * time.Minute

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required")
	// ErrContentTypeDenied indicates the upload content type is not accepted.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
)

// Uploader issues V4 signed PUT URLs so admins can upload product media directly to Cloud Storage.
type Uploader struct {
	signer       Signer
	bucket       string
	allowedTypes []string
	maxSize      int64
	expiry       time.Duration
	now          func() time.Time
}

// UploaderConfig configures NewUploader.
type UploaderConfig struct {
	Bucket string
	// AllowedContentTypes accepts exact types or "image/*" style wildcards. Empty allows images only.
	AllowedContentTypes []string
	MaxSize             int64
	Expiry              time.Duration
	Clock               func() time.Time
}

// NewUploader constructs an uploader bound to one bucket.
func NewUploader(signer Signer, cfg UploaderConfig) (*Uploader, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	allowed := cfg.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = []string{"image/*"}
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Uploader{
		signer:       signer,
		bucket:       bucket,
		allowedTypes: allowed,
		maxSize:      cfg.MaxSize,
		expiry:       expiry,
		now:          clock,
	}, nil
}

// SignedUpload describes how the client must perform the upload.
type SignedUpload struct {
	URL       string
	Method    string
	Headers   map[string]string
	ExpiresAt time.Time
	// PublicURL is where the object is served once uploaded.
	PublicURL string
}

// SignUpload returns a signed PUT URL for object with the given content type.
func (u *Uploader) SignUpload(ctx context.Context, object, contentType string) (SignedUpload, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedUpload{}, errInvalidObject
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		return SignedUpload{}, errContentTypeMissing
	}
	if !contentTypeAllowed(contentType, u.allowedTypes) {
		return SignedUpload{}, fmt.Errorf("%w: %s", ErrContentTypeDenied, contentType)
	}

	expires := u.now().Add(u.expiry)
	headers := map[string]string{"Content-Type": contentType}
	opts := &gcs.SignedURLOptions{
		GoogleAccessID: u.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    contentType,
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return u.signer.SignBytes(ctx, payload)
		},
	}
	if u.maxSize > 0 {
		sizeRange := fmt.Sprintf("0,%d", u.maxSize)
		opts.Headers = []string{"x-goog-content-length-range:" + sizeRange}
		headers["x-goog-content-length-range"] = sizeRange
	}

	signed, err := gcs.SignedURL(u.bucket, object, opts)
	if err != nil {
		return SignedUpload{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return SignedUpload{
		URL:       signed,
		Method:    http.MethodPut,
		Headers:   headers,
		ExpiresAt: expires,
		PublicURL: fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, object),
	}, nil
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
			continue
		case candidate == "*" || candidate == contentType:
			return true
		case strings.HasSuffix(candidate, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(candidate, "*")):
			return true
		}
	}
	return false
}
