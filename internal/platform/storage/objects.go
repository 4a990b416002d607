package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const defaultMaxObjectBytes = 16 << 20

// ErrObjectTooLarge indicates an object exceeded the reader's size limit.
var ErrObjectTooLarge = errors.New("storage: object too large")

// ErrObjectNotFound indicates the referenced object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectReader downloads small objects referenced by gs:// URIs.
type ObjectReader struct {
	client   *gcs.Client
	maxBytes int64
}

// NewObjectReader constructs a reader backed by the Cloud Storage client. maxBytes <= 0 uses 16 MiB.
func NewObjectReader(client *gcs.Client, maxBytes int64) (*ObjectReader, error) {
	if client == nil {
		return nil, errors.New("storage reader: client is required")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxObjectBytes
	}
	return &ObjectReader{client: client, maxBytes: maxBytes}, nil
}

// ReadObject returns the full contents of the object at uri.
func (r *ObjectReader) ReadObject(ctx context.Context, uri string) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("storage reader: client is not initialised")
	}
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	reader, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
		}
		return nil, fmt.Errorf("storage: open %s: %w", uri, err)
	}
	defer reader.Close()

	if reader.Attrs.Size > r.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, uri, reader.Attrs.Size)
	}
	data, err := io.ReadAll(io.LimitReader(reader, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", uri, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrObjectTooLarge, uri)
	}
	return data, nil
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "gs://")
	if !ok {
		return "", "", fmt.Errorf("storage: %q is not a gs:// uri", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errInvalidBucket
	}
	if object == "" || strings.HasSuffix(object, "/") {
		return "", "", errInvalidObject
	}
	return bucket, object, nil
}
