package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestUploaderSignsProductImageUpload(t *testing.T) {
	signer := &fakeSigner{email: "media@elvora.iam.gserviceaccount.com"}
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	uploader, err := NewUploader(signer, UploaderConfig{
		Bucket:  "elvora-media",
		MaxSize: 5 << 20,
		Expiry:  10 * time.Minute,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	object, err := ProductImagePath("prod_rose", "upl_1", "Front.PNG")
	if err != nil {
		t.Fatalf("ProductImagePath: %v", err)
	}

	res, err := uploader.SignUpload(context.Background(), object, "image/png")
	if err != nil {
		t.Fatalf("SignUpload: %v", err)
	}
	if res.Method != "PUT" || !res.ExpiresAt.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected upload %+v", res)
	}
	if res.Headers["x-goog-content-length-range"] != "0,5242880" {
		t.Fatalf("expected size range header, got %v", res.Headers)
	}
	if res.PublicURL != "https://storage.googleapis.com/elvora-media/products/prod_rose/images/upl_1/front.png" {
		t.Fatalf("unexpected public url %q", res.PublicURL)
	}
	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if parsed.Query().Get("X-Goog-Credential") == "" || len(signer.payloads) != 1 {
		t.Fatalf("expected V4 signature, got %s", res.URL)
	}
}

func TestUploaderRejectsContentType(t *testing.T) {
	uploader, err := NewUploader(&fakeSigner{email: "svc@test"}, UploaderConfig{Bucket: "b"})
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if _, err := uploader.SignUpload(context.Background(), "products/p/images/u/a.exe", "application/x-msdownload"); !errors.Is(err, ErrContentTypeDenied) {
		t.Fatalf("expected content type denial, got %v", err)
	}
	if _, err := NewUploader(&fakeSigner{}, UploaderConfig{Bucket: "b"}); err == nil {
		t.Fatal("expected signer error")
	}
}

func TestPathsRejectTraversal(t *testing.T) {
	if _, err := ProductImagePath("../x", "u", "a.png"); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := ImportObjectPath("imp_1", "products.csv"); err == nil {
		t.Fatal("expected extension error")
	}
	path, err := ImportObjectPath("imp_1", "products.json")
	if err != nil || path != "imports/products/imp_1/products.json" {
		t.Fatalf("unexpected import path %q (%v)", path, err)
	}
}

func TestParseURI(t *testing.T) {
	cases := []struct {
		uri, bucket, object string
		ok                  bool
	}{
		{"gs://elvora-imports/catalog/2026-03.json", "elvora-imports", "catalog/2026-03.json", true},
		{"gs://bucket-only", "", "", false},
		{"gs://bucket/dir/", "", "", false},
		{"https://example.com/file.json", "", "", false},
	}
	for _, tc := range cases {
		bucket, object, err := ParseURI(tc.uri)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseURI(%q) error = %v", tc.uri, err)
		}
		if tc.ok && (bucket != tc.bucket || object != tc.object) {
			t.Fatalf("ParseURI(%q) = %s, %s", tc.uri, bucket, object)
		}
		if !tc.ok && err != nil && !strings.HasPrefix(err.Error(), "storage:") {
			t.Fatalf("unexpected error text %v", err)
		}
	}
}
