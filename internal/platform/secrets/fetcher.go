package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the local fallback holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager.
// Values are cached for the process lifetime; concurrent lookups of one reference share a single call.
type Fetcher struct {
	client     accessor
	ownsClient bool
	project    string
	logger     *zap.Logger

	// fallback is consulted when Secret Manager is unreachable or denies access.
	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type fetcherConfig struct {
	project      string
	logger       *zap.Logger
	fallbackPath string
	client       accessor
	clientOpts   []option.ClientOption
	meter        metric.Meter
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithDefaultProject sets the project used for references that do not name one.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithFallbackFile sets the local KEY=VALUE file; an empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter records fetch latency on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a client, mainly for tests.
func WithSecretManagerClient(client accessor) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created leaves the fetcher in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := cfg.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency metric: %w", err)
	}

	f := &Fetcher{
		client:       cfg.client,
		project:      cfg.project,
		logger:       cfg.logger,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
		latency:      latency,
	}
	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, using local fallback only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret payload for ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := ParseReference(ref, f.project)
	if err != nil {
		return "", err
	}
	name := parsed.ResourceName()

	f.mu.RLock()
	value, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, start, "cache")
		return value, nil
	}

	result, err, _ := f.group.Do(name, func() (any, error) {
		value, source, err := f.fetch(ctx, parsed)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[name] = value
		f.mu.Unlock()
		f.record(ctx, start, source)
		return value, nil
	})
	if err != nil {
		f.record(ctx, start, "error")
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops a cached value so the next Resolve fetches it again.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := ParseReference(ref, f.project)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, parsed.ResourceName())
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, ref Reference) (string, string, error) {
	if f.client != nil && ref.Project != "" {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: ref.ResourceName()})
		if err == nil {
			return string(resp.GetPayload().GetData()), "remote", nil
		}
		if !fallbackAllowed(err) {
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.ResourceName(), err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("secret", ref.Secret), zap.Error(err))
	}
	if value, ok := f.lookupFallback(ref); ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.ResourceName())
}

func (f *Fetcher) lookupFallback(ref Reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		file, err := os.Open(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: open fallback file", zap.Error(err))
			}
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			// Keys are references themselves and contain '=' only in query strings, so split on the last one.
			idx := strings.LastIndex(line, "=")
			if idx <= 0 {
				continue
			}
			key, value := strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])
			if parsed, err := ParseReference(key, f.project); err == nil {
				f.fallback[parsed.Secret] = value
				f.fallback[parsed.ResourceName()] = value
			}
		}
	})
	if value, ok := f.fallback[ref.ResourceName()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.Secret]
	return value, ok
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
