package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Prefix namespaces every environment variable read by Load.
const Prefix = "ELVORA_"

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 20 * time.Second
	defaultEnvironment       = "local"
	defaultCookieName        = "token"
	defaultJWTIssuer         = "elvora"
	defaultOIDCJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer        = "https://accounts.google.com"
	defaultTabbyBaseURL      = "https://api.tabby.ai"
	defaultTabbySigHeader    = "X-Tabby-Signature"
	defaultEmailTransport    = EmailTransportLog
	defaultMerchantCountry   = "AE"
	defaultMerchantLanguage  = "en"
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultCleanupInterval   = time.Hour
	defaultCleanupBatchSize  = 200
	defaultUploadMaxBytes    = 10 << 20
	defaultUploadExpiry      = 15 * time.Minute
	defaultStoreName         = "Elvora"
	defaultStoreCurrency     = "AED"
	defaultStoreTaxRate      = 5
	defaultStoreTimezone     = "Asia/Dubai"
	defaultLowStock          = 5
	defaultOrderPrefix       = "ELV"
	defaultSettingsTTL       = time.Minute
	defaultCouponPerMinute   = 30
	defaultCouponBurst       = 10
	defaultPerMinute         = 300
)

// Email transports.
const (
	EmailTransportHTTP   = "http"
	EmailTransportPubSub = "pubsub"
	EmailTransportLog    = "log"
)

// Idempotency backends.
const (
	IdempotencyMemory    = "memory"
	IdempotencyFirestore = "firestore"
	IdempotencyRedis     = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firestore   FirestoreConfig
	Auth        AuthConfig
	Stripe      StripeConfig
	Tabby       TabbyConfig
	Email       EmailConfig
	PubSub      PubSubConfig
	Merchant    MerchantConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	Storage     StorageConfig
	Store       StoreDefaults
	RateLimits  RateLimitConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// AuthConfig covers customer/admin session tokens and scheduler OIDC tokens.
type AuthConfig struct {
	JWTSecret  string
	JWTIssuer  string
	CookieName string
	// FirebaseProjectID enables Firebase ID tokens as an alternative bearer credential.
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	OIDC                    OIDCConfig
}

type OIDCConfig struct {
	JWKSURL        string
	Audience       string
	Issuers        []string
	ServiceAccount string
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
}

type TabbyConfig struct {
	PublicKey       string
	SecretKey       string
	MerchantCode    string
	BaseURL         string
	WebhookSecret   string
	SignatureHeader string
}

// Enabled reports whether enough credentials are present to build the provider.
func (c TabbyConfig) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != "" && c.MerchantCode != ""
}

type EmailConfig struct {
	Transport string
	Endpoint  string
	APIKey    string
	From      string
	ReplyTo   string
}

type PubSubConfig struct {
	ProjectID  string
	EmailTopic string
}

type MerchantConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	MerchantID   string
	StoreURL     string
	Country      string
	Language     string
}

// Enabled reports whether the Merchant Center integration is configured.
func (c MerchantConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.MerchantID != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

type StorageConfig struct {
	MediaBucket    string
	SignerKey      string
	UploadMaxBytes int64
	UploadExpiry   time.Duration
}

// StoreDefaults seed the settings document the first time it is read.
type StoreDefaults struct {
	Name              string
	AdminEmail        string
	Currency          string
	TaxRate           float64
	Timezone          string
	LowStockThreshold int
	OrderPrefix       string
	SettingsTTL       time.Duration
}

type RateLimitConfig struct {
	CouponValidatePerMinute int
	CouponValidateBurst     int
	DefaultPerMinute        int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "Stripe.APIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < process env < explicit map)
// so callers can bootstrap dependencies such as the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]string{}
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles configuration from defaults, .env, the process environment and Secret Manager.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	env := reader{values: values}

	cfg := Config{
		Environment: strings.ToLower(env.str("ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:            env.str("PORT", defaultPort),
			ReadTimeout:     env.duration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			AllowedOrigins:  env.list("SERVER_ALLOWED_ORIGINS"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("FIRESTORE_PROJECT_ID", env.str("GCP_PROJECT_ID", "")),
			EmulatorHost: env.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Auth: AuthConfig{
			JWTSecret:               env.str("AUTH_JWT_SECRET", ""),
			JWTIssuer:               env.str("AUTH_JWT_ISSUER", defaultJWTIssuer),
			CookieName:              env.str("AUTH_COOKIE_NAME", defaultCookieName),
			FirebaseProjectID:       env.str("AUTH_FIREBASE_PROJECT_ID", ""),
			FirebaseCredentialsFile: env.str("AUTH_FIREBASE_CREDENTIALS_FILE", ""),
			OIDC: OIDCConfig{
				JWKSURL:        env.str("AUTH_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:       env.str("AUTH_OIDC_AUDIENCE", ""),
				Issuers:        env.list("AUTH_OIDC_ISSUERS"),
				ServiceAccount: env.str("AUTH_OIDC_SERVICE_ACCOUNT", ""),
			},
		},
		Stripe: StripeConfig{
			APIKey:        env.str("STRIPE_API_KEY", ""),
			WebhookSecret: env.str("STRIPE_WEBHOOK_SECRET", ""),
			AccountID:     env.str("STRIPE_ACCOUNT_ID", ""),
		},
		Tabby: TabbyConfig{
			PublicKey:       env.str("TABBY_PUBLIC_KEY", ""),
			SecretKey:       env.str("TABBY_SECRET_KEY", ""),
			MerchantCode:    env.str("TABBY_MERCHANT_CODE", ""),
			BaseURL:         env.str("TABBY_BASE_URL", defaultTabbyBaseURL),
			WebhookSecret:   env.str("TABBY_WEBHOOK_SECRET", ""),
			SignatureHeader: env.str("TABBY_SIGNATURE_HEADER", defaultTabbySigHeader),
		},
		Email: EmailConfig{
			Transport: strings.ToLower(env.str("EMAIL_TRANSPORT", defaultEmailTransport)),
			Endpoint:  env.str("EMAIL_ENDPOINT", ""),
			APIKey:    env.str("EMAIL_API_KEY", ""),
			From:      env.str("EMAIL_FROM", ""),
			ReplyTo:   env.str("EMAIL_REPLY_TO", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:  env.str("PUBSUB_PROJECT_ID", ""),
			EmailTopic: env.str("PUBSUB_EMAIL_TOPIC", ""),
		},
		Merchant: MerchantConfig{
			ClientID:     env.str("MERCHANT_CLIENT_ID", ""),
			ClientSecret: env.str("MERCHANT_CLIENT_SECRET", ""),
			RedirectURL:  env.str("MERCHANT_REDIRECT_URL", ""),
			MerchantID:   env.str("MERCHANT_ID", ""),
			StoreURL:     env.str("MERCHANT_STORE_URL", ""),
			Country:      env.str("MERCHANT_COUNTRY", defaultMerchantCountry),
			Language:     env.str("MERCHANT_LANGUAGE", defaultMerchantLanguage),
		},
		Redis: RedisConfig{
			Addr:     env.str("REDIS_ADDR", ""),
			Password: env.str("REDIS_PASSWORD", ""),
			DB:       env.integer("REDIS_DB", 0),
			TLS:      env.boolean("REDIS_TLS", false),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(env.str("IDEMPOTENCY_BACKEND", IdempotencyFirestore)),
			Header:           env.str("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: env.integer("IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatchSize),
		},
		Storage: StorageConfig{
			MediaBucket:    env.str("STORAGE_MEDIA_BUCKET", ""),
			SignerKey:      env.str("STORAGE_SIGNER_KEY", ""),
			UploadMaxBytes: int64(env.integer("STORAGE_UPLOAD_MAX_BYTES", defaultUploadMaxBytes)),
			UploadExpiry:   env.duration("STORAGE_UPLOAD_EXPIRY", defaultUploadExpiry),
		},
		Store: StoreDefaults{
			Name:              env.str("STORE_NAME", defaultStoreName),
			AdminEmail:        env.str("STORE_ADMIN_EMAIL", ""),
			Currency:          strings.ToUpper(env.str("STORE_CURRENCY", defaultStoreCurrency)),
			TaxRate:           env.float("STORE_TAX_RATE", defaultStoreTaxRate),
			Timezone:          env.str("STORE_TIMEZONE", defaultStoreTimezone),
			LowStockThreshold: env.integer("STORE_LOW_STOCK_THRESHOLD", defaultLowStock),
			OrderPrefix:       strings.ToUpper(env.str("STORE_ORDER_PREFIX", defaultOrderPrefix)),
			SettingsTTL:       env.duration("STORE_SETTINGS_TTL", defaultSettingsTTL),
		},
		RateLimits: RateLimitConfig{
			CouponValidatePerMinute: env.integer("RATELIMIT_COUPON_PER_MIN", defaultCouponPerMinute),
			CouponValidateBurst:     env.integer("RATELIMIT_COUPON_BURST", defaultCouponBurst),
			DefaultPerMinute:        env.integer("RATELIMIT_DEFAULT_PER_MIN", defaultPerMinute),
		},
	}
	if env.err != nil {
		return Config{}, env.err
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Auth.OIDC.Issuers) == 0 {
		cfg.Auth.OIDC.Issuers = []string{defaultOIDCIssuer, strings.TrimPrefix(defaultOIDCIssuer, "https://")}
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	resolved := make(map[string]string)
	for _, field := range cfg.secretFields() {
		value, err := resolveSecret(ctx, *field.value, resolver)
		if err != nil {
			return Config{}, err
		}
		*field.value = value
		resolved[field.name] = value
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

type secretField struct {
	name  string
	value *string
}

func (c *Config) secretFields() []secretField {
	return []secretField{
		{"Auth.JWTSecret", &c.Auth.JWTSecret},
		{"Stripe.APIKey", &c.Stripe.APIKey},
		{"Stripe.WebhookSecret", &c.Stripe.WebhookSecret},
		{"Tabby.SecretKey", &c.Tabby.SecretKey},
		{"Tabby.WebhookSecret", &c.Tabby.WebhookSecret},
		{"Email.APIKey", &c.Email.APIKey},
		{"Merchant.ClientSecret", &c.Merchant.ClientSecret},
		{"Redis.Password", &c.Redis.Password},
		{"Storage.SignerKey", &c.Storage.SignerKey},
	}
}

func (c Config) validate() error {
	var fields []string
	require := func(ok bool, name string) {
		if !ok {
			fields = append(fields, name)
		}
	}
	require(c.Server.Port != "", "Server.Port")
	require(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(c.Auth.JWTSecret != "" || c.Auth.FirebaseProjectID != "", "Auth.JWTSecret")
	require(c.Auth.CookieName != "", "Auth.CookieName")

	switch c.Email.Transport {
	case EmailTransportLog:
	case EmailTransportHTTP:
		require(c.Email.Endpoint != "", "Email.Endpoint")
		require(c.Email.From != "", "Email.From")
	case EmailTransportPubSub:
		require(c.PubSub.EmailTopic != "", "PubSub.EmailTopic")
	default:
		fields = append(fields, "Email.Transport")
	}

	switch c.Idempotency.Backend {
	case IdempotencyMemory, IdempotencyFirestore:
	case IdempotencyRedis:
		require(c.Redis.Addr != "", "Redis.Addr")
	default:
		fields = append(fields, "Idempotency.Backend")
	}
	require(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")
	require(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if c.Merchant.Enabled() {
		require(c.Merchant.RedirectURL != "", "Merchant.RedirectURL")
		require(c.Merchant.StoreURL != "", "Merchant.StoreURL")
	}
	if _, err := time.LoadLocation(c.Store.Timezone); err != nil {
		fields = append(fields, "Store.Timezone")
	}
	require(c.Store.TaxRate >= 0 && c.Store.TaxRate <= 100, "Store.TaxRate")
	require(c.Store.Currency != "", "Store.Currency")
	require(c.RateLimits.CouponValidatePerMinute > 0, "RateLimits.CouponValidatePerMinute")

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

// Production reports whether the service runs in a production environment.
func (c Config) Production() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

// SecretError describes a failure to resolve a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }
