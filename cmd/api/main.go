package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Oashe02/ELVORA-Backend-sub000/internal/di"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/handlers"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/merchant"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/notifications"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/payments"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/auth"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/config"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/email"
	pfirestore "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/httpx"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/idempotency"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/jobs"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/observability"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/ratelimit"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/secrets"
	platformstorage "github.com/Oashe02/ELVORA-Backend-sub000/internal/platform/storage"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories"
	firestoreRepo "github.com/Oashe02/ELVORA-Backend-sub000/internal/repositories/firestore"
	"github.com/Oashe02/ELVORA-Backend-sub000/internal/services"
)

const (
	maxImportObjectBytes = 10 << 20
	jwksFetchTimeout     = 5 * time.Second
	closeTimeout         = 5 * time.Second
	meterName            = "github.com/Oashe02/ELVORA-Backend-sub000"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues[config.Prefix+"LOG_LEVEL"], envValues[config.Prefix+"ENVIRONMENT"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	meter := otel.GetMeterProvider().Meter(meterName)

	fetcher, err := newSecretFetcher(ctx, logger, meter, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	build := services.BuildInfo{
		Version:   firstNonEmpty(envValues[config.Prefix+"BUILD_VERSION"], "dev"),
		StartedAt: startedAt,
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		opts := &redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		if cfg.Redis.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	healthRepo, err := newHealthRepository(firestoreProvider, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise health probes", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider,
		firestoreRepo.WithCouponOptions(firestoreRepo.WithCouponLogger(observability.EventLogger(logger.Named("coupons")))),
		firestoreRepo.WithHealthRepository(healthRepo),
	)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	adapters, closeAdapters, err := buildAdapters(ctx, cfg, registry, logger, meter)
	if err != nil {
		logger.Fatal("failed to initialise integrations", zap.Error(err))
	}
	defer closeAdapters()
	adapters.Build = build

	container, err := di.NewContainer(ctx, cfg, registry, adapters)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise authentication", zap.Error(err))
	}

	idempotencyStore, err := newIdempotencyStore(cfg, firestoreProvider, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore, idempotency.Options{
		Header: cfg.Idempotency.Header,
		TTL:    cfg.Idempotency.TTL,
	})

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		idempotency.RunJanitor(janitorCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	couponLimiter, err := newCouponLimiter(cfg, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise rate limiter", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Fulfillment,
		handlers.WithOrderIdempotency(idempotencyMiddleware))
	couponHandlers := handlers.NewCouponHandlers(authenticator, svc.Coupons,
		handlers.WithCouponRateLimit(ratelimit.Middleware(couponLimiter)))
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog)
	contentHandlers := handlers.NewContentHandlers(svc.Content)
	settingsHandlers := handlers.NewSettingsHandlers(svc.Settings)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments,
		handlers.WithTabbySignature(auth.RequireBodySignature(cfg.Tabby.WebhookSecret, cfg.Tabby.SignatureHeader)))
	merchantHandlers := handlers.NewMerchantHandlers(svc.Merchant)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			httpx.CORS(cfg.Server.AllowedOrigins),
			observability.Trace(projectID),
			observability.RequestLogger(logger.Named("http")),
			observability.Recoverer,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithProductRoutes(catalogHandlers.Routes),
		handlers.WithContentRoutes(contentHandlers.Routes),
		handlers.WithSettingsRoutes(settingsHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminMiddlewares(authenticator.Require(auth.RoleAdmin), observability.CaptureIdentity),
		handlers.WithAdminRoutes(handlers.CombineRegistrars(
			func(r chi.Router) { r.Route("/coupons", couponHandlers.AdminRoutes) },
			catalogHandlers.AdminRoutes,
			contentHandlers.AdminRoutes,
			settingsHandlers.AdminRoutes,
			merchantHandlers.AdminRoutes,
		)),
		handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
		handlers.WithInternalMiddlewares(newOIDCMiddleware(cfg)),
		handlers.WithInternalRoutes(merchantHandlers.InternalRoutes),
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("elvora api listening", zap.String("environment", cfg.Environment), zap.String("version", build.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopJanitor()
	<-janitorDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildAdapters constructs the PSP, email, storage and Merchant Center clients. The returned
// func releases the clients that hold connections.
func buildAdapters(ctx context.Context, cfg config.Config, reg repositories.Registry, logger *zap.Logger, meter metric.Meter) (di.Adapters, func(), error) {
	adapters := di.Adapters{
		Logger: logger,
		Meter:  meter,
		Clock:  time.Now,
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	providers := make(map[string]payments.Provider, 2)
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.Stripe.APIKey,
			AccountID:     cfg.Stripe.AccountID,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Logger:        observability.EventLogger(logger.Named("stripe")),
			Clock:         time.Now,
		})
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripeProvider
		adapters.StripeWebhook = stripeProvider
	} else {
		logger.Warn("stripe not configured; card payments and stripe webhooks are disabled")
	}
	if cfg.Tabby.Enabled() {
		tabbyProvider, err := payments.NewTabbyProvider(payments.TabbyProviderConfig{
			PublicKey:    cfg.Tabby.PublicKey,
			SecretKey:    cfg.Tabby.SecretKey,
			MerchantCode: cfg.Tabby.MerchantCode,
			BaseURL:      cfg.Tabby.BaseURL,
			Logger:       observability.EventLogger(logger.Named("tabby")),
		})
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("tabby provider: %w", err)
		}
		providers[payments.ProviderTabby] = tabbyProvider
		adapters.Tabby = tabbyProvider
	}
	if len(providers) > 0 {
		manager, err := payments.NewManager(providers)
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("payment manager: %w", err)
		}
		adapters.Payments = manager
	}

	switch cfg.Email.Transport {
	case config.EmailTransportHTTP:
		sender, err := email.NewHTTPSender(email.Config{
			Endpoint: cfg.Email.Endpoint,
			APIKey:   cfg.Email.APIKey,
			From:     cfg.Email.From,
			ReplyTo:  cfg.Email.ReplyTo,
		})
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("email sender: %w", err)
		}
		adapters.Email = sender
	case config.EmailTransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.EmailTopic)
		closers = append(closers, func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		})
		publisher, err := jobs.NewPubSubEmailPublisher(topic)
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("email publisher: %w", err)
		}
		adapters.Email = publisher
	default:
		adapters.Email = notifications.LogSender{Logger: logger.Named("email")}
	}

	storageClient, err := gcs.NewClient(ctx)
	if err != nil {
		logger.Warn("cloud storage unavailable; gs:// imports are disabled", zap.Error(err))
	} else {
		closers = append(closers, func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		})
		reader, err := platformstorage.NewObjectReader(storageClient, maxImportObjectBytes)
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("object reader: %w", err)
		}
		adapters.Objects = reader
	}

	if key := strings.TrimSpace(cfg.Storage.SignerKey); key != "" && cfg.Storage.MediaBucket != "" {
		signer, err := platformstorage.NewKeySigner([]byte(key))
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("storage signer: %w", err)
		}
		uploader, err := platformstorage.NewUploader(signer, platformstorage.UploaderConfig{
			Bucket:  cfg.Storage.MediaBucket,
			MaxSize: cfg.Storage.UploadMaxBytes,
			Expiry:  cfg.Storage.UploadExpiry,
		})
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("media uploader: %w", err)
		}
		adapters.Media = uploader
	}

	if cfg.Merchant.Enabled() {
		client, err := merchant.NewClient(merchant.Config{
			ClientID:     cfg.Merchant.ClientID,
			ClientSecret: cfg.Merchant.ClientSecret,
			RedirectURL:  cfg.Merchant.RedirectURL,
			MerchantID:   cfg.Merchant.MerchantID,
			StoreURL:     cfg.Merchant.StoreURL,
			Country:      cfg.Merchant.Country,
			Language:     cfg.Merchant.Language,
		}, reg.Merchant())
		if err != nil {
			return di.Adapters{}, closeAll, fmt.Errorf("merchant client: %w", err)
		}
		adapters.Merchant = client
	}

	return adapters, closeAll, nil
}

func newHealthRepository(provider *pfirestore.Provider, redisClient *redis.Client) (repositories.HealthRepository, error) {
	probes := []repositories.Probe{{
		Name:     "firestore",
		Required: true,
		Check:    provider.Ping,
	}}
	if redisClient != nil {
		probes = append(probes, repositories.Probe{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	return repositories.NewProbeHealthRepository(time.Now, probes...)
}

func newAuthenticator(ctx context.Context, cfg config.Config) (*auth.Authenticator, error) {
	var verifiers []auth.TokenVerifier
	if secret := strings.TrimSpace(cfg.Auth.JWTSecret); secret != "" {
		tokens, err := auth.NewSessionTokens(secret, cfg.Auth.JWTIssuer, time.Now)
		if err != nil {
			return nil, fmt.Errorf("session tokens: %w", err)
		}
		verifiers = append(verifiers, tokens)
	}
	if project := strings.TrimSpace(cfg.Auth.FirebaseProjectID); project != "" {
		firebase, err := auth.NewFirebaseVerifier(ctx, project, cfg.Auth.FirebaseCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("firebase verifier: %w", err)
		}
		verifiers = append(verifiers, firebase)
	}
	return auth.NewAuthenticator(cfg.Auth.CookieName, verifiers...), nil
}

func newOIDCMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	cache := auth.NewJWKSCache(cfg.Auth.OIDC.JWKSURL, &http.Client{Timeout: jwksFetchTimeout}, time.Now)
	return auth.RequireOIDC(cache, auth.OIDCPolicy{
		Audience:       cfg.Auth.OIDC.Audience,
		Issuers:        cfg.Auth.OIDC.Issuers,
		ServiceAccount: cfg.Auth.OIDC.ServiceAccount,
	})
}

func newIdempotencyStore(cfg config.Config, provider *pfirestore.Provider, redisClient *redis.Client) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyRedis:
		if redisClient == nil {
			return nil, errors.New("redis idempotency backend requires redis address")
		}
		return idempotency.NewRedisStore(redisClient)
	case config.IdempotencyMemory:
		return idempotency.NewMemoryStore(), nil
	default:
		return idempotency.NewFirestoreStore(provider)
	}
}

// newCouponLimiter shares buckets across instances through Redis when it is configured.
func newCouponLimiter(cfg config.Config, redisClient *redis.Client) (ratelimit.Limiter, error) {
	perMinute := cfg.RateLimits.CouponValidatePerMinute
	if redisClient != nil {
		return ratelimit.NewRedisLimiter(redisClient, "coupon-validate", perMinute, time.Now)
	}
	return ratelimit.NewMemoryLimiter(perMinute, cfg.RateLimits.CouponValidateBurst, time.Now)
}

func traceProjectID(cfg config.Config) string {
	return firstNonEmpty(cfg.Firestore.ProjectID, cfg.Auth.FirebaseProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, meter metric.Meter, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[config.Prefix+key])
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(meter),
		secrets.WithFallbackFile(firstNonEmpty(lookup("SECRET_FALLBACK_FILE"), ".secrets.local")),
	}
	if project := firstNonEmpty(lookup("SECRET_PROJECT_ID"), lookup("FIRESTORE_PROJECT_ID"), lookup("GCP_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if credentials := lookup("GOOGLE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret fields that must resolve. Payment credentials are only
// mandatory in production; Tabby and Merchant secrets become mandatory once their public
// identifiers are configured.
func requiredSecretNames(env map[string]string) []string {
	lookup := func(key string) string {
		return strings.TrimSpace(env[config.Prefix+key])
	}
	var required []string
	switch strings.ToLower(lookup("ENVIRONMENT")) {
	case "prod", "production":
		required = append(required, "Stripe.APIKey", "Stripe.WebhookSecret")
	}
	if lookup("TABBY_PUBLIC_KEY") != "" {
		required = append(required, "Tabby.SecretKey", "Tabby.WebhookSecret")
	}
	if lookup("MERCHANT_CLIENT_ID") != "" {
		required = append(required, "Merchant.ClientSecret")
	}
	if strings.EqualFold(lookup("EMAIL_TRANSPORT"), config.EmailTransportHTTP) {
		required = append(required, "Email.APIKey")
	}
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
