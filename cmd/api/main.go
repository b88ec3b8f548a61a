package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/hearthside/api/internal/handlers"
	"github.com/hearthside/api/internal/platform/auth"
	"github.com/hearthside/api/internal/platform/config"
	pfirestore "github.com/hearthside/api/internal/platform/firestore"
	"github.com/hearthside/api/internal/platform/idempotency"
	"github.com/hearthside/api/internal/platform/jobs"
	"github.com/hearthside/api/internal/platform/observability"
	"github.com/hearthside/api/internal/platform/textutil"
	"github.com/hearthside/api/internal/repositories"
	firestoreRepo "github.com/hearthside/api/internal/repositories/firestore"
	sqliteRepo "github.com/hearthside/api/internal/repositories/sqlite"
	"github.com/hearthside/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	auditRepo, err := sqliteRepo.Open(ctx, cfg.Audit.DBPath)
	if err != nil {
		logger.Fatal("failed to open audit database", zap.Error(err))
	}
	defer func() {
		if err := auditRepo.Close(); err != nil {
			logger.Warn("audit database close error", zap.Error(err))
		}
	}()

	var publisher services.OrderEventPublisher
	if topicID := cfg.PubSub.OrderTopic; topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicID)
		defer topic.Stop()
		publisher, err = jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	} else {
		logger.Info("order event topic not configured; publishing disabled")
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	discountRepo, err := firestoreRepo.NewDiscountRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise discount repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	unitOfWork, err := firestoreRepo.NewUnitOfWork(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: auditRepo,
		Clock:      time.Now,
		Logger:     serviceLogger(logger.Named("audit")),
	})
	if err != nil {
		logger.Fatal("failed to initialise audit service", zap.Error(err))
	}

	pricingEngine, err := services.NewCartPricingEngine(services.PricingEngineDeps{
		Currency:              cfg.Pricing.Currency,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShippingRate:      cfg.Pricing.FlatShippingRate,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	discountService, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts: discountRepo,
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise discount service", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:     cartRepo,
		Discounts: discountService,
		Pricing:   pricingEngine,
		Clock:     time.Now,
		Currency:  cfg.Pricing.Currency,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:        cartService,
		Discounts:    discountService,
		Pricing:      pricingEngine,
		Orders:       orderRepo,
		Clock:        time.Now,
		NumberPrefix: cfg.Orders.NumberPrefix,
		Publisher:    publisher,
		Audit:        auditService,
		Sanitizer:    textutil.SanitizePlainText,
		Logger:       serviceLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          orderRepo,
		UnitOfWork:      unitOfWork,
		Clock:           time.Now,
		Publisher:       publisher,
		Audit:           auditService,
		Sanitizer:       textutil.SanitizePlainText,
		Logger:          serviceLogger(logger.Named("orders")),
		PaymentTermDays: cfg.Orders.PaymentTermDays,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		idempotency.NewMemoryStore(),
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithReadinessChecks(
			handlers.ReadinessCheck{
				Name: "firestore",
				Probe: func(ctx context.Context) error {
					probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
					defer cancel()
					iter := firestoreClient.Collections(probeCtx)
					_, err := iter.Next()
					if errors.Is(err, iterator.Done) {
						return nil
					}
					return err
				},
			},
			handlers.ReadinessCheck{
				Name: "audit",
				Probe: func(ctx context.Context) error {
					_, err := auditRepo.List(ctx, repositories.AuditLogFilter{Limit: 1})
					return err
				},
			},
		),
	)

	cartHandlers := handlers.NewCartHandlers(cartService, pricingEngine)
	discountHandlers := handlers.NewDiscountHandlers(discountService)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithDiscountRoutes(discountHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		// Identity must attach before the idempotency fingerprint is taken.
		handlers.WithCheckoutMiddlewares(authenticator.OptionalFirebaseAuth(), idempotencyMiddleware),
		handlers.WithCustomerRoutes(orderHandlers.CustomerRoutes),
		handlers.WithAdminRoutes(orderHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("hearthside api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("HEARTHSIDE_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("HEARTHSIDE_BUILD_COMMIT_SHA"))
	environment := strings.TrimSpace(os.Getenv("HEARTHSIDE_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func serviceLogger(logger *zap.Logger) func(ctx context.Context, msg string, fields map[string]any) {
	return func(_ context.Context, msg string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(msg, zFields...)
	}
}
