package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/stonemart/api/internal/di"
	"github.com/stonemart/api/internal/handlers"
	"github.com/stonemart/api/internal/platform/auth"
	"github.com/stonemart/api/internal/platform/config"
	pfirestore "github.com/stonemart/api/internal/platform/firestore"
	"github.com/stonemart/api/internal/platform/idempotency"
	"github.com/stonemart/api/internal/platform/jobs"
	"github.com/stonemart/api/internal/platform/observability"
	"github.com/stonemart/api/internal/platform/requestctx"
	firestoreRepo "github.com/stonemart/api/internal/repositories/firestore"
	"github.com/stonemart/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
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

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	var eventPublisher services.EventPublisher
	var pubsubClient *pubsub.Client
	if cfg.PubSub.Enabled {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubEventPublisher(
			pubsubClient.Topic(cfg.PubSub.OrderEventsTopic),
			pubsubClient.Topic(cfg.PubSub.CatalogEventsTopic),
		)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		eventPublisher = publisher
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithEventPublisher(eventPublisher),
		di.WithServiceLogger(serviceEventLogger(logger.Named("services"))),
	)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	webhookVerifier := auth.NewWebhookVerifier(cfg.Payments.WebhookSecret,
		auth.WithWebhookHeaders(cfg.Payments.SignatureHeader, cfg.Payments.TimestampHeader),
		auth.WithWebhookClockSkew(cfg.Payments.ClockSkew),
	)

	productHandlers := handlers.NewProductHandlers(authenticator, container.Services.Catalog, container.Services.Reviews)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	adminHandlers := handlers.NewAdminHandlers(authenticator, container.Services.Catalog, container.Services.Inventory, container.Services.Orders, container.Services.Reviews)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(container.Services.Orders)

	healthHandlers := handlers.NewHealthHandlers(func(ctx context.Context) error {
		iter := firestoreClient.Collections(ctx)
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	})

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		idempotency.Middleware(idempotencyStore,
			idempotency.WithLogger(zap.NewStdLog(logger.Named("idempotency"))),
		),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(webhookVerifier.Require()),
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
		serverLogger.Info("stonemart api listening")
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

// serviceEventLogger adapts zap to the callback-style logger the services use.
func serviceEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		l := observability.FromContext(ctx)
		if l == requestctx.NoopLogger() {
			l = logger
		}
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		l.Info(event, zFields...)
	}
}
