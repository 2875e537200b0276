package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wearwise/checkout/internal/di"
	"github.com/wearwise/checkout/internal/handlers"
	"github.com/wearwise/checkout/internal/platform/config"
	"github.com/wearwise/checkout/internal/platform/idempotency"
	"github.com/wearwise/checkout/internal/platform/observability"
	"github.com/wearwise/checkout/internal/platform/secrets"
)

const sweepInterval = 5 * time.Minute

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, startedAt); err != nil {
		logger.Error("checkout api stopped with error", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, startedAt time.Time) error {
	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(container, buildInfoFromEnv(envValues, cfg, startedAt)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	g.Go(func() error {
		serverLogger.Info("checkout api listening", zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				if n := container.Sweep(now); n > 0 {
					logger.Debug("idempotency records swept", zap.Int("count", n))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newRouter(c *di.Container, build handlers.BuildInfo) http.Handler {
	cfg := c.Config
	httpLogger := c.Logger.Named("http")

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(build)}
	for _, check := range c.Readiness {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck(check.Name, check.Check))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(handlers.CheckoutHandlersDeps{
		Checkout:        c.Services.Checkout,
		Reconciler:      c.Services.Reconciler,
		Currency:        cfg.Checkout.Currency,
		StartRateLimit:  cfg.Checkout.StartRateLimit,
		StartRateWindow: cfg.Checkout.StartRateWindow,
	})

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
			c.Metrics.Middleware,
		),
		handlers.WithAPIMiddlewares(
			c.Auth,
			idempotency.Middleware(c.Idempotency,
				idempotency.WithHeader(cfg.Idempotency.Header),
				idempotency.WithTTL(cfg.Idempotency.TTL),
				idempotency.WithLogger(observability.EventLogger(httpLogger)),
			),
		),
		handlers.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(c.Metrics.Handler()),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["CHECKOUT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["CHECKOUT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	opts := append(secrets.EnvOptions(env), secrets.WithLogger(logger.Named("secrets")))
	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a value for the configured
// gateways and boundaries. A gateway is considered configured once its public identifier is set.
func requiredSecretNames(env map[string]string) []string {
	set := func(key string) bool { return strings.TrimSpace(env[key]) != "" }
	var required []string
	if set("CHECKOUT_GATEWAY_A_TMN_CODE") {
		required = append(required, "Gateways.GatewayA.HashSecret")
	}
	if set("CHECKOUT_GATEWAY_B_PARTNER_CODE") {
		required = append(required, "Gateways.GatewayB.APIKey")
	}
	if set("CHECKOUT_CARD_ACCOUNT_ID") {
		required = append(required, "Gateways.Card.APIKey")
	}
	if strings.EqualFold(strings.TrimSpace(env["CHECKOUT_ORDERS_MODE"]), config.OrdersModePostgres) {
		required = append(required, "Orders.PostgresDSN")
	}
	if mode := strings.ToLower(strings.TrimSpace(env["CHECKOUT_AUTH_MODE"])); mode == "" || mode == config.AuthModeJWT {
		required = append(required, "Auth.JWTSecret")
	}
	return required
}
