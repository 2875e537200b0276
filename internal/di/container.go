package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/wearwise/checkout/internal/catalog"
	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/orders"
	"github.com/wearwise/checkout/internal/payments"
	"github.com/wearwise/checkout/internal/platform/audit"
	"github.com/wearwise/checkout/internal/platform/auth"
	"github.com/wearwise/checkout/internal/platform/config"
	"github.com/wearwise/checkout/internal/platform/events"
	pfirestore "github.com/wearwise/checkout/internal/platform/firestore"
	"github.com/wearwise/checkout/internal/platform/idempotency"
	"github.com/wearwise/checkout/internal/platform/metrics"
	"github.com/wearwise/checkout/internal/platform/observability"
	"github.com/wearwise/checkout/internal/services"
	"github.com/wearwise/checkout/internal/session"
)

// LocalUserHeader names the header read for the shopper uid when auth is disabled locally.
const LocalUserHeader = "X-Checkout-User"

const localFallbackUID = "local-shopper"

// Services bundles the service-layer contracts that handlers and the CLI rely upon.
type Services struct {
	Checkout   services.CheckoutService
	Reconciler services.ReconciliationService
	Builder    *services.DraftBuilder
	Audit      services.AuditLogService
}

// ReadinessCheck is a named dependency check surfaced on /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Container wires stores, gateways and services for runtime use.
type Container struct {
	Config      config.Config
	Logger      *zap.Logger
	Services    Services
	Metrics     *metrics.Recorder
	Idempotency idempotency.Store
	Auth        func(http.Handler) http.Handler
	Readiness   []ReadinessCheck

	sweeper *idempotency.MemoryStore
	closers []func() error
}

// Option customises container construction. Tests use it to replace remote boundaries.
type Option func(*options)

type options struct {
	sessionStore session.Store
	catalog      services.Catalog
	orders       services.OrderCreator
	verifier     auth.Verifier
	clock        func() time.Time
}

// WithSessionStore overrides the configured session backend.
func WithSessionStore(store session.Store) Option {
	return func(o *options) { o.sessionStore = store }
}

// WithCatalog overrides the catalog HTTP client.
func WithCatalog(c services.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithOrderCreator overrides the configured order-creation boundary.
func WithOrderCreator(c services.OrderCreator) Option {
	return func(o *options) { o.orders = c }
}

// WithVerifier overrides the configured bearer token verifier.
func WithVerifier(v auth.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithClock sets the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far
// is released.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c = &Container{Config: cfg, Logger: logger, Metrics: metrics.NewRecorder()}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	eventLog := observability.EventLogger(logger.Named("checkout"))

	var redisClient *redis.Client
	redisSession := cfg.Session.Backend == config.SessionBackendRedis && o.sessionStore == nil
	if redisSession || cfg.Idempotency.Backend == "redis" {
		redisClient, err = session.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return c, err
		}
		c.closers = append(c.closers, redisClient.Close)
		c.Readiness = append(c.Readiness, ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	store, err := c.sessionStore(cfg, o, redisClient)
	if err != nil {
		return c, err
	}
	keys := session.Keyspace{Prefix: cfg.Session.Prefix}

	pending, err := services.NewPendingStore(services.PendingStoreDeps{
		Store:      store,
		Keys:       keys,
		PendingTTL: cfg.Session.PendingTTL,
		SessionTTL: cfg.Session.SessionTTL,
		Clock:      o.clock,
	})
	if err != nil {
		return c, err
	}
	processed, err := services.NewProcessedMarkers(store, keys, cfg.Session.SessionTTL, o.clock)
	if err != nil {
		return c, err
	}
	totals, err := services.NewTotalsStore(store, keys, cfg.Session.SessionTTL)
	if err != nil {
		return c, err
	}

	registry, err := buildRegistry(cfg, o.clock, eventLog)
	if err != nil {
		return c, err
	}

	catalogClient := o.catalog
	if catalogClient == nil {
		catalogClient, err = catalog.NewHTTPClient(catalog.Config{
			BaseURL:      cfg.Catalog.BaseURL,
			ServiceToken: cfg.Catalog.ServiceToken,
			Timeout:      cfg.Catalog.Timeout,
		})
		if err != nil {
			return c, err
		}
	}

	orderCreator := o.orders
	if orderCreator == nil {
		if orderCreator, err = c.orderCreator(ctx, cfg, o.clock); err != nil {
			return c, err
		}
	}

	publisher, err := c.eventPublisher(ctx, cfg)
	if err != nil {
		return c, err
	}

	var auditSvc services.AuditLogService
	if path := strings.TrimSpace(cfg.Audit.SQLitePath); path != "" {
		auditLog, err := audit.Open(path)
		if err != nil {
			return c, err
		}
		c.closers = append(c.closers, auditLog.Close)
		auditSvc, err = services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditLog,
			Clock:      o.clock,
			Logger:     observability.NewPrintfAdapter(logger.Named("audit")),
			HashSalt:   cfg.Audit.HashSalt,
		})
		if err != nil {
			return c, err
		}
	}

	builder, err := services.NewDraftBuilder(services.DraftBuilderDeps{
		Catalog:  catalogClient,
		Totals:   totals,
		Currency: cfg.Checkout.Currency,
		Clock:    o.clock,
		Logger:   eventLog,
	})
	if err != nil {
		return c, err
	}

	finalizer, err := services.NewOrderFinalizer(services.OrderFinalizerDeps{
		Orders:    orderCreator,
		Pending:   pending,
		Processed: processed,
		Totals:    totals,
		Events:    publisher,
		Audit:     auditSvc,
		Metrics:   c.Metrics,
		Clock:     o.clock,
		Logger:    eventLog,
	})
	if err != nil {
		return c, err
	}

	reconciler, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Registry:  registry,
		Pending:   pending,
		Processed: processed,
		Finalizer: finalizer,
		Audit:     auditSvc,
		Metrics:   c.Metrics,
		PollPolicy: payments.PollPolicy{
			Interval:    cfg.Checkout.PollInterval,
			Multiplier:  cfg.Checkout.PollMultiplier,
			MaxInterval: cfg.Checkout.PollMaxInterval,
			MaxAttempts: cfg.Checkout.PollMaxAttempts,
		},
		Sleep:            payments.SleepContext,
		CartReturnPath:   cfg.Checkout.CartReturnPath,
		BuyNowReturnPath: cfg.Checkout.BuyNowReturnPath,
		Clock:            o.clock,
		Logger:           eventLog,
	})
	if err != nil {
		return c, err
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Builder:    builder,
		Registry:   registry,
		Pending:    pending,
		Totals:     totals,
		Reconciler: reconciler,
		Bounds:     payments.Bounds{Min: cfg.Checkout.MinAmount, Max: cfg.Checkout.MaxAmount},
		ReturnURLs: map[domain.PaymentMethod]string{
			payments.KindGatewayA: cfg.Gateways.GatewayA.ReturnURL,
			payments.KindGatewayB: cfg.Gateways.GatewayB.ReturnURL,
			payments.KindCard:     cfg.Gateways.Card.ReturnURL,
		},
		Audit:   auditSvc,
		Metrics: c.Metrics,
		Clock:   o.clock,
		Logger:  eventLog,
	})
	if err != nil {
		return c, err
	}

	c.Services = Services{Checkout: checkout, Reconciler: reconciler, Builder: builder, Audit: auditSvc}

	if c.Auth, err = authMiddleware(ctx, cfg, o.verifier); err != nil {
		return c, err
	}

	switch cfg.Idempotency.Backend {
	case "redis":
		c.Idempotency = idempotency.NewRedisStore(redisClient, cfg.Session.Prefix)
	default:
		mem := idempotency.NewMemoryStore()
		c.Idempotency = mem
		c.sweeper = mem
	}
	return c, nil
}

// Sweep drops expired in-memory idempotency records. It is a no-op for shared stores.
func (c *Container) Sweep(now time.Time) int {
	if c == nil || c.sweeper == nil {
		return 0
	}
	return c.sweeper.Sweep(now)
}

// Close releases clients, pools and files in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) sessionStore(cfg config.Config, o options, redisClient *redis.Client) (session.Store, error) {
	if o.sessionStore != nil {
		return o.sessionStore, nil
	}
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		return session.NewRedisStore(redisClient), nil
	case config.SessionBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		c.Readiness = append(c.Readiness, ReadinessCheck{Name: "firestore", Check: provider.Ping})
		return session.NewFirestoreStore(provider,
			session.WithCollection(cfg.Session.Collection),
			session.WithClock(o.clock),
		), nil
	case config.SessionBackendMemory:
		return session.NewMemoryStore(o.clock), nil
	default:
		return nil, fmt.Errorf("di: unsupported session backend %q", cfg.Session.Backend)
	}
}

func (c *Container) orderCreator(ctx context.Context, cfg config.Config, clock func() time.Time) (services.OrderCreator, error) {
	switch cfg.Orders.Mode {
	case config.OrdersModePostgres:
		pool, err := orders.Connect(ctx, cfg.Orders.PostgresDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
		c.Readiness = append(c.Readiness, ReadinessCheck{Name: "orders", Check: pool.Ping})
		store, err := orders.NewPostgresStore(pool, clock)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return orders.NewHTTPClient(orders.HTTPConfig{
			BaseURL:      cfg.Orders.BaseURL,
			ServiceToken: cfg.Orders.ServiceToken,
			Clock:        clock,
		})
	}
}

func (c *Container) eventPublisher(ctx context.Context, cfg config.Config) (services.EventPublisher, error) {
	var fanout events.Fanout
	if topicID := strings.TrimSpace(cfg.Events.PubSubTopic); topicID != "" {
		var clientOpts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("di: pubsub client: %w", err)
		}
		topic := client.Topic(topicID)
		c.closers = append(c.closers, func() error {
			topic.Stop()
			return client.Close()
		})
		publisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			return nil, err
		}
		fanout = append(fanout, publisher)
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, publisher.Close)
		fanout = append(fanout, publisher)
	}
	if len(fanout) == 0 {
		return nil, nil
	}
	return fanout, nil
}

// buildRegistry registers COD unconditionally and every gateway that has credentials.
func buildRegistry(cfg config.Config, clock func() time.Time, logger payments.Logger) (*payments.Registry, error) {
	adapters := []payments.Adapter{payments.NewCODAdapter()}

	if gw := cfg.Gateways.GatewayA; gw.TMNCode != "" {
		adapter, err := payments.NewGatewayAAdapter(payments.GatewayAConfig{
			PayURL:       gw.PayURL,
			TMNCode:      gw.TMNCode,
			HashSecret:   gw.HashSecret,
			CurrencyCode: cfg.Checkout.Currency,
			Clock:        clock,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	if gw := cfg.Gateways.GatewayB; gw.Endpoint != "" {
		adapter, err := payments.NewGatewayBAdapter(payments.GatewayBConfig{
			Endpoint:    gw.Endpoint,
			PartnerCode: gw.PartnerCode,
			APIKey:      gw.APIKey,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	if card := cfg.Gateways.Card; card.APIKey != "" {
		adapter, err := payments.NewCardProvider(payments.CardProviderConfig{
			APIKey:    card.APIKey,
			AccountID: card.AccountID,
			Currency:  cfg.Checkout.Currency,
			Clock:     clock,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return payments.NewRegistry(adapters, payments.WithAliases(map[string]payments.Kind{
		"cash":   payments.KindCOD,
		"stripe": payments.KindCard,
	}))
}

func authMiddleware(ctx context.Context, cfg config.Config, verifier auth.Verifier) (func(http.Handler) http.Handler, error) {
	if verifier != nil {
		return auth.RequireAuth(verifier), nil
	}
	switch cfg.Auth.Mode {
	case config.AuthModeNone:
		return auth.LocalIdentity(LocalUserHeader, localFallbackUID), nil
	case config.AuthModeFirebase:
		v, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, err
		}
		return auth.RequireAuth(v), nil
	default:
		v, err := auth.NewJWTVerifier(auth.JWTConfig{
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		})
		if err != nil {
			return nil, err
		}
		return auth.RequireAuth(v), nil
	}
}
