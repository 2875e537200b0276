package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	envPrefix = "CHECKOUT_"

	defaultEnvFile          = ".env"
	defaultEnvironment      = "local"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 60 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultRequestTimeout   = 45 * time.Second
	defaultShutdownTimeout  = 20 * time.Second
	defaultSessionBackend   = SessionBackendMemory
	defaultSessionPrefix    = "checkout"
	defaultSessionColl      = "checkoutSessions"
	defaultPendingTTL       = 30 * time.Minute
	defaultSessionTTL       = 24 * time.Hour
	defaultCurrency         = "VND"
	defaultMinAmount        = 1_000
	defaultMaxAmount        = 50_000_000
	defaultCartReturnPath   = "/cart"
	defaultBuyNowReturnPath = "/products/{productId}"
	defaultPollInterval     = 2 * time.Second
	defaultPollMaxInterval  = 10 * time.Second
	defaultPollMultiplier   = 1.5
	defaultPollMaxAttempts  = 6
	defaultStartRateLimit   = 10
	defaultStartRateWindow  = time.Minute
	defaultGatewayAPayURL   = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	defaultOrdersMode       = OrdersModeHTTP
	defaultCatalogTimeout   = 5 * time.Second
	defaultKafkaTopic       = "checkout.order-finalized"
	defaultAuthMode         = AuthModeJWT
	defaultIdempotencyHdr   = "Idempotency-Key"
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultIdempotencyStore = "memory"
)

// Session backends.
const (
	SessionBackendMemory    = "memory"
	SessionBackendRedis     = "redis"
	SessionBackendFirestore = "firestore"
)

// Order creation modes.
const (
	OrdersModeHTTP     = "http"
	OrdersModePostgres = "postgres"
)

// Auth modes.
const (
	AuthModeJWT      = "jwt"
	AuthModeFirebase = "firebase"
	AuthModeNone     = "none"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	Session     SessionConfig
	Checkout    CheckoutConfig
	Gateways    GatewaysConfig
	Catalog     CatalogConfig
	Orders      OrdersConfig
	Events      EventsConfig
	Audit       AuditConfig
	Auth        AuthConfig
	Idempotency IdempotencyConfig
	CORS        CORSConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig points at the shared Redis deployment.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig selects where pending transactions, processed markers and totals live.
type SessionConfig struct {
	Backend    string
	Prefix     string
	Collection string
	PendingTTL time.Duration
	SessionTTL time.Duration
}

// CheckoutConfig holds amount bounds, return paths and the poll policy.
type CheckoutConfig struct {
	Currency         string
	MinAmount        int64
	MaxAmount        int64
	CartReturnPath   string
	BuyNowReturnPath string
	PollInterval     time.Duration
	PollMaxInterval  time.Duration
	PollMultiplier   float64
	PollMaxAttempts  int
	StartRateLimit   int
	StartRateWindow  time.Duration
}

// PollBudget is the total time a reconcile request may spend sleeping between gateway
// polls. It must stay below Server.RequestTimeout so that exhaustion surfaces as a pending
// payment rather than a request timeout.
func (c CheckoutConfig) PollBudget() time.Duration {
	interval := c.PollInterval
	multiplier := c.PollMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxInterval := c.PollMaxInterval
	if maxInterval < interval {
		maxInterval = interval
	}
	var total time.Duration
	for attempt := 1; attempt < c.PollMaxAttempts; attempt++ {
		total += interval
		interval = time.Duration(float64(interval) * multiplier)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
	return total
}

// GatewaysConfig groups the payment provider credentials. A gateway without credentials
// is not registered.
type GatewaysConfig struct {
	GatewayA GatewayAConfig
	GatewayB GatewayBConfig
	Card     CardConfig
}

// GatewayAConfig configures the redirect gateway with signed returns.
type GatewayAConfig struct {
	PayURL     string
	TMNCode    string
	HashSecret string
	ReturnURL  string
}

// GatewayBConfig configures the polled wallet gateway.
type GatewayBConfig struct {
	Endpoint    string
	PartnerCode string
	APIKey      string
	ReturnURL   string
}

// CardConfig configures the Stripe-hosted card checkout.
type CardConfig struct {
	APIKey    string
	AccountID string
	ReturnURL string
}

// CatalogConfig points at the cart and product service.
type CatalogConfig struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
}

// OrdersConfig selects the order-creation boundary.
type OrdersConfig struct {
	Mode         string
	BaseURL      string
	ServiceToken string
	PostgresDSN  string
}

// EventsConfig lists the brokers that receive order.finalized events. Both are optional.
type EventsConfig struct {
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// AuditConfig configures the local audit trail.
type AuditConfig struct {
	SQLitePath string
	HashSalt   string
}

// AuthConfig controls shopper token verification.
type AuthConfig struct {
	Mode      string
	JWTSecret string
	Issuer    string
	Audience  string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header  string
	TTL     time.Duration
	Backend string
}

// CORSConfig lists the storefront origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields as mandatory, named as recorded by the loader
// (e.g. "Gateways.GatewayA.HashSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func newOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// EnvironmentValues returns the effective environment after applying the same precedence
// as Load (dotenv < OS env < explicit map). main uses it to build the secret resolver
// before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newOptions(opts)
	src, err := newSource(options)
	if err != nil {
		return nil, err
	}
	return src.merged(), nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables
// and Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newOptions(opts)
	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}
	env := src.reader(envPrefix)

	cfg := Config{
		Environment: strings.ToLower(env.str("ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:            env.str("PORT", defaultPort),
			ReadTimeout:     env.duration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  env.duration("SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: env.duration("SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:     env.str("REDIS_ADDR", ""),
			Password: env.str("REDIS_PASSWORD", ""),
			DB:       env.integer("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Backend:    strings.ToLower(env.str("SESSION_BACKEND", defaultSessionBackend)),
			Prefix:     env.str("SESSION_PREFIX", defaultSessionPrefix),
			Collection: env.str("SESSION_COLLECTION", defaultSessionColl),
			PendingTTL: env.duration("PENDING_TTL", defaultPendingTTL),
			SessionTTL: env.duration("SESSION_TTL", defaultSessionTTL),
		},
		Checkout: CheckoutConfig{
			Currency:         strings.ToUpper(env.str("CURRENCY", defaultCurrency)),
			MinAmount:        env.amount("MIN_AMOUNT", defaultMinAmount),
			MaxAmount:        env.amount("MAX_AMOUNT", defaultMaxAmount),
			CartReturnPath:   env.str("CART_RETURN_PATH", defaultCartReturnPath),
			BuyNowReturnPath: env.str("BUY_NOW_RETURN_PATH", defaultBuyNowReturnPath),
			PollInterval:     env.duration("POLL_INTERVAL", defaultPollInterval),
			PollMaxInterval:  env.duration("POLL_MAX_INTERVAL", defaultPollMaxInterval),
			PollMultiplier:   env.float("POLL_MULTIPLIER", defaultPollMultiplier),
			PollMaxAttempts:  env.integer("POLL_MAX_ATTEMPTS", defaultPollMaxAttempts),
			StartRateLimit:   env.integer("START_RATE_LIMIT", defaultStartRateLimit),
			StartRateWindow:  env.duration("START_RATE_WINDOW", defaultStartRateWindow),
		},
		Gateways: GatewaysConfig{
			GatewayA: GatewayAConfig{
				PayURL:     env.str("GATEWAY_A_PAY_URL", defaultGatewayAPayURL),
				TMNCode:    env.str("GATEWAY_A_TMN_CODE", ""),
				HashSecret: env.str("GATEWAY_A_HASH_SECRET", ""),
				ReturnURL:  env.str("GATEWAY_A_RETURN_URL", ""),
			},
			GatewayB: GatewayBConfig{
				Endpoint:    env.str("GATEWAY_B_ENDPOINT", ""),
				PartnerCode: env.str("GATEWAY_B_PARTNER_CODE", ""),
				APIKey:      env.str("GATEWAY_B_API_KEY", ""),
				ReturnURL:   env.str("GATEWAY_B_RETURN_URL", ""),
			},
			Card: CardConfig{
				APIKey:    env.str("CARD_API_KEY", ""),
				AccountID: env.str("CARD_ACCOUNT_ID", ""),
				ReturnURL: env.str("CARD_RETURN_URL", ""),
			},
		},
		Catalog: CatalogConfig{
			BaseURL:      env.str("CATALOG_BASE_URL", ""),
			ServiceToken: env.str("CATALOG_SERVICE_TOKEN", ""),
			Timeout:      env.duration("CATALOG_TIMEOUT", defaultCatalogTimeout),
		},
		Orders: OrdersConfig{
			Mode:         strings.ToLower(env.str("ORDERS_MODE", defaultOrdersMode)),
			BaseURL:      env.str("ORDERS_BASE_URL", ""),
			ServiceToken: env.str("ORDERS_SERVICE_TOKEN", ""),
			PostgresDSN:  env.str("ORDERS_POSTGRES_DSN", ""),
		},
		Events: EventsConfig{
			PubSubTopic:  env.str("EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers: env.csv("EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   env.str("EVENTS_KAFKA_TOPIC", defaultKafkaTopic),
		},
		Audit: AuditConfig{
			SQLitePath: env.str("AUDIT_SQLITE_PATH", ""),
			HashSalt:   env.str("AUDIT_HASH_SALT", ""),
		},
		Auth: AuthConfig{
			Mode:      strings.ToLower(env.str("AUTH_MODE", defaultAuthMode)),
			JWTSecret: env.str("AUTH_JWT_SECRET", ""),
			Issuer:    env.str("AUTH_ISSUER", ""),
			Audience:  env.str("AUTH_AUDIENCE", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:  env.str("IDEMPOTENCY_HEADER", defaultIdempotencyHdr),
			TTL:     env.duration("IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Backend: strings.ToLower(env.str("IDEMPOTENCY_BACKEND", defaultIdempotencyStore)),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.csv("CORS_ALLOWED_ORIGINS"),
		},
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	resolved := make(map[string]string)
	for _, target := range cfg.secretFields() {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

type secretField struct {
	name  string
	field *string
}

func (cfg *Config) secretFields() []secretField {
	return []secretField{
		{"Redis.Password", &cfg.Redis.Password},
		{"Gateways.GatewayA.HashSecret", &cfg.Gateways.GatewayA.HashSecret},
		{"Gateways.GatewayB.APIKey", &cfg.Gateways.GatewayB.APIKey},
		{"Gateways.Card.APIKey", &cfg.Gateways.Card.APIKey},
		{"Catalog.ServiceToken", &cfg.Catalog.ServiceToken},
		{"Orders.ServiceToken", &cfg.Orders.ServiceToken},
		{"Orders.PostgresDSN", &cfg.Orders.PostgresDSN},
		{"Audit.HashSalt", &cfg.Audit.HashSalt},
		{"Auth.JWTSecret", &cfg.Auth.JWTSecret},
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		var secretErr *SecretError
		if errors.As(err, &secretErr) {
			return "", err
		}
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	add := func(cond bool, field string) {
		if cond {
			invalid = append(invalid, field)
		}
	}

	add(cfg.Server.Port == "", "Server.Port")
	add(cfg.Server.ShutdownTimeout <= 0, "Server.ShutdownTimeout")
	add(cfg.Server.RequestTimeout <= 0, "Server.RequestTimeout")
	add(cfg.Server.WriteTimeout > 0 && cfg.Server.RequestTimeout >= cfg.Server.WriteTimeout, "Server.RequestTimeout")

	switch cfg.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		add(cfg.Redis.Addr == "", "Redis.Addr")
	case SessionBackendFirestore:
		add(cfg.Firestore.ProjectID == "", "Firestore.ProjectID")
	default:
		invalid = append(invalid, "Session.Backend")
	}
	add(cfg.Session.PendingTTL <= 0, "Session.PendingTTL")
	add(cfg.Session.SessionTTL <= 0, "Session.SessionTTL")

	add(cfg.Checkout.MinAmount <= 0, "Checkout.MinAmount")
	add(cfg.Checkout.MaxAmount < cfg.Checkout.MinAmount, "Checkout.MaxAmount")
	add(cfg.Checkout.PollInterval <= 0, "Checkout.PollInterval")
	add(cfg.Checkout.PollMaxAttempts <= 0, "Checkout.PollMaxAttempts")
	add(cfg.Checkout.PollMultiplier < 1, "Checkout.PollMultiplier")
	add(cfg.Checkout.PollMaxAttempts > 0 && cfg.Server.RequestTimeout > 0 &&
		cfg.Checkout.PollBudget() >= cfg.Server.RequestTimeout, "Checkout.PollMaxAttempts")

	gwA := cfg.Gateways.GatewayA
	if gwA.TMNCode != "" || gwA.HashSecret != "" {
		add(gwA.TMNCode == "", "Gateways.GatewayA.TMNCode")
		add(gwA.HashSecret == "", "Gateways.GatewayA.HashSecret")
		add(gwA.ReturnURL == "", "Gateways.GatewayA.ReturnURL")
	}
	gwB := cfg.Gateways.GatewayB
	if gwB.Endpoint != "" || gwB.APIKey != "" {
		add(gwB.Endpoint == "", "Gateways.GatewayB.Endpoint")
		add(gwB.PartnerCode == "", "Gateways.GatewayB.PartnerCode")
		add(gwB.APIKey == "", "Gateways.GatewayB.APIKey")
		add(gwB.ReturnURL == "", "Gateways.GatewayB.ReturnURL")
	}
	if cfg.Gateways.Card.APIKey != "" {
		add(cfg.Gateways.Card.ReturnURL == "", "Gateways.Card.ReturnURL")
	}

	add(cfg.Catalog.BaseURL == "", "Catalog.BaseURL")
	switch cfg.Orders.Mode {
	case OrdersModeHTTP:
		add(cfg.Orders.BaseURL == "", "Orders.BaseURL")
	case OrdersModePostgres:
		add(cfg.Orders.PostgresDSN == "", "Orders.PostgresDSN")
	default:
		invalid = append(invalid, "Orders.Mode")
	}

	switch cfg.Auth.Mode {
	case AuthModeJWT:
		add(cfg.Auth.JWTSecret == "", "Auth.JWTSecret")
	case AuthModeFirebase:
		add(cfg.Firebase.ProjectID == "", "Firebase.ProjectID")
	case AuthModeNone:
		add(cfg.Environment != defaultEnvironment, "Auth.Mode")
	default:
		invalid = append(invalid, "Auth.Mode")
	}

	add(strings.TrimSpace(cfg.Idempotency.Header) == "", "Idempotency.Header")
	add(cfg.Idempotency.TTL <= 0, "Idempotency.TTL")
	switch cfg.Idempotency.Backend {
	case "memory":
	case "redis":
		add(cfg.Redis.Addr == "", "Redis.Addr")
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: dedupe(invalid)}
	}
	return nil
}

func dedupe(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			names = append(names, trimmed)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
