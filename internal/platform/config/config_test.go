package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"CHECKOUT_CATALOG_BASE_URL": "https://catalog.internal",
		"CHECKOUT_ORDERS_BASE_URL":  "https://orders.internal",
		"CHECKOUT_AUTH_JWT_SECRET":  "jwt-secret",
	}
}

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	opts = append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	return Load(context.Background(), opts...)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := load(t, baseEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
	if cfg.Session.Backend != SessionBackendMemory {
		t.Errorf("expected memory session backend, got %s", cfg.Session.Backend)
	}
	if cfg.Session.PendingTTL != 30*time.Minute {
		t.Errorf("unexpected pending ttl: %s", cfg.Session.PendingTTL)
	}
	if cfg.Checkout.MinAmount != 1_000 || cfg.Checkout.MaxAmount != 50_000_000 {
		t.Errorf("unexpected amount bounds: %d..%d", cfg.Checkout.MinAmount, cfg.Checkout.MaxAmount)
	}
	if cfg.Checkout.CartReturnPath != "/cart" || cfg.Checkout.BuyNowReturnPath != "/products/{productId}" {
		t.Errorf("unexpected return paths: %+v", cfg.Checkout)
	}
	if cfg.Checkout.PollMaxAttempts != 6 || cfg.Checkout.PollMultiplier != 1.5 {
		t.Errorf("unexpected poll policy: %d x%.1f", cfg.Checkout.PollMaxAttempts, cfg.Checkout.PollMultiplier)
	}
	if budget := cfg.Checkout.PollBudget(); budget != 26250*time.Millisecond || budget >= cfg.Server.RequestTimeout {
		t.Errorf("expected default poll budget of 26.25s inside %s, got %s", cfg.Server.RequestTimeout, budget)
	}
	if cfg.Server.RequestTimeout >= cfg.Server.WriteTimeout {
		t.Errorf("expected request timeout %s below write timeout %s", cfg.Server.RequestTimeout, cfg.Server.WriteTimeout)
	}
	if cfg.Orders.Mode != OrdersModeHTTP {
		t.Errorf("expected http orders mode, got %s", cfg.Orders.Mode)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" || cfg.Idempotency.Backend != "memory" {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
	if len(cfg.Events.KafkaBrokers) != 0 || len(cfg.CORS.AllowedOrigins) != 0 {
		t.Errorf("expected no brokers or origins, got %v %v", cfg.Events.KafkaBrokers, cfg.CORS.AllowedOrigins)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	for k, v := range map[string]string{
		"CHECKOUT_ENVIRONMENT":           "PROD",
		"CHECKOUT_PORT":                  "9090",
		"CHECKOUT_SERVER_IDLE_TIMEOUT":   "2m",
		"CHECKOUT_FIREBASE_PROJECT_ID":   "ww-prod",
		"CHECKOUT_SESSION_BACKEND":       "redis",
		"CHECKOUT_REDIS_ADDR":            "redis:6379",
		"CHECKOUT_REDIS_PASSWORD":        "sm://redis/password",
		"CHECKOUT_REDIS_DB":              "2",
		"CHECKOUT_PENDING_TTL":           "15m",
		"CHECKOUT_MIN_AMOUNT":            "5000",
		"CHECKOUT_MAX_AMOUNT":            "20000000",
		"CHECKOUT_POLL_MAX_ATTEMPTS":     "6",
		"CHECKOUT_GATEWAY_A_TMN_CODE":    "TMN01",
		"CHECKOUT_GATEWAY_A_HASH_SECRET": "secret://gateway-a/hash",
		"CHECKOUT_GATEWAY_A_RETURN_URL":  "https://shop.example.com/return/a",
		"CHECKOUT_ORDERS_MODE":           "postgres",
		"CHECKOUT_ORDERS_POSTGRES_DSN":   "secret://orders/dsn",
		"CHECKOUT_EVENTS_KAFKA_BROKERS":  "k1:9092, k2:9092",
		"CHECKOUT_AUTH_JWT_SECRET":       "sm://auth/jwt",
		"CHECKOUT_IDEMPOTENCY_BACKEND":   "redis",
		"CHECKOUT_IDEMPOTENCY_TTL":       "48h",
		"CHECKOUT_CORS_ALLOWED_ORIGINS":  "https://shop.example.com",
	} {
		env[k] = v
	}

	secrets := map[string]string{
		"secret://redis/password": "redis-pass",
		"secret://gateway-a/hash": "hash-secret",
		"secret://orders/dsn":     "postgres://orders",
		"secret://auth/jwt":       "resolved-jwt",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := load(t, env, WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" || cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config: %s %+v", cfg.Environment, cfg.Server)
	}
	if cfg.Firestore.ProjectID != "ww-prod" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Session.PendingTTL != 15*time.Minute {
		t.Errorf("unexpected pending ttl %s", cfg.Session.PendingTTL)
	}
	if cfg.Checkout.MinAmount != 5000 || cfg.Checkout.MaxAmount != 20_000_000 || cfg.Checkout.PollMaxAttempts != 6 {
		t.Errorf("unexpected checkout config %+v", cfg.Checkout)
	}
	if cfg.Gateways.GatewayA.HashSecret != "hash-secret" {
		t.Errorf("expected resolved gateway secret, got %s", cfg.Gateways.GatewayA.HashSecret)
	}
	if cfg.Orders.PostgresDSN != "postgres://orders" {
		t.Errorf("expected resolved dsn, got %s", cfg.Orders.PostgresDSN)
	}
	if cfg.Auth.JWTSecret != "resolved-jwt" {
		t.Errorf("expected legacy sm:// reference resolved, got %s", cfg.Auth.JWTSecret)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local\nexport CHECKOUT_PORT=7070\nCHECKOUT_CATALOG_BASE_URL=\"https://catalog.local\"\n" +
		"CHECKOUT_ORDERS_BASE_URL=https://orders.local\nCHECKOUT_AUTH_MODE=none\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"CHECKOUT_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected explicit map to win over dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Catalog.BaseURL != "https://catalog.local" {
		t.Errorf("expected unquoted dotenv value, got %s", cfg.Catalog.BaseURL)
	}
	if cfg.Auth.Mode != AuthModeNone {
		t.Errorf("expected auth disabled locally, got %s", cfg.Auth.Mode)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "empty", env: map[string]string{}, field: "Catalog.BaseURL"},
		{name: "redis session without addr", env: with(baseEnv(), "CHECKOUT_SESSION_BACKEND", "redis"), field: "Redis.Addr"},
		{name: "unknown session backend", env: with(baseEnv(), "CHECKOUT_SESSION_BACKEND", "disk"), field: "Session.Backend"},
		{name: "firestore without project", env: with(baseEnv(), "CHECKOUT_SESSION_BACKEND", "firestore"), field: "Firestore.ProjectID"},
		{name: "inverted bounds", env: with(baseEnv(), "CHECKOUT_MAX_AMOUNT", "10"), field: "Checkout.MaxAmount"},
		{name: "postgres without dsn", env: with(baseEnv(), "CHECKOUT_ORDERS_MODE", "postgres"), field: "Orders.PostgresDSN"},
		{name: "partial gateway a", env: with(baseEnv(), "CHECKOUT_GATEWAY_A_TMN_CODE", "TMN"), field: "Gateways.GatewayA.HashSecret"},
		{name: "auth off outside local", env: with(with(baseEnv(), "CHECKOUT_AUTH_MODE", "none"), "CHECKOUT_ENVIRONMENT", "prod"), field: "Auth.Mode"},
		{name: "poll budget exceeds request timeout", env: with(baseEnv(), "CHECKOUT_POLL_MAX_ATTEMPTS", "10"), field: "Checkout.PollMaxAttempts"},
		{name: "request timeout not below write timeout", env: with(baseEnv(), "CHECKOUT_SERVER_REQUEST_TIMEOUT", "60s"), field: "Server.RequestTimeout"},
		{name: "shrinking poll multiplier", env: with(baseEnv(), "CHECKOUT_POLL_MULTIPLIER", "0.5"), field: "Checkout.PollMultiplier"},
		{name: "firebase auth without project", env: with(baseEnv(), "CHECKOUT_AUTH_MODE", "firebase"), field: "Firebase.ProjectID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, tc.env)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, field := range validation.Fields() {
				if field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s in %v", tc.field, validation.Fields())
			}
		})
	}
}

func TestPollBudgetFollowsBackoff(t *testing.T) {
	cfg := CheckoutConfig{PollInterval: 2 * time.Second, PollMaxInterval: 10 * time.Second, PollMultiplier: 1.5, PollMaxAttempts: 10}
	if got := cfg.PollBudget(); got != 66250*time.Millisecond {
		t.Fatalf("expected 66.25s, got %s", got)
	}
	cfg.PollMaxAttempts = 1
	if got := cfg.PollBudget(); got != 0 {
		t.Fatalf("expected no sleeps for a single attempt, got %s", got)
	}
}

func with(env map[string]string, key, value string) map[string]string {
	env[key] = value
	return env
}

func TestLoadSecretResolverError(t *testing.T) {
	_, err := load(t, with(baseEnv(), "CHECKOUT_CATALOG_SERVICE_TOKEN", "secret://missing"))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "CHECKOUT_FIREBASE_PROJECT_ID=dot-project\nCHECKOUT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("CHECKOUT_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("CHECKOUT_SECRET_PROJECT_ID", "project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"CHECKOUT_FIREBASE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["CHECKOUT_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["CHECKOUT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["CHECKOUT_SECRET_PROJECT_ID"]; got != "project-prod" {
		t.Fatalf("expected system env value, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := load(t, baseEnv(), WithRequiredSecrets("Gateways.GatewayA.HashSecret", "Auth.JWTSecret"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Gateways.GatewayA.HashSecret" {
		t.Fatalf("unexpected missing names %v", got)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("Gateways.GatewayA.HashSecret") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		if _, ok := rec.(*MissingSecretsError); !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
	}()

	_, _ = load(t, baseEnv(), WithRequiredSecrets("Audit.HashSalt"), WithPanicOnMissingSecrets())
}
