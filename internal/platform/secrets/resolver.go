// Package secrets resolves secret:// references against Google Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
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
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/wearwise/checkout/internal/platform/secrets"
)

var clientFactory = func(ctx context.Context, opts ...option.ClientOption) (smClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type smClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver fetches secrets with a time-bounded cache. Gateway hash secrets rotate, so
// cached values expire rather than living for the process lifetime.
type Resolver struct {
	client     smClient
	ownsClient bool
	project    string
	cacheTTL   time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cached
	group singleflight.Group

	lookups metric.Int64Counter
	latency metric.Float64Histogram
}

type cached struct {
	value     string
	expiresAt time.Time
}

type options struct {
	client       smClient
	clientOpts   []option.ClientOption
	project      string
	cacheTTL     time.Duration
	fallbackPath string
	logger       *zap.Logger
	meter        metric.Meter
	clock        func() time.Time
}

// Option customises Resolver construction.
type Option func(*options)

// WithProject sets the Google Cloud project holding the secrets.
func WithProject(projectID string) Option {
	return func(o *options) { o.project = strings.TrimSpace(projectID) }
}

// WithClient injects a Secret Manager client.
func WithClient(client smClient) Option {
	return func(o *options) { o.client = client }
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithCacheTTL overrides how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cacheTTL = ttl }
}

// WithFallbackFile points at a local key=value file used when Secret Manager is unreachable.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithClock overrides the clock used for cache expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewResolver builds a Resolver. A missing Secret Manager client is not fatal; resolution then
// relies on the fallback file only.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	o := options{
		cacheTTL:     defaultCacheTTL,
		fallbackPath: defaultFallbackPath,
		logger:       zap.NewNop(),
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	meter := o.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	r := &Resolver{
		client:       o.client,
		project:      o.project,
		cacheTTL:     o.cacheTTL,
		now:          o.clock,
		logger:       o.logger,
		fallbackPath: o.fallbackPath,
		cache:        make(map[string]cached),
	}

	var err error
	if r.lookups, err = meter.Int64Counter("secrets.lookups",
		metric.WithDescription("Secret lookups by source")); err != nil {
		return nil, fmt.Errorf("secrets: register lookup counter: %w", err)
	}
	if r.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of Secret Manager fetches")); err != nil {
		return nil, fmt.Errorf("secrets: register latency histogram: %w", err)
	}

	if r.client == nil && r.project != "" {
		client, err := clientFactory(ctx, o.clientOpts...)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// EnvOptions derives resolver options from CHECKOUT_SECRET_* values in env. The project
// falls back to the Firebase project.
func EnvOptions(env map[string]string) []Option {
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }
	project := lookup("CHECKOUT_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("CHECKOUT_FIREBASE_PROJECT_ID")
	}
	opts := []Option{WithProject(project)}
	if path := lookup("CHECKOUT_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, WithFallbackFile(path))
	}
	if ttl, err := time.ParseDuration(lookup("CHECKOUT_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, WithCacheTTL(ttl))
	}
	if credentials := lookup("CHECKOUT_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return opts
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.canonical + "#" + parsed.version

	if value, ok := r.cached(key); ok {
		r.count(ctx, "cache", parsed)
		return value, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if value, ok := r.cached(key); ok {
			return value, nil
		}
		value, source, err := r.fetch(ctx, parsed)
		if err != nil {
			return "", err
		}
		r.count(ctx, source, parsed)
		r.mu.Lock()
		r.cache[key] = cached{value: value, expiresAt: r.now().Add(r.cacheTTL)}
		r.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops any cached value for ref.
func (r *Resolver) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, parsed.canonical+"#"+parsed.version)
	r.mu.Unlock()
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if !ok || (r.cacheTTL > 0 && !r.now().Before(entry.expiresAt)) {
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) fetch(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = r.project
	}
	if r.client != nil && project != "" {
		start := time.Now()
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.secret, ref.version)
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		r.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond))
		switch {
		case err == nil && resp.GetPayload() != nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case err == nil:
			return "", "", fmt.Errorf("secrets: empty payload for %s", ref.canonical)
		case !fallbackEligible(err):
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref.canonical, err)
		}
		r.logger.Debug("secrets: falling back to local file", zap.String("secret", mask(ref.canonical)), zap.Error(err))
	}

	value, ok, err := r.lookupFallback(ref)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("secrets: no value for %s", ref.canonical)
	}
	return value, "fallback", nil
}

func (r *Resolver) lookupFallback(ref reference) (string, bool, error) {
	r.fallbackOnce.Do(r.loadFallback)
	if r.fallbackErr != nil {
		return "", false, r.fallbackErr
	}
	if value, ok := r.fallback[ref.canonical+"#"+ref.version]; ok {
		return value, true, nil
	}
	value, ok := r.fallback[ref.canonical]
	return value, ok, nil
}

func (r *Resolver) loadFallback() {
	r.fallback = map[string]string{}
	if r.fallbackPath == "" {
		return
	}
	path, err := filepath.Abs(r.fallbackPath)
	if err != nil {
		path = r.fallbackPath
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		r.fallbackErr = fmt.Errorf("secrets: open fallback file: %w", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if strings.HasPrefix(key, "sm://") {
			key = "secret://" + strings.TrimPrefix(key, "sm://")
		}
		value = strings.TrimSpace(value)
		parsed, err := parseReference(key)
		if err != nil {
			r.fallback[key] = value
			continue
		}
		r.fallback[parsed.canonical] = value
		r.fallback[parsed.canonical+"#"+parsed.version] = value
	}
	if err := scanner.Err(); err != nil {
		r.fallbackErr = fmt.Errorf("secrets: read fallback file: %w", err)
	}
}

func (r *Resolver) count(ctx context.Context, source string, ref reference) {
	r.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("secret", mask(ref.canonical)),
	))
}

type reference struct {
	canonical string
	secret    string
	version   string
	project   string
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""
	return reference{
		canonical: canonical.String(),
		secret:    strings.ReplaceAll(name, "/", "-"),
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func mask(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}
