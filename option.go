package mailsync

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/mailsync/provider"
	"github.com/rbaliyan/mailsync/resolver"
	"github.com/rbaliyan/mailsync/retry"
	"github.com/rbaliyan/mailsync/store"
)

// Defaults.
const (
	DefaultPageSize           = 50
	DefaultCacheTTL           = time.Hour
	DefaultSearchCacheTTL     = 10 * time.Minute
	DefaultMaxConcurrentSyncs = 4
	DefaultShutdownTimeout    = 30 * time.Second
)

type options struct {
	store    store.DocStore
	cache    store.Cache
	provider provider.Provider
	tokens   resolver.TokenResolver

	logger      *slog.Logger
	serviceName string

	pageSize           int
	cacheTTL           time.Duration
	searchCacheTTL     time.Duration
	maxConcurrentSyncs int
	shutdownTimeout    time.Duration
	retry              retry.Config

	tracingEnabled bool
	metricsEnabled bool
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	eventTransport transport.Transport
	redisClient    redis.UniversalClient
}

// Option configures the service.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		logger:             slog.Default(),
		serviceName:        "mailsync",
		pageSize:           DefaultPageSize,
		cacheTTL:           DefaultCacheTTL,
		searchCacheTTL:     DefaultSearchCacheTTL,
		maxConcurrentSyncs: DefaultMaxConcurrentSyncs,
		shutdownTimeout:    DefaultShutdownTimeout,
		retry:              retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithStore sets the durable document store. Required.
func WithStore(s store.DocStore) Option {
	return func(o *options) { o.store = s }
}

// WithCache sets the cache layer. Optional; without it every read
// hits the durable store.
func WithCache(c store.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithProvider sets the remote mailbox provider. Required.
func WithProvider(p provider.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithTokenResolver sets the per-user access token source. Required.
func WithTokenResolver(r resolver.TokenResolver) Option {
	return func(o *options) { o.tokens = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithServiceName sets the name used for event bus and telemetry
// identification.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithPageSize sets the default page size for listings and sync
// fetches.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithCacheTTL sets the TTL for cached documents.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithSearchCacheTTL sets the TTL for cached search results.
func WithSearchCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.searchCacheTTL = ttl
		}
	}
}

// WithMaxConcurrentSyncs bounds how many mailbox syncs run at once.
func WithMaxConcurrentSyncs(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSyncs = n
		}
	}
}

// WithShutdownTimeout bounds how long Close waits for running syncs.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithRetry sets the retry policy for provider calls made during
// sync.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithTracing enables OpenTelemetry tracing.
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracingEnabled = enabled }
}

// WithMetrics enables OpenTelemetry metrics.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metricsEnabled = enabled }
}

// WithTracerProvider sets the tracer provider. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithEventTransport sets a custom event transport.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) { o.eventTransport = t }
}

// WithEventRedis publishes events over Redis, letting multiple
// processes share the bus.
func WithEventRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}
