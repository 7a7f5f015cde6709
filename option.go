package mailboxer

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/mailboxer/retry"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultTrashRetention  = 30 * 24 * time.Hour // 30 days
	MinTrashRetention      = 24 * time.Hour      // 1 day minimum
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second

	// Default message limits
	DefaultMaxSubjectLength  = 998              // RFC 5322 max line length
	DefaultMaxBodySize       = 1024 * 1024      // 1 MB
	DefaultMaxRecipientCount = 100              // max recipients per delivery
	DefaultMaxAttachmentSize = 25 * 1024 * 1024 // 25 MB

	// Query limits
	DefaultMaxQueryLimit = 100
	DefaultQueryLimit    = 20

	// Email dispatch
	DefaultMaxConcurrentEmails = 10
	DefaultEmailTimeout        = 30 * time.Second

	// Stats cache
	DefaultStatsCacheSize = 10000
	DefaultStatsTTL       = 30 * time.Second

	// DefaultReplyPrefix is prepended to the conversation subject on replies.
	DefaultReplyPrefix = "RE: "
)

// options holds service configuration.
type options struct {
	store       store.Store
	attachments store.AttachmentFileStore
	mailer      Mailer
	directory   Directory
	logger      *slog.Logger

	plugins []Plugin

	trashRetention time.Duration
	limits         MessageLimits

	maxQueryLimit     int
	defaultQueryLimit int

	// Email dispatch
	syncEmail           bool
	maxConcurrentEmails int
	emailTimeout        time.Duration
	emailRetry          retry.Config

	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Stats cache
	statsCacheSize int
	statsTTL       time.Duration

	// Event handling
	eventErrorsFatal      bool
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc

	now func() time.Time
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

func newOptions(opts ...Option) *options {
	o := &options{
		directory:           bareDirectory{},
		logger:              slog.Default(),
		trashRetention:      DefaultTrashRetention,
		limits:              DefaultLimits(),
		maxQueryLimit:       DefaultMaxQueryLimit,
		defaultQueryLimit:   DefaultQueryLimit,
		maxConcurrentEmails: DefaultMaxConcurrentEmails,
		emailTimeout:        DefaultEmailTimeout,
		emailRetry:          retry.DefaultConfig(),
		shutdownTimeout:     DefaultShutdownTimeout,
		statsCacheSize:      DefaultStatsCacheSize,
		statsTTL:            DefaultStatsTTL,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.defaultQueryLimit > o.maxQueryLimit {
		o.defaultQueryLimit = o.maxQueryLimit
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures the service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAttachmentStore sets where message attachments are uploaded.
// Without it, drafts carrying an attachment are rejected.
func WithAttachmentStore(s store.AttachmentFileStore) Option {
	return func(o *options) {
		if s != nil {
			o.attachments = s
		}
	}
}

// WithMailer sets the email transport. Without a mailer no email is sent,
// regardless of participant preferences.
func WithMailer(m Mailer) Option {
	return func(o *options) {
		if m != nil {
			o.mailer = m
		}
	}
}

// WithDirectory sets how stored participant IDs are resolved for replies.
// Default resolves each ID to a bare Profile.
func WithDirectory(d Directory) Option {
	return func(o *options) {
		if d != nil {
			o.directory = d
		}
	}
}

// WithPlugin registers a plugin with the service.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Trash Options ---

// WithTrashRetention sets how long receipts stay in trash before PurgeTrash
// deletes them. Default is 30 days. Minimum is 1 day.
func WithTrashRetention(d time.Duration) Option {
	return func(o *options) {
		if d >= MinTrashRetention {
			o.trashRetention = d
		}
	}
}

// --- Limit Options ---

// WithMaxSubjectLength sets the maximum subject length in bytes.
// Default is 998 (RFC 5322 max line length).
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limits.MaxSubjectLength = n
		}
	}
}

// WithMaxBodySize sets the maximum body size in bytes.
// Default is 1 MB.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limits.MaxBodySize = n
		}
	}
}

// WithMaxRecipients sets the maximum number of recipients per delivery.
// Default is 100.
func WithMaxRecipients(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limits.MaxRecipientCount = n
		}
	}
}

// WithMaxAttachmentSize sets the maximum attachment size in bytes.
// Default is 25 MB.
func WithMaxAttachmentSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.limits.MaxAttachmentSize = n
		}
	}
}

// WithMaxQueryLimit caps the page size of mailbox listings.
// Default is 100.
func WithMaxQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLimit = n
		}
	}
}

// WithDefaultQueryLimit sets the page size used when none is given.
// Default is 20.
func WithDefaultQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultQueryLimit = n
		}
	}
}

// --- Email Options ---

// WithSyncEmail makes Deliver wait for email side effects and report their
// outcome in DeliveryResult.Emails. By default emails are dispatched in the
// background after the delivery is stored.
func WithSyncEmail(sync bool) Option {
	return func(o *options) {
		o.syncEmail = sync
	}
}

// WithMaxConcurrentEmails bounds in-flight email dispatches.
// Default is 10.
func WithMaxConcurrentEmails(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentEmails = n
		}
	}
}

// WithEmailTimeout bounds a single email dispatch including retries.
// Default is 30 seconds.
func WithEmailTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.emailTimeout = d
		}
	}
}

// WithEmailRetry sets the retry policy for email dispatch.
func WithEmailRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.emailRetry = cfg
	}
}

// WithShutdownTimeout sets the maximum time Close waits for in-flight emails.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and event bus names.
// Default is "mailboxer".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Stats Options ---

// WithStatsCache sets the size and TTL of the per-participant stats cache.
// A size of zero disables caching.
func WithStatsCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		if size >= 0 {
			o.statsCacheSize = size
		}
		if ttl > 0 {
			o.statsTTL = ttl
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures fail the
// operation. By default failures are logged and the operation succeeds.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes events to Redis Streams.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// withClock overrides the time source. Used by tests.
func withClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
