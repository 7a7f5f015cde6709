package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultTablePrefix = "mailboxer_"
	DefaultTimeout     = 10 * time.Second
	DefaultPageSize    = 20
)

// options holds PostgreSQL store configuration.
type options struct {
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:  DefaultTablePrefix,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTablePrefix sets the prefix of the four mailboxer tables
// (conversations, messages, notifications, receipts).
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
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

func (o *options) conversations() string { return o.prefix + "conversations" }
func (o *options) messages() string      { return o.prefix + "messages" }
func (o *options) notifications() string { return o.prefix + "notifications" }
func (o *options) receipts() string      { return o.prefix + "receipts" }
