package smtp

import (
	"log/slog"
	"net/mail"
)

// Default configuration values.
const (
	DefaultAddr     = "localhost:25"
	DefaultFromName = "Mailboxer"
	DefaultHostname = "mailboxer.local"
)

type options struct {
	addr        string
	from        mail.Address
	username    string
	password    string
	implicitTLS bool
	hostname    string
	logger      *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		addr:     DefaultAddr,
		from:     mail.Address{Name: DefaultFromName},
		hostname: DefaultHostname,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the SMTP mailer.
type Option func(*options)

// WithAddr sets the submission server as host:port.
func WithAddr(addr string) Option {
	return func(o *options) {
		if addr != "" {
			o.addr = addr
		}
	}
}

// WithFrom sets the envelope sender and From header.
func WithFrom(address, name string) Option {
	return func(o *options) {
		o.from = mail.Address{Name: name, Address: address}
	}
}

// WithPlainAuth enables SASL PLAIN authentication.
func WithPlainAuth(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithImplicitTLS connects over TLS instead of upgrading with STARTTLS.
func WithImplicitTLS() Option {
	return func(o *options) {
		o.implicitTLS = true
	}
}

// WithHostname sets the domain used in generated Message-IDs.
func WithHostname(h string) Option {
	return func(o *options) {
		if h != "" {
			o.hostname = h
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
