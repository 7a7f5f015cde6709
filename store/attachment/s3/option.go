package s3

import (
	"log/slog"
)

// Default configuration values.
const (
	DefaultRegion      = "us-east-1"
	DefaultPrefix      = "mailboxer/attachments"
	DefaultSessionName = "mailboxer-attachments"
)

// options holds S3 store configuration.
type options struct {
	bucket string
	prefix string
	region string

	// Custom endpoint (for S3-compatible services like MinIO)
	endpoint     string
	usePathStyle bool

	// Static credentials
	accessKey    string
	secretKey    string
	sessionToken string

	// IAM role assumption
	roleARN         string
	roleSessionName string
	externalID      string

	logger *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		region: DefaultRegion,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the S3 store.
type Option func(*options)

// WithBucket sets the S3 bucket name (required).
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix sets the key prefix for attachments.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

// WithEndpoint sets a custom endpoint for S3-compatible services (MinIO, LocalStack).
// usePathStyle enables path-style addressing, which most of them require.
func WithEndpoint(endpoint string, usePathStyle bool) Option {
	return func(o *options) {
		o.endpoint = endpoint
		o.usePathStyle = usePathStyle
	}
}

// WithStaticCredentials sets static credentials. sessionToken may be empty.
// Without any credential option the SDK default chain is used
// (environment, shared config, EC2/ECS roles, IRSA).
func WithStaticCredentials(accessKey, secretKey, sessionToken string) Option {
	return func(o *options) {
		o.accessKey = accessKey
		o.secretKey = secretKey
		o.sessionToken = sessionToken
	}
}

// WithAssumeRole configures STS role assumption on top of the default chain.
// externalID may be empty.
func WithAssumeRole(roleARN, sessionName, externalID string) Option {
	return func(o *options) {
		o.roleARN = roleARN
		o.roleSessionName = sessionName
		if o.roleSessionName == "" {
			o.roleSessionName = DefaultSessionName
		}
		o.externalID = externalID
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
