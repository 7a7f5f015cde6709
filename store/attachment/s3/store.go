// Package s3 stores mailboxer message attachments in Amazon S3 or an
// S3-compatible service.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/attachment"
)

const scheme = "s3"

// Store implements store.AttachmentFileStore using AWS S3.
type Store struct {
	client *s3.Client
	tm     *transfermanager.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ store.AttachmentFileStore = (*Store)(nil)

// New creates a new S3 attachment store.
// The context is used for credential loading only.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if o.bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	awsCfg, err := loadConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.usePathStyle
		}
	})

	return &Store{
		client: client,
		tm:     transfermanager.New(client),
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func loadConfig(ctx context.Context, o *options) (aws.Config, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)))
	case o.roleARN != "":
		base, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			newAssumeRoleProvider(base, o.roleARN, o.roleSessionName, o.externalID)))
	}

	return config.LoadDefaultConfig(ctx, loadOpts...)
}

// Upload streams content to S3 and returns an s3://bucket/key URI.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	key := attachment.ObjectKey(s.prefix, filename)

	_, err := s.tm.UploadObject(ctx, &transfermanager.UploadObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               content,
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": filename})),
	})
	if err != nil {
		return "", fmt.Errorf("s3: upload %s: %w", key, err)
	}

	s.logger.Debug("uploaded attachment", "bucket", s.bucket, "key", key)
	return attachment.FormatURI(scheme, s.bucket, key), nil
}

// Load returns the object body. The caller closes it.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := attachment.ParseURI(scheme, uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := attachment.ParseURI(scheme, uri)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}

	s.logger.Debug("deleted attachment", "bucket", bucket, "key", key)
	return nil
}
