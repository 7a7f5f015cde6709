// Package gcs stores mailboxer message attachments in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/attachment"
	"google.golang.org/api/option"
)

const (
	scheme    = "gs"
	storageRW = "https://www.googleapis.com/auth/devstorage.read_write"
)

// Store implements store.AttachmentFileStore using Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ store.AttachmentFileStore = (*Store)(nil)

// New creates a new GCS attachment store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if o.bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}

	clientOpts, err := clientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("gcs: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}

	return &Store{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func clientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil || o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{storageRW},
			CredentialsJSON: o.credentialsJSON,
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Upload writes content to a new object and returns a gs://bucket/name URI.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	key := attachment.ObjectKey(s.prefix, filename)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentDisposition = mime.FormatMediaType("attachment", map[string]string{"filename": filename})

	if _, err := io.Copy(w, content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", key, err)
	}

	s.logger.Debug("uploaded attachment", "bucket", s.bucket, "key", key)
	return attachment.FormatURI(scheme, s.bucket, key), nil
}

// Load returns a reader for the object. The caller closes it.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := attachment.ParseURI(scheme, uri)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("gcs: read %s: %w", key, err)
	}
	return r, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := attachment.ParseURI(scheme, uri)
	if err != nil {
		return err
	}

	if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %s: %w", key, err)
	}

	s.logger.Debug("deleted attachment", "bucket", bucket, "key", key)
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
