package store

import (
	"context"
	"io"
)

// AttachmentFileStore handles the actual file storage operations.
// Implementations exist for S3, GCS and memory.
type AttachmentFileStore interface {
	// Upload stores content and returns a URI for later retrieval.
	Upload(ctx context.Context, filename, contentType string, content io.Reader) (uri string, err error)

	// Load returns a reader for the attachment content.
	// Caller is responsible for closing the reader.
	// Returns ErrNotFound if nothing is stored under uri.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the attachment file from storage.
	Delete(ctx context.Context, uri string) error
}
