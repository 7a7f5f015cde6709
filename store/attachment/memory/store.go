// Package memory provides an in-memory attachment file store for tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/attachment"
)

const scheme = "mem"

// Store keeps attachment content in memory.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

var _ store.AttachmentFileStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// Upload stores content and returns a mem://attachments/key URI.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	uri := attachment.FormatURI(scheme, "attachments", attachment.ObjectKey("", filename))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[uri] = data
	s.types[uri] = contentType
	return uri, nil
}

// Load returns a reader over the stored content.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[uri]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the content. Missing URIs are ignored.
func (s *Store) Delete(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, uri)
	delete(s.types, uri)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ContentType returns the content type recorded for uri.
func (s *Store) ContentType(uri string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[uri]
}
