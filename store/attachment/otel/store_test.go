package otel

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/attachment/memory"
)

func TestStoreForwards(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	s, err := New(backend, WithServiceName("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Unwrap() != backend {
		t.Fatal("Unwrap should return the backend")
	}

	uri, err := s.Upload(ctx, "notes.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if backend.Len() != 1 {
		t.Fatalf("expected backend to hold 1 object, got %d", backend.Len())
	}

	rc, err := s.Load(ctx, uri)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}
	if err := rc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := s.Delete(ctx, uri); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, uri); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreDisabled(t *testing.T) {
	s, err := New(memory.New(), WithTracing(false), WithMetrics(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.tracer != nil {
		t.Error("tracer should be nil when tracing is disabled")
	}
	if _, err := s.Upload(context.Background(), "a.bin", "application/octet-stream", strings.NewReader("x")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}
