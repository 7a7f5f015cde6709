// Package otel instruments a store.AttachmentFileStore with OpenTelemetry.
package otel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rbaliyan/mailboxer/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/mailboxer/store/attachment/otel"

// Operation names used for span names and the "attachment.op" attribute.
const (
	OpUpload = "upload"
	OpLoad   = "load"
	OpDelete = "delete"
)

// Store wraps an AttachmentFileStore with spans and metrics.
type Store struct {
	backend store.AttachmentFileStore
	opts    *options
	tracer  trace.Tracer

	latency metric.Float64Histogram
	bytes   metric.Int64Counter
	errors  metric.Int64Counter
}

var _ store.AttachmentFileStore = (*Store)(nil)

// New wraps backend.
func New(backend store.AttachmentFileStore, opts ...Option) (*Store, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "mailboxer",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{backend: backend, opts: o}
	if o.tracingEnabled {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		meter := o.meterProvider.Meter(instrumentationName)
		var err error
		if s.latency, err = meter.Float64Histogram("attachment.operation.duration",
			metric.WithDescription("Duration of attachment store operations"),
			metric.WithUnit("s")); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		if s.bytes, err = meter.Int64Counter("attachment.bytes",
			metric.WithDescription("Bytes moved through the attachment store"),
			metric.WithUnit("By")); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		if s.errors, err = meter.Int64Counter("attachment.errors",
			metric.WithDescription("Failed attachment store operations")); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

// Unwrap returns the wrapped store.
func (s *Store) Unwrap() store.AttachmentFileStore { return s.backend }

func (s *Store) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	attrs = append(attrs, attribute.String("service.name", s.opts.serviceName))
	return s.tracer.Start(ctx, "attachment."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (s *Store) finish(ctx context.Context, span trace.Span, op string, start time.Time, n int64, err error) {
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int64("attachment.bytes", n))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
	if !s.opts.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("attachment.op", op),
		attribute.String("service.name", s.opts.serviceName),
	)
	s.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	if n > 0 {
		s.bytes.Add(ctx, n, attrs)
	}
	if err != nil {
		s.errors.Add(ctx, 1, attrs)
	}
}

// Upload forwards to the backend and counts uploaded bytes.
func (s *Store) Upload(ctx context.Context, filename, contentType string, content io.Reader) (string, error) {
	ctx, span := s.start(ctx, OpUpload,
		attribute.String("attachment.filename", filename),
		attribute.String("attachment.content_type", contentType),
	)
	start := time.Now()
	cr := &countingReader{r: content}
	uri, err := s.backend.Upload(ctx, filename, contentType, cr)
	if span != nil && err == nil {
		span.SetAttributes(attribute.String("attachment.uri", uri))
	}
	s.finish(ctx, span, OpUpload, start, cr.n, err)
	return uri, err
}

// Load forwards to the backend. The span and byte count complete when the
// returned reader is closed.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	ctx, span := s.start(ctx, OpLoad, attribute.String("attachment.uri", uri))
	start := time.Now()
	rc, err := s.backend.Load(ctx, uri)
	if err != nil {
		s.finish(ctx, span, OpLoad, start, 0, err)
		return nil, err
	}
	return &instrumentedReader{
		ReadCloser: rc,
		done: func(n int64, err error) {
			s.finish(ctx, span, OpLoad, start, n, err)
		},
	}, nil
}

// Delete forwards to the backend.
func (s *Store) Delete(ctx context.Context, uri string) error {
	ctx, span := s.start(ctx, OpDelete, attribute.String("attachment.uri", uri))
	start := time.Now()
	err := s.backend.Delete(ctx, uri)
	s.finish(ctx, span, OpDelete, start, 0, err)
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type instrumentedReader struct {
	io.ReadCloser
	n    int64
	err  error
	once sync.Once
	done func(n int64, err error)
}

func (r *instrumentedReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

func (r *instrumentedReader) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(func() {
		if r.err == nil {
			r.err = err
		}
		r.done(r.n, r.err)
	})
	return err
}
