package mailboxer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailboxer"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	deliverLatency metric.Float64Histogram
	deliverCount   metric.Int64Counter
	deliverErrors  metric.Int64Counter

	queryLatency metric.Float64Histogram
	queryErrors  metric.Int64Counter

	updateLatency metric.Float64Histogram
	updateChanged metric.Int64Counter
	updateErrors  metric.Int64Counter

	emailSent   metric.Int64Counter
	emailFailed metric.Int64Counter

	purged metric.Int64Counter
}

func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}

	o.deliverLatency = histogram("mailboxer.deliver.duration", "Duration of deliveries")
	o.deliverCount = counter("mailboxer.deliver.count", "Number of deliveries")
	o.deliverErrors = counter("mailboxer.deliver.errors", "Number of failed deliveries")

	o.queryLatency = histogram("mailboxer.query.duration", "Duration of mailbox queries")
	o.queryErrors = counter("mailboxer.query.errors", "Number of failed mailbox queries")

	o.updateLatency = histogram("mailboxer.update.duration", "Duration of receipt state changes")
	o.updateChanged = counter("mailboxer.update.changed", "Number of receipts whose state changed")
	o.updateErrors = counter("mailboxer.update.errors", "Number of failed receipt state changes")

	o.emailSent = counter("mailboxer.email.sent", "Number of emails sent")
	o.emailFailed = counter("mailboxer.email.failed", "Number of emails that failed after retries")

	o.purged = counter("mailboxer.trash.purged", "Number of receipts deleted from trash")

	return err
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span, recording err when non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (o *otelInstrumentation) recordDeliver(ctx context.Context, duration time.Duration, kind string, recipientCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int("recipient_count", recipientCount),
	)
	o.deliverLatency.Record(ctx, duration.Seconds(), attrs)
	o.deliverCount.Add(ctx, 1, attrs)
	if err != nil {
		o.deliverErrors.Add(ctx, 1, attrs)
	}
}

func (o *otelInstrumentation) recordQuery(ctx context.Context, duration time.Duration, mailbox string, err error) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mailbox", mailbox))
	o.queryLatency.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		o.queryErrors.Add(ctx, 1, attrs)
	}
}

func (o *otelInstrumentation) recordUpdate(ctx context.Context, duration time.Duration, operation string, changed int64, err error) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	o.updateLatency.Record(ctx, duration.Seconds(), attrs)
	o.updateChanged.Add(ctx, changed, attrs)
	if err != nil {
		o.updateErrors.Add(ctx, 1, attrs)
	}
}

func (o *otelInstrumentation) recordEmail(ctx context.Context, kind string, err error) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if err != nil {
		o.emailFailed.Add(ctx, 1, attrs)
		return
	}
	o.emailSent.Add(ctx, 1, attrs)
}

func (o *otelInstrumentation) recordPurge(ctx context.Context, n int64) {
	if !o.metricsEnabled {
		return
	}
	o.purged.Add(ctx, n)
}
