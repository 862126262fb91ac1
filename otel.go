package mailsync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/mailsync"

// otelInstrumentation holds OpenTelemetry instrumentation for the
// sync engine.
type otelInstrumentation struct {
	enabled bool

	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool

	// Sync runs
	syncDuration metric.Float64Histogram
	syncCount    metric.Int64Counter
	syncErrors   metric.Int64Counter
	syncEmails   metric.Int64Counter

	// Mailbox operations
	opDuration metric.Float64Histogram
	opCount    metric.Int64Counter
	opErrors   metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from
// options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
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

	o.syncDuration, err = meter.Float64Histogram(
		"mailsync.sync.duration",
		metric.WithDescription("Duration of mailbox sync runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.syncCount, err = meter.Int64Counter(
		"mailsync.sync.count",
		metric.WithDescription("Number of mailbox sync runs"),
	)
	if err != nil {
		return err
	}

	o.syncErrors, err = meter.Int64Counter(
		"mailsync.sync.errors",
		metric.WithDescription("Number of failed mailbox sync runs"),
	)
	if err != nil {
		return err
	}

	o.syncEmails, err = meter.Int64Counter(
		"mailsync.sync.emails",
		metric.WithDescription("Number of emails indexed by sync runs"),
	)
	if err != nil {
		return err
	}

	o.opDuration, err = meter.Float64Histogram(
		"mailsync.op.duration",
		metric.WithDescription("Duration of mailbox operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.opCount, err = meter.Int64Counter(
		"mailsync.op.count",
		metric.WithDescription("Number of mailbox operations"),
	)
	if err != nil {
		return err
	}

	o.opErrors, err = meter.Int64Counter(
		"mailsync.op.errors",
		metric.WithDescription("Number of failed mailbox operations"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled. Caller invokes
// the returned function with the operation's final error.
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

// recordSync records metrics for one sync run.
func (o *otelInstrumentation) recordSync(ctx context.Context, duration time.Duration, emailCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	o.syncDuration.Record(ctx, duration.Seconds())
	o.syncCount.Add(ctx, 1)
	o.syncEmails.Add(ctx, int64(emailCount))
	if err != nil {
		o.syncErrors.Add(ctx, 1)
	}
}

// recordOp records metrics for one mailbox operation.
func (o *otelInstrumentation) recordOp(ctx context.Context, operation string, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
	)

	o.opDuration.Record(ctx, duration.Seconds(), attrs)
	o.opCount.Add(ctx, 1, attrs)
	if err != nil {
		o.opErrors.Add(ctx, 1, attrs)
	}
}
