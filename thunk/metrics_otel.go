package thunk

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter               metric.Meter
	collectiveStarted   metric.Int64Counter
	collectiveCompleted metric.Int64Counter
	collectiveFailed    metric.Int64Counter
	bindFailed          metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/collectives-go/thunk"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	collectiveStarted, err := meter.Int64Counter("collectives.thunk.started")
	if err != nil {
		return nil, err
	}
	collectiveCompleted, err := meter.Int64Counter("collectives.thunk.completed")
	if err != nil {
		return nil, err
	}
	collectiveFailed, err := meter.Int64Counter("collectives.thunk.failed")
	if err != nil {
		return nil, err
	}
	bindFailed, err := meter.Int64Counter("collectives.thunk.bind_failed")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		meter:               meter,
		collectiveStarted:   collectiveStarted,
		collectiveCompleted: collectiveCompleted,
		collectiveFailed:    collectiveFailed,
		bindFailed:          bindFailed,
	}, nil
}

// CollectiveStarted records that a thunk execution was submitted.
func (o *OTelMetrics) CollectiveStarted(attrs map[string]string) {
	o.collectiveStarted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// CollectiveCompleted records a successful thunk completion.
func (o *OTelMetrics) CollectiveCompleted(attrs map[string]string) {
	o.collectiveCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// CollectiveFailed records a thunk execution that resolved with an error.
func (o *OTelMetrics) CollectiveFailed(_ error, attrs map[string]string) {
	o.collectiveFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithReason(attrs)...))
}

// BindFailed records a communicator binding failure.
func (o *OTelMetrics) BindFailed(_ error, attrs map[string]string) {
	o.bindFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithReason(attrs)...))
}

func otelAttrs(attrs map[string]string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(labelKind, attrs[labelKind]),
		attribute.String(labelOp, attrs[labelOp]),
	}
	if v := attrs[labelModule]; v != "" {
		kvs = append(kvs, attribute.String(labelModule, v))
	}
	return kvs
}

func otelAttrsWithReason(attrs map[string]string) []attribute.KeyValue {
	kvs := otelAttrs(attrs)
	if v := attrs[labelReason]; v != "" {
		kvs = append(kvs, attribute.String(labelReason, v))
	}
	return kvs
}
