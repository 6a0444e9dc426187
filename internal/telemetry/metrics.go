// Package telemetry records pipeline metrics and configures tracing with OpenTelemetry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MeterName is the instrumentation scope of docchat metrics.
const MeterName = "github.com/hyperjump/docchat"

// Metrics holds the pipeline instruments.
type Metrics struct {
	EmbeddingsComputed metric.Int64Counter
	NamespacesReused   metric.Int64Counter
	IngestOutcomes     metric.Int64Counter
	ProviderRetries    metric.Int64Counter
	Questions          metric.Int64Counter
	IngestDuration     metric.Float64Histogram
	AskDuration        metric.Float64Histogram
}

// InitMetrics creates the instruments on the global meter provider. Without an SDK installed
// by the host the instruments are no-ops.
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	embeddings, err := meter.Int64Counter(
		"docchat.embeddings.computed",
		metric.WithDescription("Chunk embeddings computed while indexing"),
	)
	if err != nil {
		return nil, err
	}

	reused, err := meter.Int64Counter(
		"docchat.namespaces.reused",
		metric.WithDescription("Indexing runs that reused an existing namespace"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter(
		"docchat.ingest.outcomes",
		metric.WithDescription("Completed ingest-and-index runs by final state"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"docchat.provider.retries",
		metric.WithDescription("Retries of calls to external providers"),
	)
	if err != nil {
		return nil, err
	}

	questions, err := meter.Int64Counter(
		"docchat.ask.total",
		metric.WithDescription("Questions asked by outcome"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"docchat.ingest.duration",
		metric.WithDescription("Ingest-and-index duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	askDuration, err := meter.Float64Histogram(
		"docchat.ask.duration",
		metric.WithDescription("Question answering duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		EmbeddingsComputed: embeddings,
		NamespacesReused:   reused,
		IngestOutcomes:     outcomes,
		ProviderRetries:    retries,
		Questions:          questions,
		IngestDuration:     ingestDuration,
		AskDuration:        askDuration,
	}, nil
}

// RecordIngest records a finished ingest-and-index run. kind is empty on success.
func (m *Metrics) RecordIngest(ctx context.Context, state, kind string, embeddings int, reused bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("docchat.state", state),
		attribute.String("docchat.error_kind", kind),
	)
	m.IngestOutcomes.Add(ctx, 1, attrs)
	m.IngestDuration.Record(ctx, d.Seconds(), attrs)
	if embeddings > 0 {
		m.EmbeddingsComputed.Add(ctx, int64(embeddings))
	}
	if reused {
		m.NamespacesReused.Add(ctx, 1)
	}
}

// RecordAsk records an answered or failed question. kind is empty on success.
func (m *Metrics) RecordAsk(ctx context.Context, kind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("docchat.error_kind", kind))
	m.Questions.Add(ctx, 1, attrs)
	m.AskDuration.Record(ctx, d.Seconds(), attrs)
}

// RetryNotifier returns a retry.Policy Notify func that counts and logs retries.
func (m *Metrics) RetryNotifier(logger *zap.Logger) func(op string, err error, wait time.Duration) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(op string, err error, wait time.Duration) {
		logger.Warn("retrying provider call", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
		if m != nil {
			m.ProviderRetries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("docchat.op", op)))
		}
	}
}
