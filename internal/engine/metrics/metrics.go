// Package metrics defines the OpenTelemetry instruments recorded during a sync.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics defines metrics operations needed by the sync engine.
type SyncMetrics interface {
	// Stream metrics
	TrackStream(ctx context.Context, stream string, f func() error) error
	IncRecordsEmitted(ctx context.Context, stream string, n int)
	IncPagesFetched(ctx context.Context, stream string)

	// Transport metrics
	IncRetries(ctx context.Context, wait time.Duration)

	// Checkpoint metrics
	IncStateEmitted(ctx context.Context)
}

// Tap implements SyncMetrics.
type Tap struct {
	// Stream metrics
	activeStreams  metric.Int64UpDownCounter
	streamDuration metric.Float64Histogram
	streamErrors   metric.Int64Counter
	recordsEmitted metric.Int64Counter
	pagesFetched   metric.Int64Counter

	// Transport metrics
	retries      metric.Int64Counter
	retryBackoff metric.Float64Histogram

	// Checkpoint metrics
	stateEmitted metric.Int64Counter
}

const namespace = "tap_persistiq"

// New creates a new Tap metrics instance.
func New(mp metric.MeterProvider) (*Tap, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	t := new(Tap)
	var err error

	if t.activeStreams, err = meter.Int64UpDownCounter(
		"active_streams",
		metric.WithDescription("Number of streams currently syncing"),
	); err != nil {
		return nil, err
	}

	if t.streamDuration, err = meter.Float64Histogram(
		"stream_sync_duration_seconds",
		metric.WithDescription("Time taken to sync one stream"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if t.streamErrors, err = meter.Int64Counter(
		"stream_errors_total",
		metric.WithDescription("Total number of streams that ended in a fatal error"),
	); err != nil {
		return nil, err
	}

	if t.recordsEmitted, err = meter.Int64Counter(
		"records_emitted_total",
		metric.WithDescription("Total number of records written to the sink"),
	); err != nil {
		return nil, err
	}

	if t.pagesFetched, err = meter.Int64Counter(
		"pages_fetched_total",
		metric.WithDescription("Total number of API pages fetched"),
	); err != nil {
		return nil, err
	}

	if t.retries, err = meter.Int64Counter(
		"request_retries_total",
		metric.WithDescription("Total number of retried API requests"),
	); err != nil {
		return nil, err
	}

	if t.retryBackoff, err = meter.Float64Histogram(
		"request_retry_backoff_seconds",
		metric.WithDescription("Backoff delay before each retry"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if t.stateEmitted, err = meter.Int64Counter(
		"state_messages_total",
		metric.WithDescription("Total number of checkpoint states emitted"),
	); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Tap) TrackStream(ctx context.Context, stream string, f func() error) error {
	attrs := metric.WithAttributes(attribute.String("stream", stream))

	t.activeStreams.Add(ctx, 1, attrs)
	start := time.Now()

	err := f()

	t.streamDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	t.activeStreams.Add(ctx, -1, attrs)
	if err != nil {
		t.streamErrors.Add(ctx, 1, attrs)
	}
	return err
}

func (t *Tap) IncRecordsEmitted(ctx context.Context, stream string, n int) {
	t.recordsEmitted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stream", stream)))
}

func (t *Tap) IncPagesFetched(ctx context.Context, stream string) {
	t.pagesFetched.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}

func (t *Tap) IncRetries(ctx context.Context, wait time.Duration) {
	t.retries.Add(ctx, 1)
	t.retryBackoff.Record(ctx, wait.Seconds())
}

func (t *Tap) IncStateEmitted(ctx context.Context) {
	t.stateEmitted.Add(ctx, 1)
}
