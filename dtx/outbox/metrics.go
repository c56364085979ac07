package outbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lib-dtx/outbox"

type relayMetrics struct {
	queueDepth  metric.Int64Histogram
	eventsSent  metric.Int64Counter
	eventsFail  metric.Int64Counter
	stateFailed metric.Int64Counter
	scanLatency metric.Float64Histogram
}

func newRelayMetrics(provider metric.MeterProvider) (relayMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)

	var (
		metrics relayMetrics
		err     error
	)

	metrics.queueDepth, err = meter.Int64Histogram(
		"outbox.scan.queue_depth",
		metric.WithDescription("Events collected per relay scan"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("queue depth instrument: %w", err)
	}

	metrics.eventsSent, err = meter.Int64Counter(
		"outbox.events.sent",
		metric.WithDescription("Events published and marked SENT"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("sent counter: %w", err)
	}

	metrics.eventsFail, err = meter.Int64Counter(
		"outbox.events.failed",
		metric.WithDescription("Events whose publish failed and were marked FAILED"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("failed counter: %w", err)
	}

	metrics.stateFailed, err = meter.Int64Counter(
		"outbox.events.state_update_failed",
		metric.WithDescription("Events published but whose SENT state could not be persisted"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("state update counter: %w", err)
	}

	metrics.scanLatency, err = meter.Float64Histogram(
		"outbox.scan.duration_seconds",
		metric.WithDescription("Relay scan duration in seconds"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("scan latency instrument: %w", err)
	}

	return metrics, nil
}

func (m relayMetrics) recordQueueDepth(ctx context.Context, depth int64) {
	if m.queueDepth != nil {
		m.queueDepth.Record(ctx, depth)
	}
}

func (m relayMetrics) addSent(ctx context.Context, count int64) {
	if m.eventsSent != nil && count > 0 {
		m.eventsSent.Add(ctx, count)
	}
}

func (m relayMetrics) addFailed(ctx context.Context, count int64) {
	if m.eventsFail != nil && count > 0 {
		m.eventsFail.Add(ctx, count)
	}
}

func (m relayMetrics) addStateUpdateFailed(ctx context.Context, count int64) {
	if m.stateFailed != nil && count > 0 {
		m.stateFailed.Add(ctx, count)
	}
}

func (m relayMetrics) recordScanLatency(ctx context.Context, seconds float64) {
	if m.scanLatency != nil {
		m.scanLatency.Record(ctx, seconds)
	}
}
