package outbox

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lanepay/lib-dtx/dtx/log"
)

const (
	defaultScanInterval       = time.Second
	defaultBatchSize          = 50
	defaultPublishTimeout     = 5 * time.Second
	defaultPublishMaxAttempts = 1
	defaultPublishBackoff     = 200 * time.Millisecond
)

// RelayConfig controls relay polling, batching, and retry behavior.
type RelayConfig struct {
	// ScanInterval is the periodic interval between scans.
	ScanInterval time.Duration
	// BatchSize bounds how many events one scan processes.
	BatchSize int
	// PublishTimeout bounds each publish call; a timeout counts as a
	// publish failure and marks the event FAILED.
	PublishTimeout time.Duration
	// PublishMaxAttempts is the number of in-scan publish attempts per
	// event before it is marked FAILED.
	PublishMaxAttempts int
	// PublishBackoff is the base backoff between in-scan publish attempts.
	PublishBackoff time.Duration
	// Retry decides whether FAILED events are ever reclaimed.
	Retry RetryPolicy
	// MeterProvider overrides the global meter provider when set.
	MeterProvider metric.MeterProvider
}

// DefaultRelayConfig returns the baseline relay configuration: a one-second
// scan cadence, bounded sequential batches, one publish attempt per event,
// and no FAILED reclamation.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ScanInterval:       defaultScanInterval,
		BatchSize:          defaultBatchSize,
		PublishTimeout:     defaultPublishTimeout,
		PublishMaxAttempts: defaultPublishMaxAttempts,
		PublishBackoff:     defaultPublishBackoff,
		Retry:              DefaultRetryPolicy(),
	}
}

func (cfg *RelayConfig) normalize() {
	defaults := DefaultRelayConfig()

	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaults.ScanInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}

	if cfg.PublishMaxAttempts <= 0 {
		cfg.PublishMaxAttempts = defaults.PublishMaxAttempts
	}

	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = defaults.PublishBackoff
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}

	if cfg.Retry.RetryWindow <= 0 {
		cfg.Retry.RetryWindow = defaults.Retry.RetryWindow
	}
}

// RelayOption mutates relay configuration at construction.
type RelayOption func(*Relay)

// WithScanInterval sets the scan polling interval.
func WithScanInterval(interval time.Duration) RelayOption {
	return func(relay *Relay) {
		if interval > 0 {
			relay.cfg.ScanInterval = interval
		}
	}
}

// WithBatchSize sets the maximum events processed in one scan.
func WithBatchSize(size int) RelayOption {
	return func(relay *Relay) {
		if size > 0 {
			relay.cfg.BatchSize = size
		}
	}
}

// WithPublishTimeout sets the per-publish deadline.
func WithPublishTimeout(timeout time.Duration) RelayOption {
	return func(relay *Relay) {
		if timeout > 0 {
			relay.cfg.PublishTimeout = timeout
		}
	}
}

// WithPublishMaxAttempts sets in-scan publish attempts per event.
func WithPublishMaxAttempts(maxAttempts int) RelayOption {
	return func(relay *Relay) {
		if maxAttempts > 0 {
			relay.cfg.PublishMaxAttempts = maxAttempts
		}
	}
}

// WithPublishBackoff sets base backoff between in-scan publish attempts.
func WithPublishBackoff(base time.Duration) RelayOption {
	return func(relay *Relay) {
		if base > 0 {
			relay.cfg.PublishBackoff = base
		}
	}
}

// WithRetryPolicy sets the FAILED reclamation policy.
func WithRetryPolicy(policy RetryPolicy) RelayOption {
	return func(relay *Relay) {
		if policy.MaxAttempts > 0 {
			relay.cfg.Retry = policy
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger log.Logger) RelayOption {
	return func(relay *Relay) {
		if logger != nil {
			relay.logger = logger
		}
	}
}

// WithTracer sets the tracer used for scan spans.
func WithTracer(tracer trace.Tracer) RelayOption {
	return func(relay *Relay) {
		if tracer != nil {
			relay.tracer = tracer
		}
	}
}

// WithMeterProvider injects a custom meter provider for relay metrics.
func WithMeterProvider(provider metric.MeterProvider) RelayOption {
	return func(relay *Relay) {
		relay.cfg.MeterProvider = provider
	}
}
