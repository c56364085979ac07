package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lanepay/lib-dtx/dtx"
	"github.com/lanepay/lib-dtx/dtx/backoff"
	"github.com/lanepay/lib-dtx/dtx/log"
	"github.com/lanepay/lib-dtx/dtx/runtime"
)

// Relay polls the store for pending events and publishes them through the
// configured Publisher.
type Relay struct {
	store     Store
	publisher Publisher
	logger    log.Logger
	tracer    trace.Tracer
	cfg       RelayConfig

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	scanWg     sync.WaitGroup

	metrics relayMetrics
}

var _ dtx.App = (*Relay)(nil)

// ScanResult captures one relay scan outcome.
type ScanResult struct {
	Processed         int
	Sent              int
	Failed            int
	StateUpdateFailed int
}

// NewRelay creates an outbox relay over the given store and publisher.
func NewRelay(store Store, publisher Publisher, opts ...RelayOption) (*Relay, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	relay := &Relay{
		store:     store,
		publisher: publisher,
		logger:    log.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer("dtx.noop"),
		cfg:       DefaultRelayConfig(),
		stop:      make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(relay)
		}
	}

	relay.cfg.normalize()

	metrics, err := newRelayMetrics(relay.cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox metrics: %w", err)
	}

	relay.metrics = metrics

	return relay, nil
}

// Run starts the relay loop until Stop is called.
func (relay *Relay) Run(launcher *dtx.Launcher) error {
	return relay.RunContext(context.Background(), launcher)
}

// RunContext starts the relay loop until Stop is called or ctx is cancelled.
func (relay *Relay) RunContext(parentCtx context.Context, launcher *dtx.Launcher) error {
	if relay == nil || relay.store == nil || relay.publisher == nil {
		return ErrRelayRequired
	}

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !relay.registerRun(cancel) {
		cancel()

		return ErrRelayRunning
	}

	defer relay.clearRun()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(context.Background(), log.LevelInfo, "outbox relay started")
		defer launcher.Logger.Log(context.Background(), log.LevelInfo, "outbox relay stopped")
	}

	defer runtime.RecoverAndLog(ctx, relay.logger, "outbox", "relay_run")

	ticker := time.NewTicker(relay.cfg.ScanInterval)
	defer ticker.Stop()

	relay.scanTick(ctx, "outbox.relay.initial_scan")

	for {
		select {
		case <-relay.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case <-relay.stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			relay.scanTick(ctx, "outbox.relay.scan")
		}
	}
}

func (relay *Relay) scanTick(ctx context.Context, spanName string) {
	relay.scanWg.Add(1)
	defer relay.scanWg.Done()

	tickCtx, span := relay.tracer.Start(ctx, spanName)
	defer span.End()
	defer runtime.RecoverAndLog(tickCtx, relay.logger, "outbox", "relay_tick")

	relay.ScanOnce(tickCtx)
}

// Stop signals the relay loop to stop.
func (relay *Relay) Stop() {
	if relay == nil {
		return
	}

	relay.stopOnce.Do(func() {
		relay.runStateMu.Lock()
		cancel := relay.cancelFunc
		stop := relay.stop
		if stop == nil {
			stop = make(chan struct{})
			relay.stop = stop
		}
		relay.runStateMu.Unlock()

		if cancel != nil {
			cancel()
		}

		close(stop)
	})
}

// Shutdown stops the relay and waits for the in-flight scan to finish.
func (relay *Relay) Shutdown(ctx context.Context) error {
	if relay == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	relay.Stop()

	done := make(chan struct{})

	runtime.SafeGo(ctx, relay.logger, "outbox", "relay_shutdown_wait", runtime.KeepRunning, func(context.Context) {
		relay.scanWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown: %w", ctx.Err())
	}
}

// ScanOnce processes one relay scan and returns its counters.
//
// Delivery is at-least-once: publish happens before MarkSent, so a crash or
// a failed state update between the two can replay the event. Consumers must
// deduplicate on event ID.
func (relay *Relay) ScanOnce(ctx context.Context) ScanResult {
	if relay == nil || relay.store == nil || relay.publisher == nil {
		return ScanResult{}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger := relay.logger
	if logger == nil {
		logger = log.NewNop()
	}

	start := time.Now().UTC()

	ctx, span := relay.tracer.Start(ctx, "outbox.scan")
	defer span.End()

	events := relay.collectEvents(ctx)

	var result ScanResult

	relay.metrics.recordQueueDepth(ctx, int64(len(events)))

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		if event == nil {
			continue
		}

		result.Processed++

		if err := relay.publishWithRetry(ctx, event); err != nil {
			if markErr := relay.store.MarkFailed(ctx, event.ID, sanitizeErrorForStorage(err)); markErr != nil {
				logger.Log(ctx, log.LevelError, "failed to mark outbox event failed",
					log.String("event_id", event.ID.String()),
					log.String("error", sanitizeErrorForStorage(markErr)),
				)
			}

			result.Failed++

			continue
		}

		if err := relay.store.MarkSent(ctx, event.ID, time.Now().UTC()); err != nil {
			logger.Log(ctx, log.LevelError,
				"outbox event published to broker but failed to persist SENT state; event may be redelivered",
				log.String("event_id", event.ID.String()),
				log.String("error", sanitizeErrorForStorage(err)),
			)

			relay.metrics.addStateUpdateFailed(ctx, 1)

			result.StateUpdateFailed++

			continue
		}

		result.Sent++
	}

	relay.metrics.addSent(ctx, int64(result.Sent))
	relay.metrics.addFailed(ctx, int64(result.Failed))
	relay.metrics.recordScanLatency(ctx, time.Since(start).Seconds())

	return result
}

// collectEvents gathers up to BatchSize events for one scan. When the retry
// policy allows it, FAILED events past the retry window are reclaimed first,
// then PENDING events fill the remainder in creation order.
func (relay *Relay) collectEvents(ctx context.Context) []*Event {
	logger := relay.logger

	var reclaimed []*Event

	if relay.cfg.Retry.RetryEnabled() {
		failedBefore := time.Now().UTC().Add(-relay.cfg.Retry.RetryWindow)

		var err error

		reclaimed, err = relay.store.ResetForRetry(ctx, relay.cfg.BatchSize, failedBefore, relay.cfg.Retry.MaxAttempts)
		if err != nil {
			log.SafeError(logger, ctx, "failed to reclaim failed outbox events", err)

			reclaimed = nil
		}
	}

	if len(reclaimed) >= relay.cfg.BatchSize {
		return reclaimed
	}

	// ResetForRetry commits before ListPending runs in its own transaction,
	// so reclaimed rows are PENDING again and reappear in the pending set.
	// Skip them to keep one scan from publishing the same event twice.
	pending, err := relay.store.ListPending(ctx, relay.cfg.BatchSize)
	if err != nil {
		log.SafeError(logger, ctx, "failed to list pending outbox events", err)

		return reclaimed
	}

	events := reclaimed
	seen := make(map[uuid.UUID]struct{}, len(reclaimed))

	for _, event := range reclaimed {
		if event != nil {
			seen[event.ID] = struct{}{}
		}
	}

	for _, event := range pending {
		if len(events) >= relay.cfg.BatchSize {
			break
		}

		if event == nil {
			continue
		}

		if _, dup := seen[event.ID]; dup {
			continue
		}

		seen[event.ID] = struct{}{}
		events = append(events, event)
	}

	return events
}

func (relay *Relay) publishWithRetry(ctx context.Context, event *Event) error {
	maxAttempts := relay.cfg.PublishMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultPublishMaxAttempts
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := relay.publishEvent(ctx, event)
		if err == nil {
			return nil
		}

		lastErr = fmt.Errorf("publish attempt %d/%d failed: %w", attempt+1, maxAttempts, err)
		if attempt == maxAttempts-1 {
			break
		}

		delay := backoff.ExponentialWithJitter(relay.cfg.PublishBackoff, attempt)
		if waitErr := backoff.SleepWithContext(ctx, delay); waitErr != nil {
			lastErr = fmt.Errorf("publish retry wait interrupted: %w", waitErr)

			break
		}
	}

	return lastErr
}

func (relay *Relay) publishEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrEventRequired
	}

	if len(event.Payload) == 0 {
		return ErrPayloadRequired
	}

	publishCtx, cancel := context.WithTimeout(ctx, relay.cfg.PublishTimeout)
	defer cancel()

	return relay.publisher.Publish(publishCtx, event.EventType, event.AggregateID, event.Payload)
}

func (relay *Relay) registerRun(cancel context.CancelFunc) bool {
	relay.runStateMu.Lock()
	defer relay.runStateMu.Unlock()

	if relay.running {
		return false
	}

	relay.running = true
	relay.cancelFunc = cancel

	return true
}

func (relay *Relay) clearRun() {
	relay.runStateMu.Lock()
	defer relay.runStateMu.Unlock()

	relay.running = false
	relay.cancelFunc = nil
}
