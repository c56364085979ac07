package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lanepay/lib-dtx/dtx/log"
	"github.com/lanepay/lib-dtx/dtx/outbox"
	"github.com/lanepay/lib-dtx/dtx/runtime"
)

var (
	ErrChannelRequired        = errors.New("rabbitmq channel is required")
	ErrExchangeRequired       = errors.New("exchange name is required")
	ErrPublisherRequired      = errors.New("publisher is required")
	ErrPublisherClosed        = errors.New("publisher is closed")
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("confirmation timed out")
)

const (
	// DefaultConfirmTimeout bounds the wait for broker confirmation.
	DefaultConfirmTimeout = 5 * time.Second

	// confirmChannelBuffer should be >= max unconfirmed messages to avoid
	// blocking the amqp client.
	confirmChannelBuffer = 256
)

// ConfirmableChannel is the slice of an AMQP channel the publisher needs.
// amqp091.Channel satisfies it; tests substitute a fake.
type ConfirmableChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// Publisher publishes outbox events to a RabbitMQ exchange with publisher
// confirms. The event type becomes the routing key and the aggregate id
// travels as the message id, so consumers can partition and deduplicate.
type Publisher struct {
	ch             ConfirmableChannel
	exchange       string
	confirms       chan amqp.Confirmation
	closedCh       chan struct{}
	closeOnce      sync.Once
	done           chan struct{}
	logger         log.Logger
	confirmTimeout time.Duration

	mu        sync.RWMutex
	publishMu sync.Mutex
	closed    bool
}

var _ outbox.Publisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(logger log.Logger) Option {
	return func(pub *Publisher) {
		if logger != nil {
			pub.logger = logger
		}
	}
}

// WithConfirmTimeout bounds the wait for broker confirmation per publish.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(pub *Publisher) {
		if timeout > 0 {
			pub.confirmTimeout = timeout
		}
	}
}

// NewPublisher puts the channel into confirm mode and wraps it as an
// outbox.Publisher targeting the given exchange.
func NewPublisher(ch ConfirmableChannel, exchange string, opts ...Option) (*Publisher, error) {
	if ch == nil {
		return nil, ErrChannelRequired
	}

	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, ErrExchangeRequired
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	confirms := make(chan amqp.Confirmation, confirmChannelBuffer)
	ch.NotifyPublish(confirms)

	closeNotify := ch.NotifyClose(make(chan *amqp.Error, 1))

	pub := &Publisher{
		ch:             ch,
		exchange:       exchange,
		confirms:       confirms,
		closedCh:       make(chan struct{}),
		done:           make(chan struct{}),
		logger:         log.NewNop(),
		confirmTimeout: DefaultConfirmTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pub)
		}
	}

	pub.startCloseMonitor(closeNotify)

	return pub, nil
}

func (pub *Publisher) startCloseMonitor(closeNotify chan *amqp.Error) {
	monitorDone := pub.done

	runtime.SafeGo(context.Background(), pub.logger, "rabbitmq", "publisher_close_monitor", runtime.KeepRunning, func(ctx context.Context) {
		select {
		case amqpErr := <-closeNotify:
			if amqpErr != nil {
				pub.logger.Log(ctx, log.LevelWarn, "rabbitmq channel closed",
					log.String("reason", amqpErr.Reason),
					log.Int("code", amqpErr.Code),
				)
			}

			pub.markClosed()
		case <-monitorDone:
		}
	})
}

// Publish sends payload to the exchange under the event type routing key and
// waits for broker confirmation.
//
// Calls are serialized per publisher instance to preserve confirm ordering
// without delivery-tag correlation state.
func (pub *Publisher) Publish(ctx context.Context, eventType, key string, payload []byte) error {
	if pub == nil {
		return ErrPublisherRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	pub.mu.RLock()

	if pub.closed {
		pub.mu.RUnlock()

		return ErrPublisherClosed
	}

	ch := pub.ch
	confirms := pub.confirms
	closedCh := pub.closedCh
	confirmTimeout := pub.confirmTimeout
	pub.mu.RUnlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, pub.exchange, eventType, false, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	err := waitForConfirm(ctx, confirms, closedCh, confirmTimeout)
	if err != nil && isConfirmStreamCorrupted(err) {
		// A pending confirmation would desynchronize the next wait, so the
		// channel is sacrificed and the caller builds a fresh publisher.
		pub.invalidateChannel(ch)
	}

	return err
}

// Close permanently closes the publisher and its channel.
func (pub *Publisher) Close() error {
	if pub == nil {
		return ErrPublisherRequired
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	pub.mu.Lock()

	if pub.closed {
		pub.mu.Unlock()

		return nil
	}

	pub.closed = true
	ch := pub.ch
	pub.mu.Unlock()

	close(pub.done)
	pub.closeOnce.Do(func() { close(pub.closedCh) })

	if ch != nil {
		if err := ch.Close(); err != nil {
			return fmt.Errorf("closing publisher channel: %w", err)
		}
	}

	return nil
}

func (pub *Publisher) markClosed() {
	pub.mu.Lock()
	pub.closed = true
	pub.mu.Unlock()

	pub.closeOnce.Do(func() { close(pub.closedCh) })
}

// invalidateChannel must be called while holding publishMu.
func (pub *Publisher) invalidateChannel(ch ConfirmableChannel) {
	pub.markClosed()

	if ch != nil {
		_ = ch.Close()
	}
}

func isConfirmStreamCorrupted(err error) bool {
	return errors.Is(err, ErrConfirmTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func waitForConfirm(
	ctx context.Context,
	confirms <-chan amqp.Confirmation,
	closedCh <-chan struct{},
	confirmTimeout time.Duration,
) error {
	timeout := time.NewTimer(confirmTimeout)
	defer timeout.Stop()

	select {
	case confirmed, ok := <-confirms:
		if !ok {
			return ErrPublisherClosed
		}

		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}

		return nil

	case <-closedCh:
		return ErrPublisherClosed

	case <-timeout.C:
		return ErrConfirmTimeout

	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}
