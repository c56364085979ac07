package outbox

import "errors"

var (
	ErrEventRequired       = errors.New("outbox event is required")
	ErrEventTypeRequired   = errors.New("event type is required")
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	ErrPayloadRequired     = errors.New("event payload is required")
	ErrPayloadTooLarge     = errors.New("event payload exceeds maximum allowed size")
	ErrPayloadNotJSON      = errors.New("event payload must be valid JSON")
	ErrStatusInvalid       = errors.New("invalid outbox status")
	ErrTransitionInvalid   = errors.New("invalid outbox status transition")
	ErrStoreRequired       = errors.New("outbox store is required")
	ErrPublisherRequired   = errors.New("publisher is required")
	ErrDBRequired          = errors.New("database handle is required")
	ErrRelayRequired       = errors.New("outbox relay is required")
	ErrRelayRunning        = errors.New("outbox relay is already running")
)
