package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxPayloadBytes bounds the serialized payload stored per event.
const MaxPayloadBytes = 1 << 20

// Event is an integration event stored in the outbox for reliable delivery.
type Event struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	Status      Status
	Attempts    int
	LastError   string
	SentAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewEvent creates a valid outbox event initialized as pending.
func NewEvent(eventType, aggregateID string, payload []byte) (*Event, error) {
	return NewEventWithID(uuid.New(), eventType, aggregateID, payload)
}

// NewEventWithID creates a valid pending outbox event using a
// caller-provided id, which lets the business write pick deterministic
// event ids for consumer-side deduplication.
func NewEventWithID(eventID uuid.UUID, eventType, aggregateID string, payload []byte) (*Event, error) {
	if eventID == uuid.Nil {
		return nil, fmt.Errorf("outbox event id: %w", ErrEventRequired)
	}

	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEventTypeRequired
	}

	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, ErrAggregateIDRequired
	}

	if len(payload) == 0 {
		return nil, ErrPayloadRequired
	}

	if len(payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	if !json.Valid(payload) {
		return nil, ErrPayloadNotJSON
	}

	now := time.Now().UTC()

	return &Event{
		ID:          eventID,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewJSONEvent serializes payload to JSON and creates a pending event.
// A serialization failure is a hard error surfaced before any side effect,
// so the caller can abort the business operation.
func NewJSONEvent(eventType, aggregateID string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize outbox payload: %w", err)
	}

	return NewEvent(eventType, aggregateID, raw)
}
