package outbox

import "fmt"

// Status represents an outbox event lifecycle state.
type Status string

const (
	// StatusPending marks an event awaiting publication.
	StatusPending Status = "PENDING"
	// StatusSent marks an event that was published and acknowledged.
	StatusSent Status = "SENT"
	// StatusFailed marks an event whose publication failed. Under the
	// default retry policy this state is terminal.
	StatusFailed Status = "FAILED"
)

// ParseStatus validates and converts a raw string status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether the status is part of the outbox lifecycle.
func (status Status) IsValid() bool {
	switch status {
	case StatusPending, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from status to next is
// allowed. PENDING moves one way to SENT or FAILED; FAILED may return to
// PENDING only through retry reclamation; SENT is terminal.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	case StatusSent:
		return false
	default:
		return false
	}
}

// ValidateTransition validates a status transition using the lifecycle rules.
func ValidateTransition(fromRaw, toRaw string) error {
	from, err := ParseStatus(fromRaw)
	if err != nil {
		return fmt.Errorf("from status: %w", err)
	}

	to, err := ParseStatus(toRaw)
	if err != nil {
		return fmt.Errorf("to status: %w", err)
	}

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionInvalid, from, to)
	}

	return nil
}

func (status Status) String() string {
	return string(status)
}
