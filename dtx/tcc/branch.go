package tcc

import "context"

// BranchAction is one resource-local participant of a global transaction.
//
// An implementation is typically a reservation handle returned by the
// resource's reserve step (for example ledger.Reservation), so that party
// and amount are bound when the reservation is made and the coordinator
// never carries business arguments. Each method must be safe to call at
// most once per transaction phase.
type BranchAction interface {
	// ID identifies the branch in reports and logs.
	ID() string
	// Confirm finalizes the reserved work.
	Confirm(ctx context.Context) error
	// Cancel releases the reserved work.
	Cancel(ctx context.Context) error
}
