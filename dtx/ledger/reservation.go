package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reservation is a hold on a party's funds, bound to the party and amount
// at Reserve time. It implements tcc.BranchAction so it can be registered
// directly with a coordinator.
type Reservation struct {
	ledger *Ledger
	party  string
	amount decimal.Decimal
	id     string

	mu      sync.Mutex
	settled bool
}

// Reserve moves amount from the party's available balance to its on-hold
// balance and returns the reservation handle. Reserving more than the
// available balance fails with an insufficient-funds domain error, letting
// the caller roll back at the coordinator level before any commit.
func (l *Ledger) Reserve(_ context.Context, party string, amount decimal.Decimal) (*Reservation, error) {
	if err := validateParty(party); err != nil {
		return nil, err
	}

	if !amount.IsPositive() {
		return nil, NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	entry := l.party(party)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.available.LessThan(amount) {
		return nil, NewDomainError(ErrorInsufficientFunds, "amount", "available balance cannot cover the reservation")
	}

	entry.available = entry.available.Sub(amount)
	entry.onHold = entry.onHold.Add(amount)

	return &Reservation{
		ledger: l,
		party:  party,
		amount: amount,
		id:     "ledger:" + party + ":" + uuid.NewString(),
	}, nil
}

// ID identifies the reservation in coordinator reports.
func (r *Reservation) ID() string { return r.id }

// Party returns the party the funds are held for.
func (r *Reservation) Party() string { return r.party }

// Amount returns the held amount.
func (r *Reservation) Amount() decimal.Decimal { return r.amount }

// Confirm settles the held funds: the amount leaves the ledger entirely.
// A reservation settles exactly once; later calls fail with an
// invalid-state-transition domain error.
func (r *Reservation) Confirm(_ context.Context) error {
	return r.settle(false)
}

// Cancel releases the hold, returning the amount to the available balance.
// Subject to the same settle-once rule as Confirm.
func (r *Reservation) Cancel(_ context.Context) error {
	return r.settle(true)
}

func (r *Reservation) settle(release bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settled {
		return NewDomainError(ErrorInvalidStateTransition, "reservation", "reservation already settled")
	}

	entry := r.ledger.party(r.party)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.onHold.LessThan(r.amount) {
		return NewDomainError(ErrorDataCorruption, "onHold", "held balance is smaller than the reservation")
	}

	entry.onHold = entry.onHold.Sub(r.amount)

	if release {
		entry.available = entry.available.Add(r.amount)
	}

	r.settled = true

	return nil
}
