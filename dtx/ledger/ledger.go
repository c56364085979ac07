package ledger

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger holds per-party balances and issues reservations against them.
//
// Available + OnHold for a party is invariant across reserve/cancel pairs;
// it decreases by exactly the confirmed amount when a reservation settles.
type Ledger struct {
	mu      sync.Mutex
	parties map[string]*partyBalance
}

type partyBalance struct {
	mu        sync.Mutex
	available decimal.Decimal
	onHold    decimal.Decimal
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{parties: make(map[string]*partyBalance)}
}

// party returns the balance entry for a party, creating it when absent.
// The registry lock is held only for the lookup; mutations take the
// per-party lock so unrelated parties never contend.
func (l *Ledger) party(name string) *partyBalance {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.parties[name]
	if !ok {
		entry = &partyBalance{
			available: decimal.Zero,
			onHold:    decimal.Zero,
		}
		l.parties[name] = entry
	}

	return entry
}

// Deposit adds amount to a party's available balance.
func (l *Ledger) Deposit(party string, amount decimal.Decimal) error {
	if err := validateParty(party); err != nil {
		return err
	}

	if !amount.IsPositive() {
		return NewDomainError(ErrorInvalidInput, "amount", "amount must be greater than zero")
	}

	entry := l.party(party)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.available = entry.available.Add(amount)

	return nil
}

// Balance returns a party's current available and on-hold balances.
// An unknown party reports zero for both.
func (l *Ledger) Balance(party string) (available, onHold decimal.Decimal) {
	l.mu.Lock()
	entry, ok := l.parties[party]
	l.mu.Unlock()

	if !ok {
		return decimal.Zero, decimal.Zero
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.available, entry.onHold
}

func validateParty(party string) error {
	if strings.TrimSpace(party) == "" {
		return NewDomainError(ErrorInvalidInput, "party", "party is required")
	}

	return nil
}
