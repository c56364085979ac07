// Package ledger provides an account ledger that participates in TCC
// transactions as a branch.
//
// Reserve moves funds from a party's available balance to its on-hold
// balance and returns a Reservation bound to that party and amount. The
// Reservation implements tcc.BranchAction: Confirm settles the held funds
// out of the ledger, Cancel returns them to the available balance.
//
// Per-party mutations are serialized by a per-key lock so concurrent
// transactions on unrelated parties never contend.
package ledger
