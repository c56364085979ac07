// Package tcc implements a Try-Confirm-Cancel coordinator for in-process
// distributed transactions.
//
// Callers begin a global transaction, register one branch per participating
// resource after reserving against it, and finish with Commit or Rollback.
// The coordinator fans out Confirm or Cancel to every registered branch in
// registration order and reports per-branch outcomes instead of aborting on
// the first failure.
//
// The coordinator provides coordination of intent, not guaranteed
// convergence: there is no retry and no durable log of pending
// confirmations. A branch whose Confirm or Cancel fails is left
// inconsistent with its peers and is surfaced only through the returned
// Report.
package tcc
