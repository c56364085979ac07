// Package postgres implements the outbox.Store interface on PostgreSQL.
//
// Pending scans lock rows with FOR UPDATE SKIP LOCKED so concurrent relays
// mostly avoid reading the same batch; delivery stays at-least-once. Status
// updates are guarded by the expected current status, so a lost race
// surfaces as ErrStateConflict instead of silently rewriting history.
package postgres
