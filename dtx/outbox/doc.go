// Package outbox implements the transactional outbox pattern: integration
// events are persisted in the same local database transaction as the
// business write that produces them, then relayed asynchronously to a
// message channel.
//
// Delivery is at-least-once. The relay publishes an event and only then
// persists the SENT status, so a crash between the two operations causes a
// republish on the next scan. Consumers of the published events must be
// idempotent; this is an accepted property of the pattern, not a defect.
package outbox
