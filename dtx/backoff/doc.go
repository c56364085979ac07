// Package backoff provides exponential backoff utilities with jitter for
// retry loops.
package backoff
