// Package runtime provides panic containment helpers for long-running
// goroutines such as the outbox relay loop.
package runtime
