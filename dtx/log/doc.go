// Package log defines the structured logging contract used across lib-dtx.
//
// Components accept a Logger and default to the no-op implementation, so
// callers that do not care about logging pay nothing. The zap package
// provides the production implementation.
package log
