// Package zap adapts go.uber.org/zap to the lib-dtx log.Logger contract.
//
// When the context carries an active OpenTelemetry span, trace_id and
// span_id fields are appended automatically so log lines correlate with
// distributed traces.
package zap
