// Package observability provides structured logging, metrics, and
// tracing for the SDK: logging via slog, metrics and tracing via
// OpenTelemetry. Everything is opt-in with no-op implementations when
// disabled; all helpers tolerate a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds the identity fields shared by every SDK log line.
func EnrichLogger(logger *slog.Logger, visitorID, sessionID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("visitor_id", visitorID),
		slog.String("session_id", sessionID),
	)
}

// LogTrackerStart logs SDK construction.
func LogTrackerStart(logger *slog.Logger, visitorID, template string, queueSize int) {
	if logger == nil {
		return
	}
	logger.Info("tracker started",
		slog.String("visitor_id", visitorID),
		slog.String("template", template),
		slog.Int("recovered_events", queueSize),
	)
}

// LogTrackerStop logs SDK teardown.
func LogTrackerStop(logger *slog.Logger, remaining int) {
	if logger == nil {
		return
	}
	logger.Info("tracker stopped",
		slog.Int("events_remaining", remaining),
	)
}

// LogEventTracked logs acceptance of one event.
func LogEventTracked(logger *slog.Logger, eventID, eventName string, sequence int64) {
	if logger == nil {
		return
	}
	logger.Debug("event tracked",
		slog.String("event_id", eventID),
		slog.String("event_name", eventName),
		slog.Int64("sequence", sequence),
	)
}

// LogSessionRotated logs a session identifier change.
func LogSessionRotated(logger *slog.Logger, oldID, newID string) {
	if logger == nil {
		return
	}
	logger.Debug("session rotated",
		slog.String("previous_session_id", oldID),
		slog.String("session_id", newID),
	)
}

// LogAttributionResolved logs an attribution resolution outcome.
func LogAttributionResolved(logger *slog.Logger, signal, source string, firstTouch bool) {
	if logger == nil {
		return
	}
	logger.Info("attribution resolved",
		slog.String("signal", signal),
		slog.String("source", source),
		slog.Bool("first_touch", firstTouch),
	)
}

// LogFlushComplete logs one flush cycle.
func LogFlushComplete(logger *slog.Logger, durationMs float64, remaining int) {
	if logger == nil {
		return
	}
	logger.Debug("flush complete",
		slog.Float64("duration_ms", durationMs),
		slog.Int("events_remaining", remaining),
	)
}

// LogIdentityReset logs a visitor identity regeneration.
func LogIdentityReset(logger *slog.Logger, newVisitorID string) {
	if logger == nil {
		return
	}
	logger.Info("identity reset",
		slog.String("visitor_id", newVisitorID),
	)
}

// TimedOperation returns a function that reports elapsed milliseconds
// since the call to TimedOperation. Pairs with the Log* helpers that
// take a duration.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000.0
	}
}
