package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogTransition records an engine state change for a subject
func LogTransition(l Logger, subject, from, to, event string) {
	l.DebugWithFields("State transition", map[string]interface{}{
		"subject": subject,
		"from":    from,
		"to":      to,
		"event":   event,
	})
}

// LogBatch records the outcome of one extract-and-store pass
func LogBatch(l Logger, subject string, seen, stored, total int, cursor string) {
	l.InfoWithFields("Batch stored", map[string]interface{}{
		"subject": subject,
		"seen":    seen,
		"stored":  stored,
		"total":   total,
		"cursor":  cursor,
	})
}

const corruptRecordMessage = "Skipping corrupt record"

// LogCorruption reports a persisted record that could not be decoded
func LogCorruption(l Logger, source string, position int64, err error) {
	l.WithError(err).WarnWithFields(corruptRecordMessage, map[string]interface{}{
		"source":   source,
		"position": position,
	})
}

// LogBackoff reports a transient failure and the delay before the next attempt
func LogBackoff(l Logger, subject string, attempt, maxAttempts int, delay time.Duration) {
	l.WarnWithFields("Transient failure, backing off", map[string]interface{}{
		"subject":      subject,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"delay":        delay,
	})
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	log := l.WithField("component", component)
	if len(config) > 0 {
		log = log.WithFields(config)
	}
	log.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
