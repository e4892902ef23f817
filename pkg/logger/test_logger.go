package logger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Entry is one captured log call
type Entry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Err     error
}

// TestLogger captures entries so tests can assert on warnings such as
// skipped corrupt records or rejected cursors. Loggers derived with
// WithField or WithError share the parent's entries.
type TestLogger struct {
	sink   *entrySink
	fields map[string]interface{}
	err    error
}

type entrySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewTestLogger creates an empty capturing logger
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &entrySink{}}
}

func (l *TestLogger) derive(fields map[string]interface{}, err error) *TestLogger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{sink: l.sink, fields: merged, err: err}
}

func (l *TestLogger) record(level, msg string, fields map[string]interface{}) {
	e := Entry{Level: level, Message: msg, Fields: l.derive(fields, nil).fields, Err: l.err}
	l.sink.mu.Lock()
	l.sink.entries = append(l.sink.entries, e)
	l.sink.mu.Unlock()
}

func (l *TestLogger) Debug(msg string) { l.record("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.record("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.record("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.record("ERROR", msg, nil) }
func (l *TestLogger) Fatal(msg string) { l.record("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.record("DEBUG", msg, fields)
}

func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.record("INFO", msg, fields)
}

func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.record("WARN", msg, fields)
}

func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.record("ERROR", msg, fields)
}

func (l *TestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	l.record("FATAL", msg, fields)
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.derive(map[string]interface{}{key: value}, l.err)
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return l.derive(fields, l.err)
}

func (l *TestLogger) WithError(err error) Logger {
	return l.derive(nil, err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger {
	return l
}

func (l *TestLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

// Entries returns the captured entries at level, or all of them for ""
func (l *TestLogger) Entries(level string) []Entry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	var out []Entry
	for _, e := range l.sink.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// HasMessage reports whether msg was logged at any level
func (l *TestLogger) HasMessage(msg string) bool {
	for _, e := range l.Entries("") {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// CorruptRecords returns the warnings written by LogCorruption
func (l *TestLogger) CorruptRecords() []Entry {
	var out []Entry
	for _, e := range l.Entries("WARN") {
		if e.Message == corruptRecordMessage {
			out = append(out, e)
		}
	}
	return out
}
