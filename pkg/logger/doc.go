// Package logger provides the structured logging interface used across xscrap.
//
// It wraps zerolog behind a small Logger interface so components can take a
// logger as a dependency and tests can substitute NewNopLogger or the
// capturing TestLogger.
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("subject", "alice").Info("Collection started")
//	log.InfoWithFields("Batch stored", map[string]interface{}{"stored": 12})
//
// Console output is written to stderr with compact coloured level labels.
// When logging.file is set, JSON records are appended to that file instead.
package logger
