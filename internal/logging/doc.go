// Package logging provides leveled key/value logging for raftkv nodes.
//
// A Logger writes one line per call in text or JSON format:
//
//	logger := logging.New(logging.Config{Level: "info", Format: "json", Output: "stderr"})
//	logger.Info("became leader", "node", 1, "term", 4)
//
//	{"level":"info","msg":"became leader","node":1,"term":4,"ts":"2026-02-18T10:30:00Z"}
//
// In text format the same call prints
//
//	2026-02-18T10:30:00Z [info] became leader node=1 term=4
//
// WithFields and WithRequestID derive loggers that add fields to every line.
// Derived loggers share their root's output, lock and level, so SetLevel
// through LevelSetter affects all of them. Error values and Stringers are
// rendered as text.
//
// Request IDs are random UUIDs from GenerateRequestID. Tests use NewNop.
package logging
