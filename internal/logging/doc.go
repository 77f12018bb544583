// Package logging assembles structured slog loggers and formatting helpers used
// across refinebox.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code automatically tags
// log lines with the run identifier, episode name, and stage. A no-op logger
// is provided for tests and wiring code that cannot fail.
package logging
