// Package logging assembles structured slog loggers and formatting helpers used
// across stagewise components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine and processor code
// can tag log lines with task IDs, stages and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
