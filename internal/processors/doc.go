// Package processors holds the processor registry the engine resolves stage
// processors from, the built-in "data" and "report" processors, and the
// default chain definitions that route to them.
//
// Processors read task payloads through TaskLookup and cooperate with
// suspension by polling their engine.Checkpoint. Register additional
// processors on a Registry before constructing the engine; chains loaded from
// a definitions file are checked against the registry with Validate.
package processors
