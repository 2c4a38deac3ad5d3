// Package services defines shared utilities consumed by the engine, the
// task stores and stage processors.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, task kinds and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so processors can tag a
//     failure with the stage and operation it happened in; the engine turns
//     those details into the message persisted with an error status.
//
// Use these helpers when writing processors so operational behaviour (error
// reporting, observability) stays uniform across chains.
package services
