// Package daemon coordinates the long-running stagewise process.
//
// It wires configuration, the task store, the processor registry, and the
// engine into a single lifecycle with flock-based locking to prevent multiple
// instances against one state directory. On start the daemon repairs tasks a
// previous process left in flight, seeds the engine's suspension set, and
// fires eligible tasks on a ticker. Stop requests suspension of every task
// the engine still owns and waits for the worker pool to drain, so a
// restart resumes them from their last completed stage.
//
// Keep orchestration logic here: stage work belongs to processors and
// persistence to the store packages.
package daemon
