// Package engine advances tasks through their stage chains.
//
// An Engine claims eligible tasks from a TaskStore, hands one runner per task
// to an Executor and lets each runner walk the task's chain: it persists the
// intermediate stage name, runs the stage processor between its before and
// after hooks, then persists the completed stage name. Between stages, and
// whenever a processor calls Checkpoint.Check, the runner honours suspension
// requests made through Engine.Suspend; a suspended task keeps its last
// completed stage and continues from there once it is resumed and fired
// again.
//
// Processor failures end the run with an error status and the stage rolled
// back to the last completed one. Failures outside a processor (hooks, store
// calls, panics) are logged and leave the persisted state as the last
// successful call left it.
package engine
