// Package logs reads the daemon's JSON log file for the CLI.
//
// Tail returns the last lines of the file or everything past a byte offset,
// optionally waiting for new lines. Filters narrow the output to one task by
// matching the task_id attribute the engine attaches to every run record.
package logs
