// Package main hosts the stagewise CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon, falling back to direct store access for task
// maintenance when the daemon is offline. It centralizes configuration
// resolution and socket discovery so subcommands can focus on output.
package main
