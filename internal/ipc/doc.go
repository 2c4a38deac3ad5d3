// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and the
// conversion from stored tasks to their wire form. Reuse these types when
// adding endpoints so the protocol stays compatible with existing commands.
package ipc
