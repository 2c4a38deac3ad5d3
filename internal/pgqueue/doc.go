// Package pgqueue stores tasks in PostgreSQL.
//
// Store mirrors queue.Store on a pgx connection pool so several daemons may
// share one database: claims use FOR UPDATE SKIP LOCKED, so concurrent
// claimers never return the same row. Task rows, statuses, and error
// sentinels are the queue package's.
package pgqueue
