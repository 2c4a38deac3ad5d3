// Package queue persists tasks in SQLite and implements engine.TaskStore on
// top of them.
//
// The Store manages database connections, schema initialization, task
// creation, the atomic claim used by Engine.Fire, guarded stage and status
// updates, operator transitions (resume) and crash recovery for tasks a
// previous daemon left in flight. Each task records its kind; the kind
// selects the stage chain through the ChainResolver given to Open.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema. The Task model and Status values defined here are
// shared with the Postgres store in internal/pgqueue.
package queue
