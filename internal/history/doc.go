// Package history keeps a log of conversion attempts in SQLite.
//
// By default the database is a private in-memory instance that lives only
// as long as the process, so nothing outlives the session. Every attempt,
// successful or not, is one row; Summary aggregates them for the batch
// statistics view.
package history
