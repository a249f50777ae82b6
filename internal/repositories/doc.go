// Package repositories provides the persistence layer for playback sessions.
//
// Each session is stored as a single JSON document keyed by passcode, with a
// handful of queryable columns (owner account, playing flag) lifted out of
// the document. The important primitive is [SessionRepository.WithSession]:
// it runs a mutation inside a transaction that holds the passcode's
// exclusive row lock, so concurrent edits to the same session — a manual
// skip racing an expiring timer, for example — serialize instead of losing
// updates. The lock spans any remote call performed mid-mutation.
//
// Both PostgreSQL (SELECT ... FOR UPDATE) and SQLite (database-level write
// locking) are supported through sqlx.
package repositories
