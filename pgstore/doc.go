// Package pgstore implements the syncengine Store contract on PostgreSQL.
//
// The claim path relies on FOR UPDATE SKIP LOCKED: candidate rows are
// selected and locked in a subquery, rows already locked by another engine
// instance are skipped, and the claimed rows transition to processing in
// the same statement. Every subsequent status write excludes rows already
// in a terminal state, which keeps late writes from timed-out processors
// idempotent.
//
// Schema migrations are embedded and applied with goose via Migrate.
// Connect builds a pgxpool with retry suited to daemon startup.
package pgstore
