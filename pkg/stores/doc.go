// Package stores provides the SQLite persistence layer for graphpatch.
// SQLiteStore keeps pending patches (engine.PlanStore), and the history of
// applies and the audit trail (engine.Recorder). The schema is managed with
// embedded golang-migrate migrations.
package stores
