// Package history records pipeline runs in SQLite.
//
// Every run is inserted as running when the orchestrator assigns its run id
// and updated once with its outcome, per-stage timings, and the failing
// stage and error kind when it did not succeed. The CLI reads the table for
// the history and status commands.
//
// Schema changes bump schemaVersion in schema.go; users delete the database
// to adopt the new schema.
package history
