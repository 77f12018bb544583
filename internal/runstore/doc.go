// Package runstore keeps a SQLite history of refinement runs and the outcome
// of every episode they touched.
//
// A Run is opened before the episode loop starts, each episode records one
// Outcome, and FinishRun stamps the completion time. The ledger is
// append-only; `refinebox history` reads it back. Schema changes bump
// schemaVersion in schema.go and users delete the database to adopt them.
package runstore
