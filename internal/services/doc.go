// Package services defines shared utilities consumed by the workflow stages
// and external tool integrations.
//
// It provides context helpers that stamp run identifiers, episode names, and
// stage names for logging, plus the structured error markers and Wrap helper
// used to classify per-episode failures in the run ledger.
package services
