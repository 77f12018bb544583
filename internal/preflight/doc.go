// Package preflight provides readiness checks for the external binaries and
// filesystem paths a refinement run depends on.
//
// `refinebox check` prints every result. `refinebox run` calls RunAll before
// the episode loop and aborts when a required check fails, so a missing
// pipeline binary is reported once instead of failing every episode.
//
// Each check is gated by the run options; disabled features are skipped.
package preflight
