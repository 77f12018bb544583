// Package workflow runs the per-episode refinement loop.
//
// The Manager discovers episode folders under the input directory, applies
// the folder window, and walks each selected episode through its stages:
// frame normalization, image manifest, pipeline run, dataset conversion,
// line-count check and archive sync. Which stages run is decided by Options.
//
// Episodes are processed one at a time on the caller's goroutine because the
// image manifest path is shared between them. A failure inside one episode
// is recorded as that episode's outcome and the loop moves on; only
// configuration errors (unreadable input root, bad window index) and
// cancellation stop a run. Every outcome is written to the run ledger when
// one is attached.
package workflow
