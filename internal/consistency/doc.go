// Package consistency compares annotation files against the refined outputs
// the pipeline wrote for them.
//
// Pairs are built by episode name rather than by position, so a missing
// output or an extra folder is reported instead of silently shifting every
// later comparison. Line-count deltas are diagnostic and never fail a run.
package consistency
