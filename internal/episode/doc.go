// Package episode discovers episode folders beneath a dataset root and locates
// the canonical annotation file inside each one.
//
// An episode is one recording session: a folder holding an annotation CSV
// named <prefix><episode><anything><suffix> (by default
// sealions_<episode>*.viame.csv) and, optionally, an images/ subfolder.
// Derived outputs written next to the source annotations (watershed and
// grabcut refinements) are excluded by name. Discovery is read-only.
package episode
