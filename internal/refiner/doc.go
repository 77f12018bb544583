// Package refiner drives the external KWIVER pipeline that refines the boxes
// of one episode.
//
// The pipeline reads the image manifest and the normalized annotation file
// and writes a refined CSV. The Refiner only builds the command line, applies
// the optional timeout and debugger wrap, and checks that the output exists;
// process plumbing lives in internal/toolexec.
package refiner
