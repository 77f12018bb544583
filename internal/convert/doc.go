// Package convert turns VIAME CSV detections into a COCO-style JSON dataset.
//
// The writer emits one JSON record per line inside each top-level section so
// datasets diff cleanly under version control. Reading a dataset back for
// counts goes through gjson and does not decode the whole document.
package convert
