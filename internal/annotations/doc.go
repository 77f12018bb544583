// Package annotations reads and rewrites headerless VIAME-style annotation
// tables and derives image manifests from them.
//
// Tables are ragged: the column count is inferred per file from the widest
// row and shorter rows are padded with empty cells. Column 0 holds the
// detection or track id, column 1 the image file name, and column 2 the frame
// index; every other column is carried through untouched. Leading comment
// lines (starting with '#') are preserved as a preamble.
package annotations
