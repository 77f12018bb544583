package annotations

import (
	"fmt"
	"strconv"

	"refinebox/internal/services"
)

// NormalizeResult summarizes a frame index rewrite.
type NormalizeResult struct {
	Rows           int
	Images         int
	DroppedColumns int
	// Changed reports whether any frame index cell differed from its rewritten value.
	Changed bool
}

// AssignFrameIndices rewrites the frame column so each row holds the zero-based
// rank of its file name among the table's unique file names in first-appearance
// order. Rows that share a file name share an index wherever they appear.
func (t *Table) AssignFrameIndices() (NormalizeResult, error) {
	if len(t.Rows) > 0 && t.Width <= ColumnFilename {
		return NormalizeResult{}, services.Wrap(
			services.ErrValidation,
			"normalize",
			"filename column",
			fmt.Sprintf("table has %d columns, need at least %d", t.Width, ColumnFilename+1),
			nil,
		)
	}
	if len(t.Rows) > 0 && t.Width == ColumnFrame {
		t.Width = ColumnFrame + 1
		t.pad()
	}
	index := make(map[string]int)
	result := NormalizeResult{Rows: len(t.Rows)}
	for _, row := range t.Rows {
		name := row[ColumnFilename]
		rank, ok := index[name]
		if !ok {
			rank = len(index)
			index[name] = rank
		}
		value := strconv.Itoa(rank)
		if row[ColumnFrame] != value {
			result.Changed = true
		}
		row[ColumnFrame] = value
	}
	result.Images = len(index)
	return result, nil
}

// NormalizeFile rewrites the frame indices of the annotation file at path in
// place and drops columns that are empty in every row. This is destructive;
// callers that keep the file under version control must unprotect it first.
func NormalizeFile(path string) (NormalizeResult, error) {
	table, err := ReadTable(path)
	if err != nil {
		return NormalizeResult{}, err
	}
	result, err := table.AssignFrameIndices()
	if err != nil {
		return NormalizeResult{}, fmt.Errorf("%s: %w", path, err)
	}
	result.DroppedColumns = table.DropEmptyColumns()
	if err := table.WriteFile(path); err != nil {
		return NormalizeResult{}, err
	}
	return result, nil
}
