package annotations

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"refinebox/internal/fileutil"
	"refinebox/internal/services"
)

const (
	ColumnID       = 0
	ColumnFilename = 1
	ColumnFrame    = 2
)

// Table is an untyped, rectangular view of an annotation CSV.
type Table struct {
	// Preamble holds comment lines that precede the data rows, without line endings.
	Preamble []string
	// Comments holds comment lines that follow the first data row, keyed by
	// the index of the row they precede; len(Rows) keys trailing lines.
	Comments map[int][]string
	// Rows are padded so every row has Width cells.
	Rows  [][]string
	Width int
}

// ReadTable loads path as a ragged CSV table.
func ReadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read annotation table: %w", err)
	}
	table, err := ParseTable(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return table, nil
}

// ParseTable reads a ragged CSV table from r. Lines starting with '#' are
// kept in place: before the first row in Preamble, after it in Comments.
func ParseTable(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	table := &Table{}
	var chunk bytes.Buffer
	flush := func() error {
		if chunk.Len() == 0 {
			return nil
		}
		records, err := parseRecords(&chunk)
		chunk.Reset()
		if err != nil {
			return err
		}
		table.Rows = append(table.Rows, records...)
		return nil
	}
	for {
		line, readErr := br.ReadString('\n')
		if strings.HasPrefix(line, "#") {
			if err := flush(); err != nil {
				return nil, err
			}
			text := strings.TrimRight(line, "\r\n")
			if len(table.Rows) == 0 {
				table.Preamble = append(table.Preamble, text)
			} else {
				table.addComment(len(table.Rows), text)
			}
		} else {
			chunk.WriteString(line)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read annotation table: %w", readErr)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	for _, row := range table.Rows {
		if len(row) > table.Width {
			table.Width = len(row)
		}
	}
	table.pad()
	return table, nil
}

// parseRecords reads the data lines between two comment lines. A quoted
// field cannot span a comment line.
func parseRecords(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "annotations", "parse", "malformed csv", err)
		}
		records = append(records, record)
	}
}

func (t *Table) addComment(row int, line string) {
	if t.Comments == nil {
		t.Comments = make(map[int][]string)
	}
	t.Comments[row] = append(t.Comments[row], line)
}

func (t *Table) pad() {
	for i, row := range t.Rows {
		if len(row) < t.Width {
			padded := make([]string, t.Width)
			copy(padded, row)
			t.Rows[i] = padded
		}
	}
}

// Column returns the cells of column idx, or an error when the table is narrower.
func (t *Table) Column(idx int) ([]string, error) {
	if len(t.Rows) > 0 && idx >= t.Width {
		return nil, services.Wrap(
			services.ErrValidation,
			"annotations",
			"column",
			fmt.Sprintf("table has %d columns, need at least %d", t.Width, idx+1),
			nil,
		)
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// DropEmptyColumns removes every column after the frame column whose cells
// are empty in all rows and returns the number of columns removed. The id,
// filename and frame columns always stay so later passes read the same layout.
func (t *Table) DropEmptyColumns() int {
	if len(t.Rows) == 0 {
		return 0
	}
	keep := make([]int, 0, t.Width)
	for col := 0; col < t.Width; col++ {
		if col <= ColumnFrame {
			keep = append(keep, col)
			continue
		}
		for _, row := range t.Rows {
			if row[col] != "" {
				keep = append(keep, col)
				break
			}
		}
	}
	dropped := t.Width - len(keep)
	if dropped == 0 {
		return 0
	}
	for i, row := range t.Rows {
		trimmed := make([]string, len(keep))
		for j, col := range keep {
			trimmed[j] = row[col]
		}
		t.Rows[i] = trimmed
	}
	t.Width = len(keep)
	return dropped
}

// Encode writes the table as CSV with no header and no row index.
func (t *Table) Encode(w io.Writer) error {
	for _, line := range t.Preamble {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	writer := csv.NewWriter(w)
	for i, row := range t.Rows {
		if err := t.writeComments(w, writer, i); err != nil {
			return err
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if err := t.writeComments(w, writer, len(t.Rows)); err != nil {
		return err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func (t *Table) writeComments(w io.Writer, writer *csv.Writer, row int) error {
	lines := t.Comments[row]
	if len(lines) == 0 {
		return nil
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile replaces path with the encoded table. A failed write leaves the
// original file intact.
func (t *Table) WriteFile(path string) error {
	return fileutil.WriteAtomic(path, t.Encode)
}

// UniqueFilenames returns the distinct image file names of the table in order
// of first appearance.
func (t *Table) UniqueFilenames() ([]string, error) {
	names, err := t.Column(ColumnFilename)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique, nil
}
