// Package dataset reads and writes the row-oriented citation tables that
// lexclean processes, in CSV or JSON Lines form, and the JSONL logs it
// produces.
package dataset

import "errors"

// Column names the pipeline relies on.
const (
	ColumnUUID        = "uuid"
	ColumnPartNumber  = "part_number"
	ColumnAnalysis    = "analysis"
	ColumnPartContent = "part_content"
)

// ErrMalformedRow marks a row whose analysis cannot be interpreted. Such
// rows are passed through unchanged.
var ErrMalformedRow = errors.New("malformed row")

// Row is one input record with its columns in source order. Values are kept
// as text; JSONL values that were not JSON strings are kept as their raw
// JSON text and written back the same way.
type Row struct {
	columns  []string
	values   map[string]string
	embedded map[string]bool

	// raw holds a JSONL line that could not be decoded; it is written back
	// verbatim.
	raw []byte
}

// NewRow creates an empty row.
func NewRow() *Row {
	return &Row{
		values:   make(map[string]string),
		embedded: make(map[string]bool),
	}
}

// Columns returns the row's column names in source order.
func (r *Row) Columns() []string {
	columns := make([]string, len(r.columns))
	copy(columns, r.columns)
	return columns
}

// Get returns a column's value and whether it is present.
func (r *Row) Get(column string) (string, bool) {
	value, ok := r.values[column]
	return value, ok
}

// Value returns a column's value, or "" when absent.
func (r *Row) Value(column string) string {
	return r.values[column]
}

// Set assigns a column, appending it when new.
func (r *Row) Set(column, value string) {
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Delete removes a column.
func (r *Row) Delete(column string) {
	if _, ok := r.values[column]; !ok {
		return
	}
	delete(r.values, column)
	delete(r.embedded, column)
	for i, name := range r.columns {
		if name == column {
			r.columns = append(r.columns[:i], r.columns[i+1:]...)
			break
		}
	}
}

// Embedded reports whether a JSONL column held a JSON value other than a
// string.
func (r *Row) Embedded(column string) bool {
	return r.embedded[column]
}

// Malformed reports whether the row is an undecodable JSONL line.
func (r *Row) Malformed() bool {
	return r.raw != nil
}

// UUID returns the row's uuid column.
func (r *Row) UUID() string {
	return r.values[ColumnUUID]
}

// PartNumber returns the row's part number, "0" when absent.
func (r *Row) PartNumber() string {
	if part := r.values[ColumnPartNumber]; part != "" {
		return part
	}
	return "0"
}

func (r *Row) setEmbedded(column, value string) {
	r.Set(column, value)
	r.embedded[column] = true
}
