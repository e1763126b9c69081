package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

const utf8BOM = "\ufeff"

// CSVReader reads rows from a CSV table whose first record is the header.
type CSVReader struct {
	r       *csv.Reader
	columns []string
	line    int
}

// NewCSVReader reads the header from r. Records shorter than the header get
// empty values for the missing columns; extra fields are ignored.
func NewCSVReader(r io.Reader) (*CSVReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return &CSVReader{r: cr}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	columns := make([]string, len(header))
	copy(columns, header)
	return &CSVReader{r: cr, columns: columns, line: 1}, nil
}

// Columns returns the header.
func (c *CSVReader) Columns() []string {
	columns := make([]string, len(c.columns))
	copy(columns, c.columns)
	return columns
}

// Next returns the next row, or io.EOF at the end of the table.
func (c *CSVReader) Next() (*Row, error) {
	if c.columns == nil {
		return nil, io.EOF
	}
	record, err := c.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	c.line++
	if err != nil {
		return nil, fmt.Errorf("reading CSV record %d: %w", c.line, err)
	}

	row := NewRow()
	for i, column := range c.columns {
		value := ""
		if i < len(record) {
			value = record[i]
		}
		row.Set(column, value)
	}
	return row, nil
}

// Close is a no-op; the caller owns the underlying reader.
func (c *CSVReader) Close() error {
	return nil
}

// CSVWriter writes rows as CSV under a fixed header.
type CSVWriter struct {
	w             *csv.Writer
	columns       []string
	headerWritten bool
}

// NewCSVWriter creates a writer for the given columns. With no columns the
// header is taken from the first row written.
func NewCSVWriter(w io.Writer, columns []string) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), columns: columns}
}

// Write writes row's values for the writer's columns. Columns the row lacks
// are written empty; columns the header lacks are dropped. Undecodable JSONL
// lines have no CSV form and yield an error wrapping ErrMalformedRow.
func (c *CSVWriter) Write(row *Row) error {
	if row.Malformed() {
		return fmt.Errorf("%w: undecodable line has no CSV form", ErrMalformedRow)
	}
	if c.columns == nil {
		c.columns = row.Columns()
	}
	if !c.headerWritten {
		if err := c.w.Write(c.columns); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
		c.headerWritten = true
	}

	record := make([]string, len(c.columns))
	for i, column := range c.columns {
		record[i] = row.Value(column)
	}
	if err := c.w.Write(record); err != nil {
		return fmt.Errorf("writing CSV record: %w", err)
	}
	return nil
}

// Close writes the header if nothing was written and flushes buffered
// records.
func (c *CSVWriter) Close() error {
	if !c.headerWritten && c.columns != nil {
		if err := c.w.Write(c.columns); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
		c.headerWritten = true
	}
	c.w.Flush()
	return c.w.Error()
}
