package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSONLReader reads rows from a JSON Lines table, one object per line.
type JSONLReader struct {
	r    *bufio.Reader
	line int
}

// NewJSONLReader creates a reader over r. Lines have no length limit.
func NewJSONLReader(r io.Reader) *JSONLReader {
	return &JSONLReader{r: bufio.NewReader(r)}
}

// Columns returns nil; JSONL rows carry their own keys.
func (j *JSONLReader) Columns() []string {
	return nil
}

// Next returns the next row, or io.EOF at the end of the input. Blank lines
// are skipped. A line that is not a JSON object comes back as a malformed
// row that writes itself back verbatim.
func (j *JSONLReader) Next() (*Row, error) {
	for {
		line, err := j.r.ReadBytes('\n')
		if len(line) == 0 && err == io.EOF {
			return nil, io.EOF
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading JSONL line %d: %w", j.line+1, err)
		}
		j.line++

		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return decodeRow(line), nil
	}
}

// Close is a no-op; the caller owns the underlying reader.
func (j *JSONLReader) Close() error {
	return nil
}

func decodeRow(line []byte) *Row {
	row := NewRow()
	obj, err := decodeObject(line)
	if err != nil {
		row.raw = append([]byte(nil), line...)
		return row
	}
	for _, key := range obj.keys {
		value := obj.values[key]
		var text string
		if err := json.Unmarshal(value, &text); err == nil {
			row.Set(key, text)
			continue
		}
		row.setEmbedded(key, string(value))
	}
	return row
}

// JSONLWriter writes rows as JSON Lines.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a writer over w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: bufio.NewWriter(w)}
}

// Write writes one row as a JSON object with its columns in order. Values
// read as non-string JSON are written back as JSON; undecodable lines are
// written back as read.
func (j *JSONLWriter) Write(row *Row) error {
	if row.Malformed() {
		return j.writeLine(row.raw)
	}

	obj := newObject()
	for _, column := range row.columns {
		value := row.values[column]
		if row.embedded[column] {
			obj.set(column, json.RawMessage(value))
			continue
		}
		encoded, err := marshalJSON(value)
		if err != nil {
			return fmt.Errorf("encoding column %q: %w", column, err)
		}
		obj.set(column, encoded)
	}
	data, err := obj.marshal()
	if err != nil {
		return err
	}
	return j.writeLine(data)
}

func (j *JSONLWriter) writeLine(data []byte) error {
	if _, err := j.w.Write(data); err != nil {
		return fmt.Errorf("writing JSONL line: %w", err)
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing JSONL line: %w", err)
	}
	return nil
}

// Close flushes buffered lines.
func (j *JSONLWriter) Close() error {
	return j.w.Flush()
}
