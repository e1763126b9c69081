package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format is a table encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// FormatOf picks the format from a file extension: ".csv" is CSV, anything
// else is JSON Lines.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSONL
}

// Reader yields table rows in order.
type Reader interface {
	// Columns returns the table header, or nil when rows carry their own keys.
	Columns() []string
	// Next returns the next row, or io.EOF after the last one.
	Next() (*Row, error)
	Close() error
}

// Writer writes table rows in order.
type Writer interface {
	Write(row *Row) error
	Close() error
}

// Open opens a table for reading in the format its extension selects.
func Open(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	if FormatOf(path) == FormatJSONL {
		return &fileReader{Reader: NewJSONLReader(f), file: f}, nil
	}
	r, err := NewCSVReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &fileReader{Reader: r, file: f}, nil
}

// Create creates a table for writing, making parent directories as needed.
// columns fixes the CSV header; it is ignored for JSON Lines.
func Create(path string, columns []string) (Writer, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	if FormatOf(path) == FormatCSV {
		return &fileWriter{Writer: NewCSVWriter(f, columns), file: f}, nil
	}
	return &fileWriter{Writer: NewJSONLWriter(f), file: f}, nil
}

type fileReader struct {
	Reader
	file *os.File
}

func (r *fileReader) Close() error {
	return r.file.Close()
}

type fileWriter struct {
	Writer
	file *os.File
}

func (w *fileWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, nil
}

// LogWriter appends one JSON value per line to a log file.
type LogWriter struct {
	file  *os.File
	w     *bufio.Writer
	enc   *json.Encoder
	count int
}

// CreateLog creates a JSONL log file, making parent directories as needed.
func CreateLog(path string) (*LogWriter, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return NewLogWriter(f, f), nil
}

// NewLogWriter writes log lines to w. file, when non-nil, is closed by
// Close.
func NewLogWriter(w io.Writer, file *os.File) *LogWriter {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &LogWriter{file: file, w: bw, enc: enc}
}

// Write appends v as one line.
func (l *LogWriter) Write(v any) error {
	if err := l.enc.Encode(v); err != nil {
		return fmt.Errorf("writing log entry: %w", err)
	}
	l.count++
	return nil
}

// Count returns the number of entries written.
func (l *LogWriter) Count() int {
	return l.count
}

// Close flushes the log and closes its file.
func (l *LogWriter) Close() error {
	if err := l.w.Flush(); err != nil {
		if l.file != nil {
			l.file.Close()
		}
		return fmt.Errorf("flushing log: %w", err)
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ScanJSONL decodes each non-blank line of r into a T and hands it to fn.
// Decoding stops at the first invalid line or the first error fn returns.
func ScanJSONL[T any](r io.Reader, fn func(T) error) error {
	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading line %d: %w", lineNo, err)
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var v T
			if decodeErr := json.Unmarshal(trimmed, &v); decodeErr != nil {
				return fmt.Errorf("decoding line %d: %w", lineNo, decodeErr)
			}
			if fnErr := fn(v); fnErr != nil {
				return fnErr
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

// ReadJSONL reads every entry of a JSONL file.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var entries []T
	err = ScanJSONL(f, func(v T) error {
		entries = append(entries, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return entries, nil
}
