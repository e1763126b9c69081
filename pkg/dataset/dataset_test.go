package dataset

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path     string
		expected Format
	}{
		{"CSVs/data.csv", FormatCSV},
		{"data.CSV", FormatCSV},
		{"data.jsonl", FormatJSONL},
		{"data.json", FormatJSONL},
		{"data", FormatJSONL},
	}

	for _, tt := range tests {
		if got := FormatOf(tt.path); got != tt.expected {
			t.Errorf("FormatOf(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func readAll(t *testing.T, r Reader) []*Row {
	t.Helper()
	var rows []*Row
	for {
		row, err := r.Next()
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		rows = append(rows, row)
	}
}

func TestCSVReader(t *testing.T) {
	input := "\ufeffuuid,part_number,analysis,part_content\n" +
		"u1,1,\"{\"\"articles de loi\"\":[\"\"art. 1\"\"]}\",\"line one\nline two\"\n" +
		"u2,2\n" +
		"u3,3,{},text,extra\n"

	r, err := NewCSVReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVReader() error = %v", err)
	}
	expectedColumns := []string{"uuid", "part_number", "analysis", "part_content"}
	if !reflect.DeepEqual(r.Columns(), expectedColumns) {
		t.Fatalf("Columns() = %v, want %v", r.Columns(), expectedColumns)
	}

	rows := readAll(t, r)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if got := rows[0].Value(ColumnAnalysis); got != `{"articles de loi":["art. 1"]}` {
		t.Errorf("row 1 analysis = %q", got)
	}
	if got := rows[0].Value(ColumnPartContent); got != "line one\nline two" {
		t.Errorf("row 1 part_content = %q", got)
	}
	if value, ok := rows[1].Get(ColumnAnalysis); !ok || value != "" {
		t.Errorf("row 2 analysis = %q, %v; want empty and present", value, ok)
	}
	if !reflect.DeepEqual(rows[2].Columns(), expectedColumns) {
		t.Errorf("row 3 columns = %v, want extras dropped", rows[2].Columns())
	}
}

func TestCSVReaderEmpty(t *testing.T) {
	r, err := NewCSVReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("NewCSVReader() error = %v", err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf, []string{"uuid", "analysis"})

	row := NewRow()
	row.Set("uuid", "u1")
	row.Set("analysis", `{"articles de loi":["art. 1, al. 2"]}`)
	row.Set("ignored", "x")
	if err := w.Write(row); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := NewCSVReader(&buf)
	if err != nil {
		t.Fatalf("NewCSVReader() error = %v", err)
	}
	rows := readAll(t, r)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if !reflect.DeepEqual(rows[0].Columns(), []string{"uuid", "analysis"}) {
		t.Errorf("Columns() = %v", rows[0].Columns())
	}
	if got := rows[0].Value("analysis"); got != `{"articles de loi":["art. 1, al. 2"]}` {
		t.Errorf("analysis = %q", got)
	}
}

func TestCSVWriterHeaderFromFirstRow(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf, nil)

	row := NewRow()
	row.Set("uuid", "u1")
	row.Set("part_number", "2")
	if err := w.Write(row); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	expected := "uuid,part_number\nu1,2\n"
	if buf.String() != expected {
		t.Errorf("output = %q, want %q", buf.String(), expected)
	}
}

func TestCSVWriterHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf, []string{"uuid", "analysis"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.String() != "uuid,analysis\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestCSVWriterRejectsMalformedRow(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf, []string{"uuid"})
	row := decodeRow([]byte("not json"))
	if err := w.Write(row); !errors.Is(err, ErrMalformedRow) {
		t.Errorf("Write() error = %v, want ErrMalformedRow", err)
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	input := `{"uuid":"u1","part_number":3,"analysis":"{\"articles de loi\":[\"art. 1\"]}","meta":{"a":[1,2]}}` + "\n" +
		"\n" +
		"not json at all\n" +
		`{"uuid":"u2","note":"a < b & c","name":"Zürich"}`

	r := NewJSONLReader(strings.NewReader(input))
	rows := readAll(t, r)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	first := rows[0]
	if first.UUID() != "u1" || first.PartNumber() != "3" {
		t.Errorf("uuid/part = %q/%q", first.UUID(), first.PartNumber())
	}
	if !first.Embedded("part_number") || first.Embedded("uuid") {
		t.Error("part_number should be embedded and uuid should not")
	}
	if got := first.Value(ColumnAnalysis); got != `{"articles de loi":["art. 1"]}` {
		t.Errorf("analysis = %q", got)
	}
	if !rows[1].Malformed() {
		t.Error("second row should be malformed")
	}

	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	expected := `{"uuid":"u1","part_number":3,"analysis":"{\"articles de loi\":[\"art. 1\"]}","meta":{"a":[1,2]}}` + "\n" +
		"not json at all\n" +
		`{"uuid":"u2","note":"a < b & c","name":"Zürich"}` + "\n"
	if buf.String() != expected {
		t.Errorf("output =\n%s\nwant\n%s", buf.String(), expected)
	}
}

func TestJSONLWriterDropsDeletedColumn(t *testing.T) {
	row := decodeRow([]byte(`{"uuid":"u1","part_content":"long text","analysis":"{}"}`))
	row.Delete(ColumnPartContent)

	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	if err := w.Write(row); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.String() != `{"uuid":"u1","analysis":"{}"}`+"\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRow(t *testing.T) {
	row := NewRow()
	if row.PartNumber() != "0" {
		t.Errorf("PartNumber() = %q, want %q", row.PartNumber(), "0")
	}
	row.Set("uuid", "u1")
	row.Set("analysis", "{}")
	row.Set("uuid", "u2")
	if !reflect.DeepEqual(row.Columns(), []string{"uuid", "analysis"}) {
		t.Errorf("Columns() = %v", row.Columns())
	}
	if row.UUID() != "u2" {
		t.Errorf("UUID() = %q, want %q", row.UUID(), "u2")
	}
	row.Delete("uuid")
	row.Delete("missing")
	if _, ok := row.Get("uuid"); ok {
		t.Error("uuid should be deleted")
	}
	if !reflect.DeepEqual(row.Columns(), []string{"analysis"}) {
		t.Errorf("Columns() after delete = %v", row.Columns())
	}
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis(`{"doctrine":["d"],"articles de loi":["art. 1",5,"ZGB"],"jurisprudence":[]}`)
	if err != nil {
		t.Fatalf("ParseAnalysis() error = %v", err)
	}

	entries, err := a.Entries(KeyArticles)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if !entries[0].IsText || entries[0].Text != "art. 1" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].IsText || string(entries[1].Raw) != "5" {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	entries[0] = TextEntry("art. 1 ZGB & <x>")
	if err := a.SetEntries(KeyArticles, entries); err != nil {
		t.Fatalf("SetEntries() error = %v", err)
	}
	got, err := a.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	expected := `{"doctrine":["d"],"articles de loi":["art. 1 ZGB & <x>",5,"ZGB"],"jurisprudence":[]}`
	if got != expected {
		t.Errorf("Marshal() = %s, want %s", got, expected)
	}
}

func TestAnalysisHas(t *testing.T) {
	a, err := ParseAnalysis(`{"a":["x"],"b":[],"c":null,"d":"","e":"text","f":{},"g":{"k":1},"h":0,"i":false,"j":2}`)
	if err != nil {
		t.Fatalf("ParseAnalysis() error = %v", err)
	}

	tests := []struct {
		key      string
		expected bool
	}{
		{"a", true},
		{"b", false},
		{"c", false},
		{"d", false},
		{"e", true},
		{"f", false},
		{"g", true},
		{"h", false},
		{"i", false},
		{"j", true},
		{"missing", false},
	}

	for _, tt := range tests {
		if got := a.Has(tt.key); got != tt.expected {
			t.Errorf("Has(%q) = %v, want %v", tt.key, got, tt.expected)
		}
	}
}

func TestParseAnalysisErrors(t *testing.T) {
	for _, input := range []string{"", "not json", "[1,2]", `"text"`, `{"a":1} extra`} {
		if _, err := ParseAnalysis(input); !errors.Is(err, ErrMalformedRow) {
			t.Errorf("ParseAnalysis(%q) error = %v, want ErrMalformedRow", input, err)
		}
	}

	a, err := ParseAnalysis(`{"articles de loi":"art. 1"}`)
	if err != nil {
		t.Fatalf("ParseAnalysis() error = %v", err)
	}
	if _, err := a.Entries(KeyArticles); !errors.Is(err, ErrMalformedRow) {
		t.Errorf("Entries() on a string error = %v, want ErrMalformedRow", err)
	}
	entries, err := a.Entries(KeyDoctrine)
	if err != nil || entries != nil {
		t.Errorf("Entries() on missing key = %v, %v", entries, err)
	}
}

func TestOpenAndCreate(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	content := "uuid,part_number,analysis,part_content\nu1,1,{},text\n"
	if err := os.WriteFile(input, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := Open(input)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	output := filepath.Join(dir, "nested", "out.jsonl")
	w, err := Create(output, r.Columns())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for _, row := range readAll(t, r) {
		row.Delete(ColumnPartContent)
		if err := w.Write(row); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	expected := `{"uuid":"u1","part_number":"1","analysis":"{}"}` + "\n"
	if string(got) != expected {
		t.Errorf("output = %q, want %q", got, expected)
	}

	if _, err := Open(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("Open() on missing file should return error")
	}
}

type logEntry struct {
	ElementID string `json:"element_id"`
	Citation  string `json:"citation"`
}

func TestLogWriterAndReadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "entries.jsonl")
	log, err := CreateLog(path)
	if err != nil {
		t.Fatalf("CreateLog() error = %v", err)
	}
	entries := []logEntry{
		{ElementID: "u1_1", Citation: "art. 1 & 2"},
		{ElementID: "u2_0", Citation: "Loi fédérale"},
	}
	for _, entry := range entries {
		if err := log.Write(entry); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if log.Count() != 2 {
		t.Errorf("Count() = %d, want 2", log.Count())
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(raw), `{"element_id":"u1_1","citation":"art. 1 & 2"}`+"\n") {
		t.Errorf("log content = %q", raw)
	}

	got, err := ReadJSONL[logEntry](path)
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Errorf("ReadJSONL() = %+v, want %+v", got, entries)
	}
}

func TestScanJSONLErrors(t *testing.T) {
	input := `{"element_id":"a","citation":"x"}` + "\n" + "{broken\n"
	var seen int
	err := ScanJSONL(strings.NewReader(input), func(logEntry) error {
		seen++
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("ScanJSONL() error = %v, want line 2 failure", err)
	}
	if seen != 1 {
		t.Errorf("seen = %d, want 1", seen)
	}

	stop := errors.New("stop")
	err = ScanJSONL(strings.NewReader(`{"element_id":"a"}`), func(logEntry) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("ScanJSONL() error = %v, want callback error", err)
	}
}
