package preprocess

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/coolbeans/lexclean/pkg/citation"
	"github.com/coolbeans/lexclean/pkg/dataset"
	"github.com/coolbeans/lexclean/pkg/lexicon"
	"github.com/coolbeans/lexclean/pkg/reftable"
	"github.com/coolbeans/lexclean/pkg/review"
)

func newEngine(t *testing.T) *citation.Engine {
	t.Helper()
	engine, err := citation.NewEngine(lexicon.Default())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func writeCSV(t *testing.T, path string, records [][]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readRows(t *testing.T, path string) []*dataset.Row {
	t.Helper()
	r, err := dataset.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", path, err)
	}
	defer r.Close()
	var rows []*dataset.Row
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

func testOptions(dir, input, output string) Options {
	return Options{
		Input:           filepath.Join(dir, input),
		Output:          filepath.Join(dir, output),
		Failures:        filepath.Join(dir, "logs", "failures.jsonl"),
		Transformations: filepath.Join(dir, "logs", "transformations.txt"),
		Rejected:        filepath.Join(dir, "logs", "rejected.jsonl"),
		Review:          filepath.Join(dir, "logs", "review.jsonl"),
		ExampleLimit:    20,
		ProgressEvery:   2,
		RunID:           "run-1",
	}
}

func TestRunCSV(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, "in.csv", "out/out.csv")
	writeCSV(t, opts.Input, [][]string{
		{"uuid", "part_number", "analysis", "part_content"},
		{"u1", "1",
			`{"articles de loi":["art. 128","Loi cantonale, RS 131.211","125","207ff."],"jurisprudence":["ATF 1"]}`,
			"Selon l'art. 128 et la Loi cantonale, RS 131.211, le canton décide."},
		{"u2", "2",
			`{"articles de loi":["43 aCP","Loi sur l'administration3","StGB Art. 10","ZGB Art. 2","art. 5"]}`,
			""},
		{"u3", "3", "not json", "text"},
		{"u4", "4", `{"jurisprudence":["ATF 140 III 1"],"doctrine":["X"],"articles de loi":[]}`, "text"},
		{"u5", "5", `{"articles de loi":["Abs. 2",7,"art. 9 ZGB"]}`, "text"},
	})

	sink := review.NewMemorySink()
	p, err := NewProcessor(opts, Deps{Engine: newEngine(t), Sink: sink})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	t.Run("output", func(t *testing.T) {
		rows := readRows(t, opts.Output)
		expected := map[string]string{
			"u1": `{"articles de loi":["art. 128 RS 131.211","Loi cantonale, RS 131.211"],"jurisprudence":["ATF 1"]}`,
			"u2": `{"articles de loi":["43 a CP","Loi sur l'administration","StGB Art. 10","ZGB Art. 2","art. 5"]}`,
			"u3": "not json",
			"u4": `{"jurisprudence":["ATF 140 III 1"],"doctrine":["X"],"articles de loi":[]}`,
			"u5": `{"articles de loi":[7,"art. 9 ZGB"]}`,
		}
		if len(rows) != len(expected) {
			t.Fatalf("got %d rows, want %d", len(rows), len(expected))
		}
		for _, row := range rows {
			if !reflect.DeepEqual(row.Columns(), []string{"uuid", "part_number", "analysis"}) {
				t.Errorf("row %s columns = %v", row.UUID(), row.Columns())
			}
			if got := row.Value(dataset.ColumnAnalysis); got != expected[row.UUID()] {
				t.Errorf("row %s analysis = %s\nwant %s", row.UUID(), got, expected[row.UUID()])
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		checks := []struct {
			name     string
			got      int
			expected int
		}{
			{"TotalRows", stats.TotalRows, 5},
			{"ArticlesRows", stats.ArticlesRows, 3},
			{"JurisprudenceRows", stats.JurisprudenceRows, 1},
			{"DoctrineRows", stats.DoctrineRows, 1},
			{"MalformedRows", stats.MalformedRows, 1},
			{"CitationsProcessed", stats.CitationsProcessed, 11},
			{"NonTextEntries", stats.NonTextEntries, 1},
			{"Kept", stats.Kept, 8},
			{"RemovedDigitOnly", stats.RemovedDigitOnly, 1},
			{"RemovedGarbage", stats.RemovedGarbage, 2},
			{"Changed", stats.Changed, 2},
			{"Enriched", stats.Enriched, 1},
			{"EnrichedResolved", stats.EnrichedResolved, 1},
			{"ShortFragments", stats.ShortFragments, 2},
			{"ReviewItems", stats.ReviewItems, 3},
			{"Transformations", stats.Transformations, 3},
			{"SinkErrors", stats.SinkErrors, 0},
		}
		for _, c := range checks {
			if c.got != c.expected {
				t.Errorf("%s = %d, want %d", c.name, c.got, c.expected)
			}
		}
		expectedReasons := map[string]int{"digit_only": 1, "page_ref": 1, "fragment": 1}
		if !reflect.DeepEqual(stats.RemovedByReason, expectedReasons) {
			t.Errorf("RemovedByReason = %v, want %v", stats.RemovedByReason, expectedReasons)
		}
		if stats.Kept+stats.Removed() != stats.CitationsProcessed {
			t.Errorf("kept %d + removed %d != processed %d", stats.Kept, stats.Removed(), stats.CitationsProcessed)
		}
		if !reflect.DeepEqual(stats.EnrichedExamples, []string{"art. 128 → art. 128 RS 131.211"}) {
			t.Errorf("EnrichedExamples = %v", stats.EnrichedExamples)
		}
		if stats.RunID != "run-1" {
			t.Errorf("RunID = %q", stats.RunID)
		}
	})

	t.Run("rejected log", func(t *testing.T) {
		entries, err := dataset.ReadJSONL[RejectedEntry](opts.Rejected)
		if err != nil {
			t.Fatalf("ReadJSONL() error = %v", err)
		}
		expected := []RejectedEntry{
			{ElementID: "u1_1", Citation: "125", Normalized: "125", Category: CategoryDigitOnly},
			{ElementID: "u1_1", Citation: "207ff.", Normalized: "207ff.", Category: "GARBAGE_PAGE_REF"},
			{ElementID: "u5_5", Citation: "Abs. 2", Normalized: "Abs. 2", Category: "GARBAGE_FRAGMENT"},
		}
		if !reflect.DeepEqual(entries, expected) {
			t.Errorf("rejected = %+v\nwant %+v", entries, expected)
		}
	})

	t.Run("failures log", func(t *testing.T) {
		entries, err := dataset.ReadJSONL[FailureEntry](opts.Failures)
		if err != nil {
			t.Fatalf("ReadJSONL() error = %v", err)
		}
		expected := []FailureEntry{
			{UUID: "u1", PartNumber: "1", Original: "art. 128", Normalized: "art. 128", Reason: citation.ReasonShortFragment},
			{UUID: "u2", PartNumber: "2", Original: "art. 5", Normalized: "art. 5", Reason: citation.ReasonShortFragment},
		}
		if !reflect.DeepEqual(entries, expected) {
			t.Errorf("failures = %+v\nwant %+v", entries, expected)
		}
	})

	t.Run("review", func(t *testing.T) {
		expected := []review.Item{
			{RunID: "run-1", RecordID: "u1_1", Original: "art. 128", Normalized: "art. 128", Label: "RESCUABLE_ARTICLE_ONLY", Reason: citation.ReasonShortFragment},
			{RunID: "run-1", RecordID: "u2_2", Original: "Loi sur l'administration3", Normalized: "Loi sur l'administration", Label: "UNKNOWN", Reason: citation.ReasonUnknown},
			{RunID: "run-1", RecordID: "u2_2", Original: "art. 5", Normalized: "art. 5", Label: "RESCUABLE_ARTICLE_ONLY", Reason: citation.ReasonShortFragment},
		}
		if got := sink.Items(); !reflect.DeepEqual(got, expected) {
			t.Errorf("sink items = %+v\nwant %+v", got, expected)
		}
		logged, err := dataset.ReadJSONL[review.Item](opts.Review)
		if err != nil {
			t.Fatalf("ReadJSONL() error = %v", err)
		}
		if !reflect.DeepEqual(logged, expected) {
			t.Errorf("review log = %+v\nwant %+v", logged, expected)
		}
	})

	t.Run("transformations log", func(t *testing.T) {
		data, err := os.ReadFile(opts.Transformations)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) != 3 {
			t.Fatalf("got %d lines, want 3:\n%s", len(lines), data)
		}
		if !strings.HasPrefix(lines[0], "art. 128 | art. 128 RS 131.211 | ") || !strings.Contains(lines[0], "Loi cantonale") {
			t.Errorf("line 1 = %q", lines[0])
		}
		if lines[1] != "43 aCP | 43 a CP | " {
			t.Errorf("line 2 = %q", lines[1])
		}
		if lines[2] != "Loi sur l'administration3 | Loi sur l'administration | " {
			t.Errorf("line 3 = %q", lines[2])
		}
	})
}

func TestRunResolvesEnrichedReferences(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, "in.csv", "out.csv")
	writeCSV(t, opts.Input, [][]string{
		{"uuid", "part_number", "analysis"},
		{"u1", "1", `{"articles de loi":["art. 5","ZGB Art. 2"]}`},
		{"u2", "2", `{"articles de loi":["art. 9","StGB Art. 10"]}`},
	})
	tablePath := filepath.Join(dir, "triplets.json")
	if err := os.WriteFile(tablePath, []byte(`{"210": {"de": "ZGB", "fr": "CC"}}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	references, err := reftable.Load(tablePath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	p, err := NewProcessor(opts, Deps{Engine: newEngine(t), References: references})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Enriched != 2 || stats.EnrichedResolved != 1 {
		t.Errorf("Enriched = %d, EnrichedResolved = %d, want 2 and 1", stats.Enriched, stats.EnrichedResolved)
	}
	expected := []string{
		"art. 5 → art. 5 ZGB (RS 210)",
		"art. 9 → art. 9 STGB",
	}
	if !reflect.DeepEqual(stats.EnrichedExamples, expected) {
		t.Errorf("EnrichedExamples = %q, want %q", stats.EnrichedExamples, expected)
	}
}

func TestRunJSONL(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, "in.jsonl", "out.jsonl")
	opts.Failures, opts.Transformations, opts.Review = "", "", ""
	input := `{"uuid":"j1","part_number":1,"analysis":"{\"articles de loi\":[\"art. 128\",\"RS 131.211\"]}","part_content":"art. 128 RS 131.211"}` + "\n" +
		"\n" +
		"garbage line\n"
	if err := os.WriteFile(opts.Input, []byte(input), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := NewProcessor(opts, Deps{Engine: newEngine(t)})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(opts.Output)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	expected := `{"uuid":"j1","part_number":1,"analysis":"{\"articles de loi\":[\"art. 128 RS 131.211\",\"RS 131.211\"]}"}` + "\n" +
		"garbage line\n"
	if string(data) != expected {
		t.Errorf("output =\n%s\nwant\n%s", data, expected)
	}
	if stats.TotalRows != 2 || stats.MalformedRows != 1 || stats.Enriched != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "failures.jsonl")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("failures log should not be written when its path is empty")
	}
}

type failingSink struct{ calls int }

func (f *failingSink) Write(context.Context, []review.Item) error {
	f.calls++
	return errors.New("connection refused")
}

func (f *failingSink) Close() error { return nil }

func TestRunSinkErrorsDoNotAbort(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, "in.csv", "out.csv")
	writeCSV(t, opts.Input, [][]string{
		{"uuid", "part_number", "analysis"},
		{"u1", "1", `{"articles de loi":["art. 1"]}`},
		{"u2", "2", `{"articles de loi":["art. 2"]}`},
	})

	sink := &failingSink{}
	p, err := NewProcessor(opts, Deps{Engine: newEngine(t), Sink: sink})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sink.calls != 2 || stats.SinkErrors != 2 {
		t.Errorf("sink calls = %d, SinkErrors = %d, want 2 and 2", sink.calls, stats.SinkErrors)
	}
	if stats.ReviewItems != 2 {
		t.Errorf("ReviewItems = %d, want 2", stats.ReviewItems)
	}
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, "in.csv", "out.csv")
	writeCSV(t, opts.Input, [][]string{
		{"uuid", "part_number", "analysis"},
		{"u1", "1", `{"articles de loi":["art. 1"]}`},
	})

	p, err := NewProcessor(opts, Deps{Engine: newEngine(t)})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunDrawsRunID(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir, "in.csv", "out.csv")
	opts.RunID = ""
	writeCSV(t, opts.Input, [][]string{{"uuid", "part_number", "analysis"}})

	p, err := NewProcessor(opts, Deps{Engine: newEngine(t)})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(stats.RunID) != 36 {
		t.Errorf("RunID = %q, want a UUID", stats.RunID)
	}
	rows := readRows(t, opts.Output)
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProcessor(testOptions(dir, "missing.csv", "out.csv"), Deps{Engine: newEngine(t)})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	if _, err := p.Run(context.Background()); err == nil {
		t.Error("Run() with a missing input should return error")
	}
}

func TestNewProcessorValidation(t *testing.T) {
	engine := newEngine(t)
	tests := []struct {
		name string
		opts Options
		deps Deps
	}{
		{"no engine", Options{Input: "in.csv", Output: "out.csv"}, Deps{}},
		{"no input", Options{Output: "out.csv"}, Deps{Engine: engine}},
		{"no output", Options{Input: "in.csv"}, Deps{Engine: engine}},
		{"same file", Options{Input: "data/in.csv", Output: "data/../data/in.csv"}, Deps{Engine: engine}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProcessor(tt.opts, tt.deps); err == nil {
				t.Error("NewProcessor() should return error")
			}
		})
	}
}

func TestOptionsArtifacts(t *testing.T) {
	opts := Options{Output: "o", Failures: "f", Transformations: "t", Rejected: "r", Review: "v"}
	if got := opts.Artifacts(); !reflect.DeepEqual(got, []string{"o", "f", "t", "r", "v"}) {
		t.Errorf("Artifacts() = %v", got)
	}
}
