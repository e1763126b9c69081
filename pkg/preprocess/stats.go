package preprocess

import (
	"fmt"
	"sort"
	"strings"
)

// Stats counts what a run did. One value is owned by one run.
type Stats struct {
	RunID string `json:"run_id"`

	// Rows
	TotalRows         int `json:"total_rows"`
	ArticlesRows      int `json:"articles_de_loi_rows"`
	JurisprudenceRows int `json:"jurisprudence_kept"`
	DoctrineRows      int `json:"doctrine_kept"`
	MalformedRows     int `json:"malformed_rows"`
	UnwritableRows    int `json:"unwritable_rows"`

	// Citations
	CitationsProcessed int            `json:"citations_processed"`
	NonTextEntries     int            `json:"non_text_entries"`
	Kept               int            `json:"citations_kept"`
	RemovedDigitOnly   int            `json:"citations_removed_digit_only"`
	RemovedGarbage     int            `json:"citations_removed_garbage"`
	RemovedByReason    map[string]int `json:"removed_by_reason"`
	Changed            int            `json:"citations_changed"`
	Enriched           int            `json:"citations_enriched"`
	EnrichedResolved   int            `json:"citations_enriched_resolved"`

	// Logs
	ShortFragments  int `json:"short_fragments"`
	ReviewItems     int `json:"review_items"`
	Transformations int `json:"transformations"`
	SinkErrors      int `json:"sink_errors"`

	EnrichedExamples  []string `json:"enriched_examples,omitempty"`
	DigitOnlyExamples []string `json:"digit_only_examples,omitempty"`
	GarbageExamples   []string `json:"garbage_examples,omitempty"`

	exampleLimit int
}

func newStats(runID string, exampleLimit int) *Stats {
	return &Stats{
		RunID:           runID,
		RemovedByReason: make(map[string]int),
		exampleLimit:    exampleLimit,
	}
}

func (s *Stats) addExample(examples *[]string, example string) {
	if len(*examples) < s.exampleLimit {
		*examples = append(*examples, example)
	}
}

// Removed returns the number of citations dropped from the output.
func (s *Stats) Removed() int {
	return s.RemovedDigitOnly + s.RemovedGarbage
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// String renders the end-of-run report.
func (s *Stats) String() string {
	var b strings.Builder
	processed := s.CitationsProcessed

	b.WriteString("Preprocessing Report:\n")
	if s.RunID != "" {
		b.WriteString(fmt.Sprintf("  Run:                          %s\n", s.RunID))
	}

	b.WriteString("\nInput:\n")
	b.WriteString(fmt.Sprintf("  Rows processed:               %d\n", s.TotalRows))
	b.WriteString(fmt.Sprintf("  Rows with 'articles de loi':  %d\n", s.ArticlesRows))
	b.WriteString(fmt.Sprintf("  Rows with jurisprudence:      %d\n", s.JurisprudenceRows))
	b.WriteString(fmt.Sprintf("  Rows with doctrine:           %d\n", s.DoctrineRows))
	if s.MalformedRows > 0 {
		b.WriteString(fmt.Sprintf("  Rows passed through as is:    %d\n", s.MalformedRows))
	}
	if s.UnwritableRows > 0 {
		b.WriteString(fmt.Sprintf("  Rows not written:             %d\n", s.UnwritableRows))
	}

	b.WriteString("\nCitations:\n")
	b.WriteString(fmt.Sprintf("  Processed:                    %d\n", processed))
	b.WriteString(fmt.Sprintf("  Kept:                         %d (%.1f%%)\n", s.Kept, percent(s.Kept, processed)))
	b.WriteString(fmt.Sprintf("  Removed (digit-only):         %d (%.1f%%)\n", s.RemovedDigitOnly, percent(s.RemovedDigitOnly, processed)))
	b.WriteString(fmt.Sprintf("  Removed (garbage):            %d (%.1f%%)\n", s.RemovedGarbage, percent(s.RemovedGarbage, processed)))
	for _, reason := range s.reasons() {
		b.WriteString(fmt.Sprintf("    %-28s%d\n", reason+":", s.RemovedByReason[reason]))
	}
	b.WriteString(fmt.Sprintf("  Changed (normalized):         %d (%.1f%%)\n", s.Changed, percent(s.Changed, processed)))
	b.WriteString(fmt.Sprintf("  Enriched (context):           %d (%.1f%%)\n", s.Enriched, percent(s.Enriched, processed)))
	if s.EnrichedResolved > 0 {
		b.WriteString(fmt.Sprintf("  Enriched with federal number: %d\n", s.EnrichedResolved))
	}
	if s.NonTextEntries > 0 {
		b.WriteString(fmt.Sprintf("  Non-text entries kept as is:  %d\n", s.NonTextEntries))
	}

	writeExamples(&b, "Enriched citations", s.EnrichedExamples)
	writeExamples(&b, "Removed citations (digit-only)", s.DigitOnlyExamples)
	writeExamples(&b, "Removed citations (garbage)", s.GarbageExamples)

	b.WriteString("\nLogs:\n")
	b.WriteString(fmt.Sprintf("  Short fragments logged:       %d\n", s.ShortFragments))
	b.WriteString(fmt.Sprintf("  Review items:                 %d\n", s.ReviewItems))
	b.WriteString(fmt.Sprintf("  Transformations logged:       %d (normalized + enriched)\n", s.Transformations))
	if s.SinkErrors > 0 {
		b.WriteString(fmt.Sprintf("  Review sink errors:           %d\n", s.SinkErrors))
	}
	return b.String()
}

func (s *Stats) reasons() []string {
	reasons := make([]string, 0, len(s.RemovedByReason))
	for reason := range s.RemovedByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	return reasons
}

func writeExamples(b *strings.Builder, title string, examples []string) {
	const shown = 10
	if len(examples) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("\n%s:\n", title))
	for i, example := range examples {
		if i == shown {
			b.WriteString(fmt.Sprintf("  ... and %d more\n", len(examples)-shown))
			break
		}
		b.WriteString(fmt.Sprintf("  %2d. %s\n", i+1, truncate(example, 72)))
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
