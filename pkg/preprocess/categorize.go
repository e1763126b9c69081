package preprocess

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coolbeans/lexclean/pkg/citation"
	"github.com/coolbeans/lexclean/pkg/dataset"
)

// UnparseableEntry is one citation the downstream resolver could not map.
type UnparseableEntry struct {
	ElementID string `json:"element_id"`
	Citation  string `json:"citation"`
}

// GarbageEntry is one citation recommended for filtering.
type GarbageEntry struct {
	Citation  string `json:"citation"`
	Category  string `json:"category"`
	ElementID string `json:"element_id"`
}

// Categorization breaks a set of unparseable citations down by label.
type Categorization struct {
	Total    int
	Counts   map[citation.Label]int
	Examples map[citation.Label][]string
	Garbage  []GarbageEntry
}

// Categorize labels every entry with classifier and keeps up to
// exampleLimit examples per label. Citations are labeled as given, without
// normalization.
func Categorize(classifier *citation.Classifier, entries []UnparseableEntry, exampleLimit int) *Categorization {
	result := &Categorization{
		Total:    len(entries),
		Counts:   make(map[citation.Label]int),
		Examples: make(map[citation.Label][]string),
	}
	for _, entry := range entries {
		label := classifier.Classify(entry.Citation)
		result.Counts[label]++
		if len(result.Examples[label]) < exampleLimit {
			result.Examples[label] = append(result.Examples[label], entry.Citation)
		}
		if label.IsGarbage() {
			result.Garbage = append(result.Garbage, GarbageEntry{
				Citation:  entry.Citation,
				Category:  string(label),
				ElementID: entry.ElementID,
			})
		}
	}
	return result
}

// TotalGarbage counts citations with a GARBAGE_* label.
func (c *Categorization) TotalGarbage() int {
	return c.sum(citation.Label.IsGarbage)
}

// TotalRescuable counts citations with a RESCUABLE_* label.
func (c *Categorization) TotalRescuable() int {
	return c.sum(citation.Label.IsRescuable)
}

func (c *Categorization) sum(match func(citation.Label) bool) int {
	total := 0
	for label, count := range c.Counts {
		if match(label) {
			total += count
		}
	}
	return total
}

// Labels returns the labels seen, most frequent first; ties keep rule
// order.
func (c *Categorization) Labels() []citation.Label {
	var labels []citation.Label
	for _, label := range citation.Labels() {
		if c.Counts[label] > 0 {
			labels = append(labels, label)
		}
	}
	sort.SliceStable(labels, func(i, j int) bool {
		return c.Counts[labels[i]] > c.Counts[labels[j]]
	})
	return labels
}

// GarbageLabels returns the garbage labels seen, in rule order.
func (c *Categorization) GarbageLabels() []citation.Label {
	var labels []citation.Label
	for _, label := range citation.Labels() {
		if label.IsGarbage() && c.Counts[label] > 0 {
			labels = append(labels, label)
		}
	}
	return labels
}

// WriteGarbage writes the garbage entries to a JSONL file.
func (c *Categorization) WriteGarbage(path string) error {
	log, err := dataset.CreateLog(path)
	if err != nil {
		return err
	}
	for _, entry := range c.Garbage {
		if err := log.Write(entry); err != nil {
			log.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := log.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

// String renders the breakdown with up to five examples per label.
func (c *Categorization) String() string {
	const shown = 5
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Total unparseable citations: %d\n", c.Total))
	b.WriteString("\nCategorization:\n")
	b.WriteString(fmt.Sprintf("  Garbage (should be filtered): %d (%.1f%%)\n", c.TotalGarbage(), percent(c.TotalGarbage(), c.Total)))
	b.WriteString(fmt.Sprintf("  Rescuable:                    %d (%.1f%%)\n", c.TotalRescuable(), percent(c.TotalRescuable(), c.Total)))
	nonDomestic := c.Counts[citation.LabelNonDomesticLaw]
	b.WriteString(fmt.Sprintf("  Non-domestic law:             %d (%.1f%%)\n", nonDomestic, percent(nonDomestic, c.Total)))
	unknown := c.Counts[citation.LabelUnknown]
	b.WriteString(fmt.Sprintf("  Unknown (needs review):       %d (%.1f%%)\n", unknown, percent(unknown, c.Total)))

	b.WriteString("\nBreakdown:\n")
	for _, label := range c.Labels() {
		count := c.Counts[label]
		b.WriteString(fmt.Sprintf("\n  %s: %d (%.1f%%)\n", label, count, percent(count, c.Total)))
		for i, example := range c.Examples[label] {
			if i == shown {
				break
			}
			b.WriteString(fmt.Sprintf("    %d. %s\n", i+1, example))
		}
	}

	garbage := c.GarbageLabels()
	if len(garbage) > 0 {
		names := make([]string, len(garbage))
		for i, label := range garbage {
			names[i] = string(label)
		}
		b.WriteString(fmt.Sprintf("\nShould filter: %s\n", strings.Join(names, ", ")))
	}
	return b.String()
}
