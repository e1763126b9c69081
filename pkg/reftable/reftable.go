// Package reftable loads the precomputed abbreviation table that maps
// federal registry numbers to their abbreviation in each language, and
// resolves law references against it.
package reftable

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coolbeans/lexclean/pkg/citation"
)

// Entry is one registry number and its abbreviation per language, in file
// order.
type Entry struct {
	Number        string
	Languages     []string
	Abbreviations map[string]string
}

// Table maps normalized abbreviations to registry numbers.
type Table struct {
	entries []Entry
	index   map[string]string
}

// Load reads a triplets file of the form {"<number>": {"<lang>": "<abbrev>"}}.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening reference table %s: %w", path, err)
	}
	defer f.Close()

	table, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing reference table %s: %w", path, err)
	}
	return table, nil
}

// Parse decodes a triplets document. When two numbers share an
// abbreviation, the one listed first keeps it.
func Parse(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	table := &Table{index: make(map[string]string)}
	for dec.More() {
		number, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		entry, err := decodeEntry(dec, number)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", number, err)
		}
		table.add(entry)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return table, nil
}

func decodeEntry(dec *json.Decoder, number string) (Entry, error) {
	entry := Entry{Number: number, Abbreviations: make(map[string]string)}
	if err := expectDelim(dec, '{'); err != nil {
		return entry, err
	}
	for dec.More() {
		lang, err := stringToken(dec)
		if err != nil {
			return entry, err
		}
		var abbrev string
		if err := dec.Decode(&abbrev); err != nil {
			return entry, fmt.Errorf("language %s: %w", lang, err)
		}
		if _, seen := entry.Abbreviations[lang]; !seen {
			entry.Languages = append(entry.Languages, lang)
		}
		entry.Abbreviations[lang] = abbrev
	}
	return entry, expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected a string key, got %v", tok)
	}
	return s, nil
}

func (t *Table) add(entry Entry) {
	t.entries = append(t.entries, entry)
	for _, lang := range entry.Languages {
		key := NormalizeAbbreviation(entry.Abbreviations[lang])
		if key == "" {
			continue
		}
		if _, taken := t.index[key]; !taken {
			t.index[key] = entry.Number
		}
	}
}

// NormalizeAbbreviation folds an abbreviation to its index key: lower case,
// periods removed, surrounding space trimmed.
func NormalizeAbbreviation(abbrev string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToLower(abbrev), ".", ""))
}

// Len returns the number of registry numbers in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// IndexSize returns the number of distinct abbreviations indexed.
func (t *Table) IndexSize() int {
	return len(t.index)
}

// Lookup returns the registry number of an abbreviation.
func (t *Table) Lookup(abbrev string) (string, bool) {
	number, ok := t.index[NormalizeAbbreviation(abbrev)]
	return number, ok
}

// Entry returns the abbreviations recorded for a registry number.
func (t *Table) Entry(number string) (Entry, bool) {
	for _, entry := range t.entries {
		if entry.Number == number {
			return entry, true
		}
	}
	return Entry{}, false
}

// Resolve maps a law reference to a federal registry number. Registry
// references resolve to themselves; abbreviations resolve through the
// index. A nil table resolves registry references only.
func (t *Table) Resolve(ref citation.LawReference) (string, bool) {
	if ref.IsRegistryNumber() {
		return ref.RegistryNumber(), true
	}
	if t == nil || ref == "" {
		return "", false
	}
	return t.Lookup(string(ref))
}

// String summarizes the table for logs.
func (t *Table) String() string {
	return fmt.Sprintf("%d registry numbers, %d abbreviations", t.Len(), t.IndexSize())
}
