// Package lexicon holds the closed keyword and abbreviation tables that drive
// citation normalization, classification, and enrichment.
//
// Tables are defined in YAML. The compiled-in default covers Swiss federal
// law in French, German, and Italian; a file with the same shape can replace
// it at process start. A loaded Lexicon is treated as read-only.
package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Lexicon is the set of rule tables consulted by the citation engine.
type Lexicon struct {
	// Metadata
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	// Months maps a language code to its month-name tokens.
	Months map[string][]string `yaml:"months" json:"months"`

	// StatuteAbbreviations is the ordered closed set of abbreviations that
	// yield a law reference when found as a whole word.
	StatuteAbbreviations []string `yaml:"statute_abbreviations" json:"statute_abbreviations"`

	// EnrichmentIndicators are substrings that keep a citation from being
	// treated as article-only during enrichment.
	EnrichmentIndicators []string `yaml:"enrichment_indicators" json:"enrichment_indicators"`

	// KnownAbbreviations are substrings that keep a short citation out of
	// the short-fragment log.
	KnownAbbreviations []string `yaml:"known_abbreviations" json:"known_abbreviations"`

	Repealed    []string `yaml:"repealed" json:"repealed"`
	Proposals   []string `yaml:"proposals" json:"proposals"`
	NonDomestic []string `yaml:"non_domestic" json:"non_domestic"`

	// FragmentMarkers are paragraph/letter markers ("abs.", "al.") that
	// make a citation a fragment when it starts with one.
	FragmentMarkers []string `yaml:"fragment_markers" json:"fragment_markers"`

	// IncompleteEndings are matched case-sensitively against the end of
	// a citation.
	IncompleteEndings []string `yaml:"incomplete_endings" json:"incomplete_endings"`
}

var (
	defaultOnce    sync.Once
	defaultLexicon *Lexicon
)

// Default returns the compiled-in lexicon. It is parsed once per process and
// shared; callers must not modify it.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lex, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("lexicon: invalid built-in tables: %v", err))
		}
		defaultLexicon = lex
	})
	return defaultLexicon
}

// Load returns the lexicon stored at path, or the default when path is empty.
func Load(path string) (*Lexicon, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads and validates a YAML lexicon file.
func LoadFile(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon %s: %w", path, err)
	}
	lex, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return lex, nil
}

// Parse decodes YAML lexicon data, folds tokens to their matching form, and
// validates the result.
func Parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	lex.fold()
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return &lex, nil
}

// Validate checks that the tables the classifier cannot work without are
// present.
func (l *Lexicon) Validate() error {
	if l == nil {
		return fmt.Errorf("lexicon cannot be nil")
	}
	if len(l.AllMonths()) == 0 {
		return fmt.Errorf("months table is empty")
	}
	if len(l.StatuteAbbreviations) == 0 {
		return fmt.Errorf("statute_abbreviations table is empty")
	}
	if len(l.FragmentMarkers) == 0 {
		return fmt.Errorf("fragment_markers table is empty")
	}
	for _, marker := range l.FragmentMarkers {
		if strings.TrimSpace(marker) == "" {
			return fmt.Errorf("fragment_markers contains an empty marker")
		}
	}
	return nil
}

// AllMonths returns the month tokens of every language, deduplicated and
// sorted.
func (l *Lexicon) AllMonths() []string {
	seen := make(map[string]bool)
	var months []string
	for _, tokens := range l.Months {
		for _, token := range tokens {
			if token == "" || seen[token] {
				continue
			}
			seen[token] = true
			months = append(months, token)
		}
	}
	sort.Strings(months)
	return months
}

// Languages returns the language codes that carry month tokens, sorted.
func (l *Lexicon) Languages() []string {
	languages := make([]string, 0, len(l.Months))
	for language := range l.Months {
		languages = append(languages, language)
	}
	sort.Strings(languages)
	return languages
}

// Dump renders the effective tables as YAML.
func (l *Lexicon) Dump() ([]byte, error) {
	return yaml.Marshal(l)
}

// fold lowercases and NFC-normalizes every case-insensitive table so the
// matchers can compare against lowercased citation text directly.
// IncompleteEndings keep their case.
func (l *Lexicon) fold() {
	for language, tokens := range l.Months {
		l.Months[language] = foldTokens(tokens)
	}
	l.StatuteAbbreviations = foldTokens(l.StatuteAbbreviations)
	l.EnrichmentIndicators = foldTokens(l.EnrichmentIndicators)
	l.KnownAbbreviations = foldTokens(l.KnownAbbreviations)
	l.Repealed = foldTokens(l.Repealed)
	l.Proposals = foldTokens(l.Proposals)
	l.NonDomestic = foldTokens(l.NonDomestic)
	l.FragmentMarkers = foldTokens(l.FragmentMarkers)

	endings := make([]string, 0, len(l.IncompleteEndings))
	for _, ending := range l.IncompleteEndings {
		if ending == "" {
			continue
		}
		endings = append(endings, norm.NFC.String(ending))
	}
	l.IncompleteEndings = endings
}

// foldTokens keeps inner and trailing spaces ("rs " is a distinct token from
// "rs") and drops empty entries.
func foldTokens(tokens []string) []string {
	folded := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		folded = append(folded, strings.ToLower(norm.NFC.String(token)))
	}
	return folded
}
