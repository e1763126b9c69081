package citation

import (
	"strings"
	"unicode/utf8"

	"github.com/coolbeans/lexclean/pkg/lexicon"
)

// Review reason codes.
const (
	ReasonShortFragment  = "short_fragment"
	ReasonNonDomesticLaw = "non_domestic_law"
	ReasonUnknown        = "unknown"
	ReasonDigitOnly      = "digit_only"
)

// Engine runs the normalize, classify, and enrich stages for one lexicon.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	lex        *lexicon.Lexicon
	classifier *Classifier
	extractor  *Extractor
	enricher   *Enricher
}

// NewEngine builds an engine over lex. opts configure the classifier.
func NewEngine(lex *lexicon.Lexicon, opts ...ClassifierOption) (*Engine, error) {
	classifier, err := NewClassifier(lex, opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		lex:        lex,
		classifier: classifier,
		extractor:  NewExtractor(lex),
		enricher:   NewEnricher(lex),
	}, nil
}

// Lexicon returns the tables the engine was built from.
func (e *Engine) Lexicon() *lexicon.Lexicon { return e.lex }

// Classifier returns the engine's classifier.
func (e *Engine) Classifier() *Classifier { return e.classifier }

// Extractor returns the engine's law-reference extractor.
func (e *Engine) Extractor() *Extractor { return e.extractor }

// Enricher returns the engine's enricher.
func (e *Engine) Enricher() *Enricher { return e.enricher }

// Prepare normalizes and classifies one raw citation. Digit-only citations
// are labeled like any other so that callers can report them.
func (e *Engine) Prepare(raw string) Citation {
	normalized, changed := Normalize(raw)
	return Citation{
		Raw:        raw,
		Normalized: normalized,
		Changed:    changed,
		DigitOnly:  IsDigitOnly(normalized),
		Label:      e.classifier.Classify(normalized),
	}
}

// Outcome is the result of processing one record.
type Outcome struct {
	// Kept are the citations written to the output, enriched where possible,
	// in input order.
	Kept []Citation

	// Removed are digit-only and garbage citations, in input order.
	Removed []Citation

	// Enriched counts the kept citations that gained a law reference.
	Enriched int
}

// Texts returns the output text of every kept citation.
func (o Outcome) Texts() []string {
	texts := make([]string, len(o.Kept))
	for i, c := range o.Kept {
		texts[i] = c.Normalized
	}
	return texts
}

// Process runs one record's raw citations through every stage. Enrichment
// only looks at citations of this record.
func (e *Engine) Process(raws []string) Outcome {
	var out Outcome
	kept := make([]Citation, 0, len(raws))
	for _, raw := range raws {
		c := e.Prepare(raw)
		if c.DigitOnly || c.Label.IsGarbage() {
			out.Removed = append(out.Removed, c)
			continue
		}
		kept = append(kept, c)
	}
	out.Kept, out.Enriched = e.enricher.Enrich(kept)
	return out
}

// IsShortFragment reports whether a kept citation is too short to be
// trusted: fewer than ShortFragmentMaxLen runes after trimming, no known
// abbreviation substring, and no abbreviation-shaped word.
func (e *Engine) IsShortFragment(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) >= ShortFragmentMaxLen {
		return false
	}
	if containsAny(strings.ToLower(text), e.lex.KnownAbbreviations) {
		return false
	}
	return !HasAbbreviationShape(text)
}

// ReviewReason returns why a kept citation should be looked at by hand, or
// "" when it needs no review. Short fragments take precedence over the
// label-based reasons.
func (e *Engine) ReviewReason(c Citation) string {
	switch {
	case c.DigitOnly || c.Label.IsGarbage():
		return ""
	case e.IsShortFragment(c.Normalized):
		return ReasonShortFragment
	case c.Label == LabelNonDomesticLaw:
		return ReasonNonDomesticLaw
	case c.Label == LabelUnknown && e.extractor.Extract(c.Normalized) == "" && !HasAbbreviationShape(c.Normalized):
		return ReasonUnknown
	}
	return ""
}
