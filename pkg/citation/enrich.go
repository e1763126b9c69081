package citation

import (
	"strings"
	"unicode/utf8"

	"github.com/coolbeans/lexclean/pkg/lexicon"
)

const (
	// StrictArticleOnlyMaxLen is the enricher's exclusive length bound for
	// article-only citations. It is tighter than the classifier's bound.
	StrictArticleOnlyMaxLen = 25

	// ShortFragmentMaxLen is the exclusive length bound below which a kept
	// citation with no law signal is logged for review.
	ShortFragmentMaxLen = 15
)

// registryTokens mark a registry reference even without a number after them.
var registryTokens = []string{"rs ", "sr ", "rs.", "sr."}

// Enricher attaches a record's unique law reference to its article-only
// citations.
type Enricher struct {
	extractor  *Extractor
	indicators []string
}

// NewEnricher builds an enricher over the lexicon's abbreviation and
// indicator tables.
func NewEnricher(lex *lexicon.Lexicon) *Enricher {
	return &Enricher{
		extractor:  NewExtractor(lex),
		indicators: lex.EnrichmentIndicators,
	}
}

// Enrich returns a copy of citations in which every strictly article-only
// citation carries the record's law reference, and the number of citations
// rewritten.
//
// Enrichment happens only when exactly one distinct law reference is named
// across the record; with none or several the citations are returned
// unchanged. Garbage and digit-only citations neither contribute a
// reference nor get rewritten.
func (e *Enricher) Enrich(citations []Citation) ([]Citation, int) {
	enriched := make([]Citation, len(citations))
	copy(enriched, citations)

	ref, ok := e.RecordLawReference(citations)
	if !ok {
		return enriched, 0
	}

	count := 0
	for i, c := range enriched {
		if !isEnrichable(c) || !e.IsStrictArticleOnly(c.Normalized) {
			continue
		}
		enriched[i] = c.WithLawReference(ref)
		count++
	}
	return enriched, count
}

// RecordLawReference returns the single law reference named across the
// record's citations. ok is false when there are zero or several.
func (e *Enricher) RecordLawReference(citations []Citation) (LawReference, bool) {
	texts := make([]string, 0, len(citations))
	for _, c := range citations {
		if isEnrichable(c) {
			texts = append(texts, c.Normalized)
		}
	}
	refs := e.extractor.ExtractAll(texts)
	if len(refs) != 1 {
		return "", false
	}
	return refs[0], true
}

// IsStrictArticleOnly reports whether text names an article and nothing
// else: it starts with "art", is shorter than StrictArticleOnlyMaxLen, and
// contains no abbreviation indicator substring, no registry token, and no
// abbreviation-shaped word.
//
// This predicate is stricter than Classifier.IsArticleOnlyCandidate. The two
// are kept separate.
func (e *Enricher) IsStrictArticleOnly(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if !strings.HasPrefix(lower, "art") {
		return false
	}
	if utf8.RuneCountInString(text) >= StrictArticleOnlyMaxLen {
		return false
	}
	if containsAny(lower, e.indicators) || containsAny(lower, registryTokens) {
		return false
	}
	return !HasAbbreviationShape(text)
}

func isEnrichable(c Citation) bool {
	return !c.DigitOnly && !c.Label.IsGarbage()
}
