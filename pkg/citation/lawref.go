package citation

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/coolbeans/lexclean/pkg/lexicon"
)

const registryPrefix = "RS "

var (
	// registryNumberPattern matches a registry token ("RS", "SR") followed by
	// a dotted number: "RS 131.211", "SR: 220".
	registryNumberPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:rs|sr)[\s.:]*(\d+(?:\.\d+)*)`)

	// upperCaseWordPattern matches a whole word of two or more upper-case
	// letters ("ZGB", "CP").
	upperCaseWordPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])[A-ZÄÖÜ]{2,}(?:$|[^\p{L}\p{N}_])`)

	// mixedCaseWordPattern matches a word that starts upper-case and has a
	// second upper-case letter after optional lower-case ones ("VwVG", "SchKG").
	mixedCaseWordPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])[A-ZÄÖÜ][a-zäöü]*[A-ZÄÖÜ]`)
)

// Extractor finds the explicit law reference of a single citation.
type Extractor struct {
	abbreviations []string
}

// NewExtractor builds an extractor over the lexicon's statute abbreviations.
// Abbreviations are tried in lexicon order.
func NewExtractor(lex *lexicon.Lexicon) *Extractor {
	abbreviations := make([]string, len(lex.StatuteAbbreviations))
	copy(abbreviations, lex.StatuteAbbreviations)
	return &Extractor{abbreviations: abbreviations}
}

// Extract returns the law reference named by text, or "" when it names none.
// A registry number wins over an abbreviation; among abbreviations the first
// one in lexicon order that appears as a whole word wins.
func (e *Extractor) Extract(text string) LawReference {
	if match := registryNumberPattern.FindStringSubmatch(text); match != nil {
		return LawReference(registryPrefix + match[1])
	}

	words := wordSet(strings.ToLower(text))
	for _, abbreviation := range e.abbreviations {
		if words[abbreviation] {
			return LawReference(strings.ToUpper(abbreviation))
		}
	}
	return ""
}

// ExtractAll returns the distinct law references named across texts, in
// first-seen order.
func (e *Extractor) ExtractAll(texts []string) []LawReference {
	seen := make(map[LawReference]bool)
	var refs []LawReference
	for _, text := range texts {
		ref := e.Extract(text)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// HasAbbreviationShape reports whether text contains something that looks
// like a statute abbreviation even when it is not in the lexicon: an
// all-upper-case word of two or more letters, or a mixed-case word such as
// "VwVG".
func HasAbbreviationShape(text string) bool {
	return upperCaseWordPattern.MatchString(text) || mixedCaseWordPattern.MatchString(text)
}

// wordSet splits text into maximal runs of letters and digits.
func wordSet(text string) map[string]bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	set := make(map[string]bool, len(words))
	for _, word := range words {
		set[word] = true
	}
	return set
}
