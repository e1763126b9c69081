package citation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coolbeans/lexclean/pkg/lexicon"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultArticleOnlyMaxLen is the classifier's exclusive length bound for
	// article-only candidates.
	DefaultArticleOnlyMaxLen = 30

	// MinArticleOnlyMaxLen and MaxArticleOnlyMaxLen bound the configurable
	// classifier threshold.
	MinArticleOnlyMaxLen = 25
	MaxArticleOnlyMaxLen = 30

	// nonCitationMinLen is the rune count above which a citation without an
	// article number is treated as running text.
	nonCitationMinLen = 50
)

var (
	// articleNumberPattern matches an article marker followed by a number,
	// with or without a period and spacing: "Art. 5", "art5".
	articleNumberPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])art\.?\s*\d`)

	// articleMarkerPrefixPattern matches text that starts with an article
	// marker: "Art. 5", "art 12", "art5".
	articleMarkerPrefixPattern = regexp.MustCompile(`(?i)^art(?:[.\s\d]|$)`)

	// pageReferencePattern matches "125 f." and "12ff".
	pageReferencePattern = regexp.MustCompile(`^\d+\s*(ff?\.?)$`)

	// bareMarkerEndPattern matches a trailing paragraph or article marker
	// with no number after it.
	bareMarkerEndPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(?:Abs|abs|Art|art)\s*$`)
)

// Rule is one entry of the classifier's ordered rule list.
type Rule struct {
	Label Label
	Match func(text string) bool
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithArticleOnlyMaxLen sets the exclusive length bound used by the
// RESCUABLE_ARTICLE_ONLY rule.
func WithArticleOnlyMaxLen(maxLen int) ClassifierOption {
	return func(c *Classifier) {
		c.articleOnlyMaxLen = maxLen
	}
}

// Classifier assigns exactly one Label to a citation by walking an ordered
// rule list; the first matching rule wins and UNKNOWN is the fallback.
type Classifier struct {
	lex               *lexicon.Lexicon
	extractor         *Extractor
	months            map[string]bool
	articleOnlyMaxLen int
	rules             []Rule
}

// NewClassifier builds a classifier over the lexicon's tables.
func NewClassifier(lex *lexicon.Lexicon, opts ...ClassifierOption) (*Classifier, error) {
	if err := lex.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		lex:               lex,
		extractor:         NewExtractor(lex),
		months:            make(map[string]bool),
		articleOnlyMaxLen: DefaultArticleOnlyMaxLen,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.articleOnlyMaxLen < MinArticleOnlyMaxLen || c.articleOnlyMaxLen > MaxArticleOnlyMaxLen {
		return nil, fmt.Errorf("article-only threshold %d outside [%d, %d]",
			c.articleOnlyMaxLen, MinArticleOnlyMaxLen, MaxArticleOnlyMaxLen)
	}
	for _, month := range lex.AllMonths() {
		c.months[month] = true
	}

	c.rules = []Rule{
		{LabelGarbageRepealed, c.isRepealed},
		{LabelGarbageFragment, c.isFragment},
		{LabelGarbageDate, c.isDate},
		{LabelGarbagePageRef, isPageReference},
		{LabelGarbageIncomplete, c.isIncomplete},
		{LabelGarbageProposal, c.isProposal},
		{LabelGarbageNonCitation, isNonCitation},
		{LabelNonDomesticLaw, c.isNonDomestic},
		{LabelRescuableArticle, func(text string) bool {
			return c.IsArticleOnlyCandidate(text)
		}},
	}
	return c, nil
}

// Rules returns the ordered rule list. UNKNOWN is implicit.
func (c *Classifier) Rules() []Rule {
	rules := make([]Rule, len(c.rules))
	copy(rules, c.rules)
	return rules
}

// ArticleOnlyMaxLen returns the configured article-only length bound.
func (c *Classifier) ArticleOnlyMaxLen() int {
	return c.articleOnlyMaxLen
}

// Classify returns the label of the first rule that matches text.
func (c *Classifier) Classify(text string) Label {
	text = norm.NFC.String(text)
	for _, rule := range c.rules {
		if rule.Match(text) {
			return rule.Label
		}
	}
	return LabelUnknown
}

// IsArticleOnlyCandidate reports whether text starts with an article marker,
// is shorter than the classifier's bound, and names no law, not even by
// abbreviation shape.
func (c *Classifier) IsArticleOnlyCandidate(text string) bool {
	if !articleMarkerPrefixPattern.MatchString(text) {
		return false
	}
	if utf8.RuneCountInString(text) >= c.articleOnlyMaxLen {
		return false
	}
	if c.extractor.Extract(text) != "" {
		return false
	}
	return !HasAbbreviationShape(text)
}

func (c *Classifier) isRepealed(text string) bool {
	return containsAny(strings.ToLower(text), c.lex.Repealed)
}

func (c *Classifier) isFragment(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, marker := range c.lex.FragmentMarkers {
		if strings.HasPrefix(lower, marker) {
			return !hasArticleNumber(text)
		}
	}
	return false
}

func (c *Classifier) isDate(text string) bool {
	if hasArticleNumber(text) {
		return false
	}
	for _, word := range strings.FieldsFunc(strings.ToLower(text), isNotLetter) {
		if c.months[word] {
			return true
		}
	}
	return false
}

func isPageReference(text string) bool {
	return pageReferencePattern.MatchString(strings.TrimSpace(text))
}

func (c *Classifier) isIncomplete(text string) bool {
	for _, ending := range c.lex.IncompleteEndings {
		if hasWordSuffix(text, ending) {
			return true
		}
	}
	return bareMarkerEndPattern.MatchString(text)
}

func (c *Classifier) isProposal(text string) bool {
	return containsAny(strings.ToLower(text), c.lex.Proposals)
}

func isNonCitation(text string) bool {
	return utf8.RuneCountInString(text) > nonCitationMinLen && !hasArticleNumber(text)
}

func (c *Classifier) isNonDomestic(text string) bool {
	return containsAny(strings.ToLower(text), c.lex.NonDomestic)
}

func hasArticleNumber(text string) bool {
	return articleNumberPattern.MatchString(text)
}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// hasWordSuffix reports whether text ends with suffix and the suffix does not
// start in the middle of a word.
func hasWordSuffix(text, suffix string) bool {
	if suffix == "" || !strings.HasSuffix(text, suffix) {
		return false
	}
	start := len(text) - len(suffix)
	if start == 0 {
		return true
	}
	first, _ := utf8.DecodeRuneInString(suffix)
	if isNotLetter(first) {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:start])
	return isNotLetter(prev)
}

func isNotLetter(r rune) bool {
	return !unicode.IsLetter(r)
}
