package citation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// gluedAmendmentAfterNumberPattern matches "43 aCP": a number, whitespace,
	// and the amendment marker "a" glued to an abbreviation.
	gluedAmendmentAfterNumberPattern = regexp.MustCompile(`(\d+)[\s\p{Zs}]+a([A-ZÄÖÜ][A-ZÄÖÜa-zäöüß]+)`)

	// gluedAmendmentPattern matches " aBauR": the amendment marker after
	// whitespace, glued to an abbreviation.
	gluedAmendmentPattern = regexp.MustCompile(`([\s\p{Zs}])a([A-ZÄÖÜ][A-ZÄÖÜa-zäöüß]+)`)

	// gluedArticlePattern matches "Art.6VwVG": the article marker glued to
	// its number and the number glued to an abbreviation.
	gluedArticlePattern = regexp.MustCompile(`(^|[^\p{L}\p{N}_])((?i:art))\.?(\d+)([A-ZÄÖÜ][A-ZÄÖÜa-zäöü]+)`)

	// footnotePattern matches a footnote number stuck to a trailing
	// lower-case letter ("contrat1").
	footnotePattern = regexp.MustCompile(`([a-zàâäéèêëïîôùûüÿœæç])\d+$`)

	// gluedArticleNumberEndPattern matches text ending in an article marker
	// glued to its number ("art5"). That number is not a footnote.
	gluedArticleNumberEndPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}])art\d+$`)
)

// Normalize rewrites malformed spacing in a citation and returns the new
// text along with whether anything changed.
//
// The text is NFC-composed first, then four rewrites are applied once each,
// in order:
//   - "43 aCP" becomes "43 a CP"
//   - " aBauR" becomes " a BauR"
//   - "Art.6VwVG" becomes "Art. 6 VwVG"
//   - a trailing footnote number after a lower-case letter is dropped,
//     unless it is the number of a glued article marker ("art5")
//
// Normalize is total and idempotent.
func Normalize(text string) (string, bool) {
	normalized := norm.NFC.String(text)

	normalized = replaceAtWordEnd(gluedAmendmentAfterNumberPattern, normalized, func(groups []string) string {
		return groups[1] + " a " + groups[2]
	})
	normalized = replaceAtWordEnd(gluedAmendmentPattern, normalized, func(groups []string) string {
		return groups[1] + "a " + groups[2]
	})
	normalized = replaceAtWordEnd(gluedArticlePattern, normalized, func(groups []string) string {
		return groups[1] + groups[2] + ". " + groups[3] + " " + groups[4]
	})
	normalized = stripFootnote(normalized)

	return normalized, normalized != text
}

// IsDigitOnly reports whether a citation is a bare number: after trimming and
// removing spaces and periods, only digits remain.
func IsDigitOnly(text string) bool {
	compact := strings.TrimSpace(text)
	compact = strings.ReplaceAll(compact, " ", "")
	compact = strings.ReplaceAll(compact, ".", "")
	if compact == "" {
		return false
	}
	for _, r := range compact {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func stripFootnote(text string) string {
	if gluedArticleNumberEndPattern.MatchString(text) {
		return text
	}
	return footnotePattern.ReplaceAllString(text, "$1")
}

// replaceAtWordEnd replaces every match of pattern that ends on a word
// boundary. The patterns end in a greedy letter class, so a match that is
// followed by another word character can never be shortened into a valid
// one and is left untouched. A trailing footnote number counts as a
// boundary, since the footnote rewrite removes it.
func replaceAtWordEnd(pattern *regexp.Regexp, text string, replace func(groups []string) string) string {
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 2*len(matches))
	last := 0
	for _, loc := range matches {
		start, end := loc[0], loc[1]
		if !atWordEnd(text, end) {
			continue
		}
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(text[last:start])
		b.WriteString(replace(groups))
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func atWordEnd(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[end:])
	if !isWordRune(next) {
		return true
	}
	return isFootnoteSuffix(text, end)
}

// isFootnoteSuffix reports whether text[end:] is the digit run that the
// footnote rewrite strips.
func isFootnoteSuffix(text string, end int) bool {
	if end == 0 {
		return false
	}
	for i := end; i < len(text); i++ {
		if text[i] < '0' || text[i] > '9' {
			return false
		}
	}
	if gluedArticleNumberEndPattern.MatchString(text) {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:end])
	return footnotePattern.MatchString(string(prev) + "0")
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
