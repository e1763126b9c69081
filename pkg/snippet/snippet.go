// Package snippet locates a citation inside its source passage and returns
// the text around it, for the transformation log.
package snippet

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultWindow is the number of characters kept on each side of a
	// citation.
	DefaultWindow = 300

	// fallbackWords is the number of words kept on each side when the
	// citation is only found after whitespace normalization.
	fallbackWords = 20

	blockSelectors = "br, p, div, li, tr, td, th, h1, h2, h3, h4, h5, h6, blockquote, section, article"
)

var markupPattern = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)

// Match is a located citation.
type Match struct {
	// Citation is the citation as it appears in the passage, extended to the
	// right until its parentheses balance.
	Citation string
	// Context is the passage around the citation.
	Context string
}

// Finder extracts citation contexts with a fixed window.
type Finder struct {
	window int
}

// NewFinder creates a Finder keeping window characters on each side; a
// non-positive window uses DefaultWindow.
func NewFinder(window int) *Finder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Finder{window: window}
}

// Window returns the finder's window size.
func (f *Finder) Window() int {
	return f.window
}

// Find looks citation up in content, ignoring case. When the exact text is
// absent it retries with whitespace collapsed on both sides, and the context
// is then measured in words.
func (f *Finder) Find(citation, content string) (Match, bool) {
	if strings.TrimSpace(citation) == "" || content == "" {
		return Match{}, false
	}
	if m, ok := f.findExact(citation, content); ok {
		return m, true
	}
	return findNormalized(citation, content)
}

// Context returns the whitespace-collapsed passage around citation, or ""
// when it cannot be found. Markup is stripped from content first.
func (f *Finder) Context(citation, content string) string {
	if LooksLikeHTML(content) {
		content = PlainText(content)
	}
	m, ok := f.Find(citation, content)
	if !ok {
		return ""
	}
	return strings.Join(strings.Fields(m.Context), " ")
}

func (f *Finder) findExact(citation, content string) (Match, bool) {
	lowered := lowerRunes(content)
	pos := strings.Index(lowered, lowerRunes(citation))
	if pos < 0 {
		return Match{}, false
	}

	// Lowering is rune for rune, so rune offsets line up with content.
	runes := []rune(content)
	start := utf8.RuneCountInString(lowered[:pos])
	end := start + utf8.RuneCountInString(citation)
	if open := strings.Count(citation, "(") - strings.Count(citation, ")"); open > 0 {
		end = closeParens(runes, end, open)
	}

	ctxStart := max(start-f.window, 0)
	ctxEnd := min(end+f.window, len(runes))
	return Match{
		Citation: string(runes[start:end]),
		Context:  string(runes[ctxStart:ctxEnd]),
	}, true
}

// closeParens scans runes from end for the parenthesis that brings balance
// back to zero and returns the index just past it, or end when none does.
func closeParens(runes []rune, end, balance int) int {
	for i := end; i < len(runes); i++ {
		switch runes[i] {
		case '(':
			balance++
		case ')':
			balance--
			if balance == 0 {
				return i + 1
			}
		}
	}
	return end
}

func findNormalized(citation, content string) (Match, bool) {
	citationNorm := strings.Join(strings.Fields(lowerRunes(citation)), " ")
	contentNorm := strings.Join(strings.Fields(lowerRunes(content)), " ")
	pos := strings.Index(contentNorm, citationNorm)
	if pos < 0 {
		return Match{}, false
	}

	words := strings.Fields(content)
	start := len(strings.Fields(contentNorm[:pos]))
	end := min(start+len(strings.Fields(citationNorm)), len(words))
	if start >= len(words) {
		return Match{}, false
	}

	matched := strings.Join(words[start:end], " ")
	if balance := strings.Count(matched, "(") - strings.Count(matched, ")"); balance > 0 {
	scan:
		for end < len(words) {
			word := words[end]
			end++
			for _, r := range word {
				switch r {
				case '(':
					balance++
				case ')':
					balance--
					if balance == 0 {
						break scan
					}
				}
			}
		}
		matched = strings.Join(words[start:end], " ")
	}

	ctxStart := max(start-fallbackWords, 0)
	ctxEnd := min(end+fallbackWords, len(words))
	return Match{
		Citation: matched,
		Context:  strings.Join(words[ctxStart:ctxEnd], " "),
	}, true
}

func lowerRunes(s string) string {
	return strings.Map(unicode.ToLower, s)
}

// LooksLikeHTML reports whether s contains markup tags.
func LooksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && markupPattern.MatchString(s)
}

// PlainText returns the text content of an HTML fragment with whitespace
// collapsed. Block elements are separated by a space; script and style
// content is dropped. Input that cannot be parsed is returned as is.
func PlainText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	doc.Find(blockSelectors).AfterHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}
