// Package citation normalizes, classifies, and enriches legal citation strings
// extracted from Swiss legal documents so that a downstream resolver receives
// consistent, law-qualified references.
//
// The package is organized around four pieces:
//   - Normalize rewrites malformed spacing and punctuation.
//   - Classifier assigns each citation one Label from an ordered rule list.
//   - Extractor finds an explicit statute identifier in a citation.
//   - Enricher appends a record's unique law reference to article-only
//     citations.
//
// Engine wires the four together for one lexicon.
package citation

import (
	"strings"
)

// Label classifies a citation. Every citation carries exactly one label.
type Label string

const (
	LabelGarbageRepealed    Label = "GARBAGE_REPEALED"
	LabelGarbageFragment    Label = "GARBAGE_FRAGMENT"
	LabelGarbageDate        Label = "GARBAGE_DATE"
	LabelGarbagePageRef     Label = "GARBAGE_PAGE_REF"
	LabelGarbageIncomplete  Label = "GARBAGE_INCOMPLETE"
	LabelGarbageProposal    Label = "GARBAGE_PROPOSAL"
	LabelGarbageNonCitation Label = "GARBAGE_NON_CITATION"
	LabelNonDomesticLaw     Label = "NON_DOMESTIC_LAW"
	LabelRescuableArticle   Label = "RESCUABLE_ARTICLE_ONLY"
	LabelUnknown            Label = "UNKNOWN"
)

// Labels returns every label in classification priority order.
func Labels() []Label {
	return []Label{
		LabelGarbageRepealed,
		LabelGarbageFragment,
		LabelGarbageDate,
		LabelGarbagePageRef,
		LabelGarbageIncomplete,
		LabelGarbageProposal,
		LabelGarbageNonCitation,
		LabelNonDomesticLaw,
		LabelRescuableArticle,
		LabelUnknown,
	}
}

// IsGarbage reports whether citations with this label are dropped from the
// output stream.
func (l Label) IsGarbage() bool {
	return strings.HasPrefix(string(l), "GARBAGE_")
}

// IsRescuable reports whether the label marks an enrichment candidate.
func (l Label) IsRescuable() bool {
	return strings.HasPrefix(string(l), "RESCUABLE_")
}

// Reason returns the lower-case reason code used in logs and statistics,
// e.g. "page_ref" for GARBAGE_PAGE_REF.
func (l Label) Reason() string {
	reason := strings.TrimPrefix(string(l), "GARBAGE_")
	return strings.ToLower(reason)
}

// LawReference is a normalized statute identifier: an upper-case
// abbreviation ("ZGB") or a registry number ("RS 131.211").
type LawReference string

// IsRegistryNumber reports whether the reference is in "RS <number>" form.
func (r LawReference) IsRegistryNumber() bool {
	return strings.HasPrefix(string(r), registryPrefix)
}

// RegistryNumber returns the dotted number of an "RS <number>" reference,
// or "" for abbreviation references.
func (r LawReference) RegistryNumber() string {
	if !r.IsRegistryNumber() {
		return ""
	}
	return strings.TrimPrefix(string(r), registryPrefix)
}

// Citation is one raw citation string and everything derived from it.
// Raw is never modified; derivations return new values.
type Citation struct {
	// Raw text as found in the source record.
	Raw string `json:"raw"`

	// Normalized is the canonical text written to the output.
	Normalized string `json:"normalized"`

	// Changed is true when normalization or enrichment altered the text.
	Changed bool `json:"changed"`

	// DigitOnly marks bare numbers with no law context.
	DigitOnly bool `json:"digit_only"`

	Label Label `json:"label"`

	// LawReference is set only on citations rewritten by the Enricher.
	LawReference LawReference `json:"law_reference,omitempty"`
}

// Enriched reports whether the Enricher attached a law reference.
func (c Citation) Enriched() bool {
	return c.LawReference != ""
}

// WithLawReference returns a copy of the citation with ref appended to its
// normalized text.
func (c Citation) WithLawReference(ref LawReference) Citation {
	enriched := c
	enriched.Normalized = c.Normalized + " " + string(ref)
	enriched.LawReference = ref
	enriched.Changed = true
	return enriched
}

// Record is the unit of enrichment scope: the citations of one source row.
type Record struct {
	UUID       string
	PartNumber string
	Citations  []Citation
}

// ID returns the element identifier "<uuid>_<part_number>".
func (r Record) ID() string {
	return ElementID(r.UUID, r.PartNumber)
}

// ElementID joins a row uuid and part number the way every log refers to
// a record.
func ElementID(uuid, partNumber string) string {
	if partNumber == "" {
		partNumber = "0"
	}
	return uuid + "_" + partNumber
}
