package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Analysis keys.
const (
	KeyArticles      = "articles de loi"
	KeyJurisprudence = "jurisprudence"
	KeyDoctrine      = "doctrine"
)

// Analysis is the JSON object stored in a row's analysis column. Keys keep
// their order and values other than the ones replaced are written back
// untouched.
type Analysis struct {
	obj *object
}

// Entry is one element of a citation list. Non-string elements are carried
// through as raw JSON.
type Entry struct {
	Text   string
	IsText bool
	Raw    json.RawMessage
}

// TextEntry builds a string entry.
func TextEntry(text string) Entry {
	return Entry{Text: text, IsText: true}
}

// ParseAnalysis decodes an analysis column. Anything that is not a JSON
// object yields an error wrapping ErrMalformedRow.
func ParseAnalysis(text string) (*Analysis, error) {
	obj, err := decodeObject([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: analysis: %v", ErrMalformedRow, err)
	}
	return &Analysis{obj: obj}, nil
}

// Has reports whether key is present with a non-empty value: not null,
// false, zero, an empty string, an empty list, or an empty object.
func (a *Analysis) Has(key string) bool {
	value, ok := a.obj.get(key)
	if !ok {
		return false
	}
	switch string(bytes.TrimSpace(value)) {
	case "null", "false", "0", `""`, "[]", "{}":
		return false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(value, &list); err == nil {
		return len(list) > 0
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(value, &obj); err == nil {
		return len(obj) > 0
	}
	return true
}

// Entries returns the list stored under key. A value that is not a list
// yields an error wrapping ErrMalformedRow.
func (a *Analysis) Entries(key string) ([]Entry, error) {
	value, ok := a.obj.get(key)
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		return nil, fmt.Errorf("%w: %q is not a list", ErrMalformedRow, key)
	}

	entries := make([]Entry, len(items))
	for i, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			entries[i] = TextEntry(text)
			continue
		}
		entries[i] = Entry{Raw: item}
	}
	return entries, nil
}

// SetEntries replaces the list stored under key.
func (a *Analysis) SetEntries(key string, entries []Entry) error {
	items := make([]json.RawMessage, len(entries))
	for i, entry := range entries {
		if !entry.IsText {
			items[i] = entry.Raw
			continue
		}
		encoded, err := marshalJSON(entry.Text)
		if err != nil {
			return fmt.Errorf("encoding %q entry %d: %w", key, i, err)
		}
		items[i] = encoded
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
	a.obj.set(key, buf.Bytes())
	return nil
}

// Marshal encodes the analysis back to JSON text.
func (a *Analysis) Marshal() (string, error) {
	data, err := a.obj.marshal()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
