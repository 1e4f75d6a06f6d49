// Package varref parses variable reference tokens of the form
// <<nodeID.outputs.field>> embedded in free-text node fields.
package varref

import (
	"regexp"
	"strings"
)

// IO types a token may name.
const (
	Inputs  = "inputs"
	Outputs = "outputs"
)

// Reference is one parsed token.
type Reference struct {
	Identifier string `json:"identifier"`
	IOType     string `json:"ioType"`
	FieldName  string `json:"fieldName"`
}

// Token re-serialises the reference in token syntax.
func (r Reference) Token() string {
	return "<<" + r.Identifier + "." + r.IOType + "." + r.FieldName + ">>"
}

// key identifies a reference for deduplication; the IO type is ignored.
func (r Reference) key() string {
	return r.Identifier + "\x00" + r.FieldName
}

var tokenPattern = regexp.MustCompile(`<<([0-9A-Za-z_-]+)\.(inputs|outputs)\.([^>]+)>>`)

// Parse returns every reference in text, left to right. Matches do not
// overlap and duplicates are kept. Text without tokens yields nil.
func Parse(text string) []Reference {
	if !strings.Contains(text, "<<") {
		return nil
	}
	matches := tokenPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Reference{Identifier: m[1], IOType: m[2], FieldName: m[3]})
	}
	return refs
}

// ParseAll parses every text and concatenates the results in order.
func ParseAll(texts ...string) []Reference {
	var refs []Reference
	for _, text := range texts {
		refs = append(refs, Parse(text)...)
	}
	return refs
}

// ParseToken parses text that must consist of exactly one token, ignoring
// surrounding whitespace.
func ParseToken(text string) (Reference, bool) {
	text = strings.TrimSpace(text)
	m := tokenPattern.FindStringSubmatchIndex(text)
	if m == nil || m[0] != 0 || m[1] != len(text) {
		return Reference{}, false
	}
	return Reference{
		Identifier: text[m[2]:m[3]],
		IOType:     text[m[4]:m[5]],
		FieldName:  text[m[6]:m[7]],
	}, true
}

// Token builds an outputs token for nodeID and field.
func Token(nodeID, field string) string {
	return Reference{Identifier: nodeID, IOType: Outputs, FieldName: field}.Token()
}

// ContainsToken reports whether text holds at least one token.
func ContainsToken(text string) bool {
	return tokenPattern.MatchString(text)
}

// Dedupe drops repeated references by (identifier, field name), keeping the
// first occurrence.
func Dedupe(refs []Reference) []Reference {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(refs))
	out := make([]Reference, 0, len(refs))
	for _, r := range refs {
		if seen[r.key()] {
			continue
		}
		seen[r.key()] = true
		out = append(out, r)
	}
	return out
}

// Replace rewrites every token in text with the result of fn.
func Replace(text string, fn func(Reference) string) string {
	if !strings.Contains(text, "<<") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := tokenPattern.FindStringSubmatch(match)
		if len(sub) < 4 {
			return match
		}
		return fn(Reference{Identifier: sub[1], IOType: sub[2], FieldName: sub[3]})
	})
}
