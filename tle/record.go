// Package tle parses and validates two-line element sets.
package tle

import (
	"strings"
	"time"
)

// DefaultSource tags records whose origin the caller did not name.
const DefaultSource = "unknown"

// Record is a validated element set. Values are only produced by Parse and
// are never edited afterwards; a correction means parsing again.
type Record struct {
	NoradID string
	Name    string
	Line1   string
	Line2   string
	Source  string
	Epoch   time.Time
}

// AsText serialises the record as newline-terminated lines, optionally
// preceded by the name line. Parse(r.AsText(true)) yields the same lines.
func (r Record) AsText(includeName bool) string {
	var b strings.Builder
	if includeName && r.Name != "" {
		b.WriteString(r.Name)
		b.WriteByte('\n')
	}
	b.WriteString(r.Line1)
	b.WriteByte('\n')
	b.WriteString(r.Line2)
	b.WriteByte('\n')
	return b.String()
}

// SameLines reports whether both element lines are byte-identical.
func (r Record) SameLines(other Record) bool {
	return r.Line1 == other.Line1 && r.Line2 == other.Line2
}

// WithSource returns a copy of r tagged with a different source.
func (r Record) WithSource(source string) Record {
	r.Source = source
	return r
}

// CatalogField returns the trimmed catalog number embedded in an element
// line (columns 3-7), or "" when the line is too short.
func CatalogField(line string) string {
	if len(line) < 7 {
		return ""
	}
	return strings.TrimSpace(line[2:7])
}

// IsAlpha5 reports whether id uses the alphanumeric catalog scheme: a
// letter (I and O excluded) followed by four digits.
func IsAlpha5(id string) bool {
	if len(id) != 5 {
		return false
	}
	c := id[0]
	if c < 'A' || c > 'Z' || c == 'I' || c == 'O' {
		return false
	}
	return isDigits(id[1:])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
