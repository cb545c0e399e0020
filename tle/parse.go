package tle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type jsonPayload struct {
	Name  string `json:"name"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// Parse extracts and validates an element set from text. The payload may be
// the usual two or three line form (surrounded by anything) or a JSON object
// with line1, line2 and optional name keys. expectedID may be empty.
func Parse(text, expectedID, source string) (Record, error) {
	name, line1, line2, ok := scanLines(text)
	if !ok {
		var err error
		name, line1, line2, err = decodeJSON(text)
		if err != nil {
			return Record{}, err
		}
	}

	if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return Record{}, fmt.Errorf("%w: lines must start with \"1 \" and \"2 \"", ErrBadPrefix)
	}
	if !Checksum(line1) {
		return Record{}, fmt.Errorf("%w: line 1", ErrChecksum)
	}
	if !Checksum(line2) {
		return Record{}, fmt.Errorf("%w: line 2", ErrChecksum)
	}

	cat1, cat2 := CatalogField(line1), CatalogField(line2)
	if cat1 == "" || cat1 != cat2 {
		return Record{}, fmt.Errorf("%w: %q vs %q", ErrCatalogMismatch, cat1, cat2)
	}

	expectedID = strings.TrimSpace(expectedID)
	if expectedID != "" && isDigits(expectedID) && isDigits(cat1) {
		want, _ := strconv.Atoi(expectedID)
		got, _ := strconv.Atoi(cat1)
		if want != got {
			return Record{}, fmt.Errorf("%w: expected %s, got %s", ErrIdentityMismatch, expectedID, cat1)
		}
	}

	epoch, err := Epoch(line1)
	if err != nil {
		return Record{}, err
	}

	id := expectedID
	if id == "" {
		id = cat1
	}
	if source == "" {
		source = DefaultSource
	}
	return Record{
		NoradID: id,
		Name:    name,
		Line1:   line1,
		Line2:   line2,
		Source:  source,
		Epoch:   epoch,
	}, nil
}

// scanLines finds the first "1 "/"2 " pair among the non-blank lines of
// text. The line right before the pair is the name unless it is itself an
// element line.
func scanLines(text string) (name, line1, line2 string, ok bool) {
	lines := nonBlankLines(text)
	for i := 0; i+1 < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "1 ") || !strings.HasPrefix(lines[i+1], "2 ") {
			continue
		}
		if i > 0 {
			prev := lines[i-1]
			if !strings.HasPrefix(prev, "1 ") && !strings.HasPrefix(prev, "2 ") {
				name = prev
			}
		}
		return name, lines[i], lines[i+1], true
	}
	return "", "", "", false
}

func decodeJSON(text string) (name, line1, line2 string, err error) {
	var p jsonPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return "", "", "", fmt.Errorf("%w: no element line pair found", ErrMalformedPayload)
	}
	line1, line2 = strings.TrimSpace(p.Line1), strings.TrimSpace(p.Line2)
	if line1 == "" || line2 == "" {
		return "", "", "", fmt.Errorf("%w: JSON payload lacks line1/line2", ErrMalformedPayload)
	}
	return strings.TrimSpace(p.Name), line1, line2, nil
}

// nonBlankLines splits text on any newline convention, trims each line and
// drops empty ones.
func nonBlankLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Pairs returns every distinct line pair in text in order of first
// appearance, each with its preceding name line if any. Pairs are not
// validated.
func Pairs(text string) []Record {
	lines := nonBlankLines(text)
	seen := make(map[[2]string]struct{})
	var out []Record
	for i := 0; i+1 < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "1 ") || !strings.HasPrefix(lines[i+1], "2 ") {
			continue
		}
		key := [2]string{lines[i], lines[i+1]}
		if _, dup := seen[key]; dup {
			i++
			continue
		}
		seen[key] = struct{}{}
		var name string
		if i > 0 && !strings.HasPrefix(lines[i-1], "1 ") && !strings.HasPrefix(lines[i-1], "2 ") {
			name = lines[i-1]
		}
		out = append(out, Record{Name: name, Line1: lines[i], Line2: lines[i+1]})
		i++
	}
	return out
}
