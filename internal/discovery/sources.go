// Package discovery ingests whole catalog listings from public feeds into
// the catalog store, tracking a per-source cursor so repeated runs only
// store what is new.
package discovery

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/tle-fetcher/model"
	"github.com/signalsfoundry/tle-fetcher/tle"
)

// Default catalog endpoints.
const (
	CelesTrakCatalogURL = "https://celestrak.org/NORAD/elements/gp.php"
	IvanCatalogURL      = "https://tle.ivanstanojevic.me/api/tle"
)

// CatalogSource knows where a listing lives and how to read it.
type CatalogSource interface {
	Name() string
	// URL returns the listing location. Feeds that cannot filter server
	// side ignore since.
	URL(since time.Time) string
	Parse(payload string) Batch
}

// Batch is the parsed content of one listing.
type Batch struct {
	Entries []model.CatalogEntry
	// Rejected counts element sets that failed validation.
	Rejected int
}

// CelesTrak reads the plain three-line listing of one CelesTrak group.
type CelesTrak struct {
	BaseURL   string
	Group     string
	Validator tle.Validator
}

// NewCelesTrak returns the "active" group source.
func NewCelesTrak() *CelesTrak {
	return &CelesTrak{BaseURL: CelesTrakCatalogURL, Group: "active", Validator: tle.Pure{}}
}

func (c *CelesTrak) Name() string { return "celestrak" }

func (c *CelesTrak) URL(time.Time) string {
	q := url.Values{}
	q.Set("GROUP", c.Group)
	q.Set("FORMAT", "tle")
	return c.BaseURL + "?" + q.Encode()
}

func (c *CelesTrak) Parse(payload string) Batch {
	return scanPairs(c.Name(), payload, c.Validator)
}

// Ivan reads the paged JSON listing of tle.ivanstanojevic.me. A payload
// that is not JSON is scanned for line pairs instead.
type Ivan struct {
	BaseURL   string
	Validator tle.Validator
}

// NewIvan returns the default Ivan source.
func NewIvan() *Ivan {
	return &Ivan{BaseURL: IvanCatalogURL, Validator: tle.Pure{}}
}

func (i *Ivan) Name() string { return "ivan" }

func (i *Ivan) URL(time.Time) string { return i.BaseURL }

type ivanItem struct {
	Name           string          `json:"name"`
	Line1          string          `json:"line1"`
	Line2          string          `json:"line2"`
	SatelliteID    json.RawMessage `json:"satelliteId"`
	SatelliteIDAlt json.RawMessage `json:"satellite_id"`
	Date           string          `json:"date"`
	Timestamp      string          `json:"timestamp"`
	Epoch          string          `json:"epoch"`
}

func (i *Ivan) Parse(payload string) Batch {
	items, ok := ivanItems(payload)
	if !ok {
		return scanPairs(i.Name(), payload, i.Validator)
	}
	var b Batch
	for _, raw := range items {
		var it ivanItem
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		if it.Line1 == "" || it.Line2 == "" {
			continue
		}
		id := rawID(it.SatelliteID)
		if id == "" {
			id = rawID(it.SatelliteIDAlt)
		}
		rec, err := validator(i.Validator).Validate(joinLines(it.Name, it.Line1, it.Line2), id, i.Name())
		if err != nil {
			b.Rejected++
			continue
		}
		e := catalogEntry(i.Name(), rec)
		if ts, ok := parseTimestamp(it.Date, it.Timestamp, it.Epoch); ok {
			e.Epoch = ts
		}
		b.Entries = append(b.Entries, e)
	}
	return b
}

// ivanItems returns the listing's items, or false when payload is not JSON.
func ivanItems(payload string) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace([]byte(payload))
	if len(trimmed) == 0 {
		return nil, false
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, false
		}
		return items, true
	case '{':
		var page struct {
			Member []json.RawMessage `json:"member"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, false
		}
		return page.Member, true
	}
	return nil, false
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return strconv.FormatInt(v, 10)
		}
		return n.String()
	}
	return ""
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// parseTimestamp returns the first candidate that parses. Values without a
// zone are taken as UTC.
func parseTimestamp(candidates ...string) (time.Time, bool) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}

func scanPairs(source, payload string, v tle.Validator) Batch {
	var b Batch
	for _, p := range tle.Pairs(payload) {
		rec, err := validator(v).Validate(p.AsText(true), "", source)
		if err != nil {
			b.Rejected++
			continue
		}
		b.Entries = append(b.Entries, catalogEntry(source, rec))
	}
	return b
}

func catalogEntry(source string, rec tle.Record) model.CatalogEntry {
	return model.CatalogEntry{
		Source:  source,
		NoradID: rec.NoradID,
		Name:    rec.Name,
		Line1:   rec.Line1,
		Line2:   rec.Line2,
		Epoch:   rec.Epoch,
	}
}

func joinLines(name, line1, line2 string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name + "\n" + line1 + "\n" + line2
	}
	return line1 + "\n" + line2
}

func validator(v tle.Validator) tle.Validator {
	if v == nil {
		return tle.Pure{}
	}
	return v
}
