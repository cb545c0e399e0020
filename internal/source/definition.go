package source

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "TLE-Fetcher/3.0 (+https://example.local)"
	// AttributionHeader names the data provider being credited.
	AttributionHeader = "X-TLE-Attribution"
	// DefaultTimeout bounds each HTTP exchange.
	DefaultTimeout = 10 * time.Second
)

// Payload formats understood by the client.
const (
	FormatText       = "text"
	FormatN2YOJSON   = "n2yo-json"
	FormatSpaceTrack = "spacetrack"
)

// Definition describes one remote element-set endpoint.
type Definition struct {
	Name string `yaml:"name"`
	// URL may contain {id} (path-escaped identity) and {api_key}.
	URL         string            `yaml:"url"`
	Attribution string            `yaml:"attribution"`
	RateLimit   time.Duration     `yaml:"rate_limit"`
	Timeout     time.Duration     `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
	Format      string            `yaml:"format"`
	// Auth is "" or "basic"; basic sends Username/Password.
	Auth string `yaml:"auth"`

	Username string `yaml:"-"`
	Password string `yaml:"-"`
	APIKey   string `yaml:"-"`
}

// BuildURL substitutes id and the API key into the URL template.
func (d Definition) BuildURL(id string) string {
	r := strings.NewReplacer(
		"{id}", url.PathEscape(id),
		"{api_key}", url.QueryEscape(d.APIKey),
	)
	return r.Replace(d.URL)
}

func (d Definition) missingCredentials() error {
	if strings.Contains(d.URL, "{api_key}") && d.APIKey == "" {
		return fmt.Errorf("API key not configured")
	}
	if strings.EqualFold(d.Auth, "basic") && (d.Username == "" || d.Password == "") {
		return fmt.Errorf("credentials not configured")
	}
	return nil
}

// Credentials are secrets attached to built-in definitions.
type Credentials struct {
	SpaceTrackUser string
	SpaceTrackPass string
	N2YOAPIKey     string
}

// DefaultOrder is the source priority used when none is configured.
var DefaultOrder = []string{"celestrak", "ivan", "spacetrack", "n2yo"}

// BuiltinDefinitions returns the stock endpoints with creds applied.
func BuiltinDefinitions(creds Credentials) []Definition {
	return []Definition{
		{
			Name:        "celestrak",
			URL:         "https://celestrak.org/NORAD/elements/gp.php?CATNR={id}&FORMAT=tle",
			Attribution: "celestrak.org",
			RateLimit:   time.Second,
			Format:      FormatText,
		},
		{
			Name:        "ivan",
			URL:         "https://tle.ivanstanojevic.me/api/tle/{id}",
			Attribution: "tle.ivanstanojevic.me",
			RateLimit:   500 * time.Millisecond,
			Format:      FormatText,
		},
		{
			Name:        "spacetrack",
			URL:         "https://www.space-track.org/basicspacedata/query/class/gp/NORAD_CAT_ID/{id}/orderby/EPOCH%20desc/limit/1/format/tle",
			Attribution: "space-track.org",
			RateLimit:   2 * time.Second,
			Headers:     map[string]string{"Pragma": "no-cache"},
			Format:      FormatSpaceTrack,
			Auth:        "basic",
			Username:    creds.SpaceTrackUser,
			Password:    creds.SpaceTrackPass,
		},
		{
			Name:        "n2yo",
			URL:         "https://api.n2yo.com/rest/v1/satellite/tle/{id}&apiKey={api_key}",
			Attribution: "n2yo.com",
			RateLimit:   time.Second,
			Format:      FormatN2YOJSON,
			APIKey:      creds.N2YOAPIKey,
		},
	}
}

// Registry maps source names to definitions.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry returns a registry holding defs; later duplicates win.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a definition. Fields left empty in an override
// of an existing name keep their previous values, so a YAML file can tweak
// a single setting.
func (r *Registry) Register(d Definition) {
	if prev, ok := r.defs[d.Name]; ok {
		d = merge(prev, d)
	}
	if d.Format == "" {
		d.Format = FormatText
	}
	r.defs[d.Name] = d
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Resolve keeps the known names from order, dropping unknown names and
// repeats while preserving order.
func (r *Registry) Resolve(order []string) []Definition {
	seen := make(map[string]struct{}, len(order))
	out := make([]Definition, 0, len(order))
	for _, name := range order {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if d, ok := r.defs[name]; ok {
			out = append(out, d)
		}
	}
	return out
}

// BuildClients constructs one Client per resolved name in order.
func (r *Registry) BuildClients(order []string, transport Transport, opts ...Option) []*Client {
	defs := r.Resolve(order)
	clients := make([]*Client, 0, len(defs))
	for _, d := range defs {
		clients = append(clients, NewClient(d, transport, opts...))
	}
	return clients
}

// ParseSourceOrder splits a comma separated list, trimming items and
// dropping empty ones.
func ParseSourceOrder(text string) []string {
	var out []string
	for _, item := range strings.Split(text, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type definitionsFile struct {
	Sources []Definition `yaml:"sources"`
}

// LoadDefinitions decodes a YAML document of the form
//
//	sources:
//	  - name: celestrak
//	    rate_limit: 2s
func LoadDefinitions(rd io.Reader) ([]Definition, error) {
	var f definitionsFile
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode source definitions: %w", err)
	}
	for i, d := range f.Sources {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("source definition %d: name is required", i)
		}
		switch d.Format {
		case "", FormatText, FormatN2YOJSON, FormatSpaceTrack:
		default:
			return nil, fmt.Errorf("source %s: unknown format %q", d.Name, d.Format)
		}
	}
	return f.Sources, nil
}

func merge(prev, next Definition) Definition {
	if next.URL == "" {
		next.URL = prev.URL
	}
	if next.Attribution == "" {
		next.Attribution = prev.Attribution
	}
	if next.RateLimit == 0 {
		next.RateLimit = prev.RateLimit
	}
	if next.Timeout == 0 {
		next.Timeout = prev.Timeout
	}
	if next.Headers == nil {
		next.Headers = prev.Headers
	}
	if next.Format == "" {
		next.Format = prev.Format
	}
	if next.Auth == "" {
		next.Auth = prev.Auth
	}
	if next.Username == "" {
		next.Username = prev.Username
	}
	if next.Password == "" {
		next.Password = prev.Password
	}
	if next.APIKey == "" {
		next.APIKey = prev.APIKey
	}
	return next
}
