package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/tle-fetcher/internal/source"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"TLE_FETCHER_STATE_DIR": "/tmp/tle"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CacheTTL != DefaultCacheTTL || cfg.Repository != RepositoryFile || cfg.Validator != "pure" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.SourceOrder, []string{"celestrak", "ivan", "spacetrack", "n2yo"}) {
		t.Fatalf("SourceOrder = %v", cfg.SourceOrder)
	}
	if cfg.HTTPRetries != 3 || cfg.HTTPBackoff != 800*time.Millisecond || cfg.HTTPTimeout != 10*time.Second {
		t.Fatalf("http settings = %d %v %v", cfg.HTTPRetries, cfg.HTTPBackoff, cfg.HTTPTimeout)
	}
	if cfg.RepositoryDir() != filepath.Join("/tmp/tle", "db") || cfg.CatalogPath() != filepath.Join("/tmp/tle", "ingest.sqlite3") {
		t.Fatalf("paths = %s %s", cfg.RepositoryDir(), cfg.CatalogPath())
	}
	if cfg.Tracing.Enabled || cfg.Tracing.ServiceName != "tle-fetcher" {
		t.Fatalf("tracing = %+v", cfg.Tracing)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{
		"TLE_FETCHER_STATE_DIR":    "/srv/tle",
		"TLE_FETCHER_OFFLINE":      "yes",
		"TLE_FETCHER_CACHE_TTL":    "600",
		"TLE_FETCHER_SOURCE_ORDER": "ivan, celestrak,,",
		"TLE_FETCHER_VERIFY":       "25",
		"TLE_FETCHER_REPOSITORY":   "SQLite",
		"TLE_FETCHER_CATALOG_DB":   "/var/lib/ingest.db",
		"TLE_FETCHER_VALIDATOR":    "sgp4",
		"TLE_FETCHER_HTTP_RETRIES": "1",
		"TLE_FETCHER_HTTP_BACKOFF": "50ms",
		"TLE_FETCHER_HTTP_TIMEOUT": "3s",
		"N2YO_API_KEY":             "abcdef123",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Offline || cfg.CacheTTL != 10*time.Minute || cfg.Verify != 0.25 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.SourceOrder, []string{"ivan", "celestrak"}) {
		t.Fatalf("SourceOrder = %v", cfg.SourceOrder)
	}
	if cfg.Repository != RepositorySQLite || cfg.Validator != "sgp4" || cfg.CatalogPath() != "/var/lib/ingest.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.HTTPRetries != 1 || cfg.HTTPBackoff != 50*time.Millisecond || cfg.HTTPTimeout != 3*time.Second {
		t.Fatalf("http settings = %d %v %v", cfg.HTTPRetries, cfg.HTTPBackoff, cfg.HTTPTimeout)
	}
	if cfg.Credentials.N2YOAPIKey != "abcdef123" {
		t.Fatalf("credentials = %+v", cfg.Credentials)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"TLE_FETCHER_OFFLINE", "maybe"},
		{"TLE_FETCHER_CACHE_TTL", "soon"},
		{"TLE_FETCHER_VERIFY", "150"},
		{"TLE_FETCHER_REPOSITORY", "redis"},
		{"TLE_FETCHER_REPOSITORY", "postgres"},
		{"TLE_FETCHER_VALIDATOR", "fast"},
		{"TLE_FETCHER_HTTP_RETRIES", "-1"},
	}
	for _, tt := range tests {
		_, err := Load(envMap(map[string]string{tt.key: tt.value}))
		if err == nil {
			t.Fatalf("Load(%s=%s) succeeded, want error", tt.key, tt.value)
		}
		if !strings.Contains(err.Error(), "TLE_FETCHER_") {
			t.Fatalf("Load(%s=%s) error %q does not name the variable", tt.key, tt.value, err)
		}
	}
}

func TestParseVerify(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0", 0},
		{"0.1", 0.1},
		{"1", 1},
		{"10", 0.1},
		{"50%", 0.5},
		{"100", 1},
	}
	for _, tt := range tests {
		got, err := ParseVerify(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseVerify(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestRedaction(t *testing.T) {
	if got := Redact("supersecret"); got != "supe****" {
		t.Fatalf("Redact = %q", got)
	}
	if got := Redact("abc"); got != "***" {
		t.Fatalf("Redact(short) = %q", got)
	}
	if got := RedactDSN("postgres://tle:hunter2@db:5432/tle?sslmode=disable"); got != "postgres://tle:****@db:5432/tle?sslmode=disable" {
		t.Fatalf("RedactDSN = %q", got)
	}
	cfg := Config{Credentials: sourceCreds("user", "password1", "key12345")}
	for _, f := range cfg.LogFields() {
		if s, ok := f.Value.(string); ok && (strings.Contains(s, "password1") || strings.Contains(s, "key12345")) {
			t.Fatalf("LogFields leaks %s=%q", f.Key, s)
		}
	}
}

func TestRegistryAppliesSourcesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	doc := "sources:\n  - name: celestrak\n    rate_limit: 3s\n  - name: mirror\n    url: https://mirror.example/tle/{id}\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	reg, err := Config{SourcesFile: path}.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	def, ok := reg.Lookup("celestrak")
	if !ok || def.RateLimit != 3*time.Second || def.URL == "" {
		t.Fatalf("celestrak = %+v", def)
	}
	if _, ok := reg.Lookup("mirror"); !ok {
		t.Fatal("mirror not registered")
	}
}

func sourceCreds(user, pass, key string) source.Credentials {
	return source.Credentials{SpaceTrackUser: user, SpaceTrackPass: pass, N2YOAPIKey: key}
}
