package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/tle-fetcher/internal/source"
)

const (
	issName  = "ISS (ZARYA)"
	issLine1 = "1 25544U 98067A   24157.20856222  .00006411  00000+0  11842-3 0  9996"
	issLine2 = "2 25544  51.6412 205.1217 0004225 113.2939 306.8174 15.50073703551595"
	issText  = issName + "\n" + issLine1 + "\n" + issLine2 + "\n"
)

type fakeNetwork struct {
	mu   sync.Mutex
	urls []string
}

func (n *fakeNetwork) Get(_ context.Context, url string, _ http.Header, _ time.Duration) ([]byte, error) {
	n.mu.Lock()
	n.urls = append(n.urls, url)
	n.mu.Unlock()
	switch {
	case strings.Contains(url, "CATNR=25544"), strings.Contains(url, "GROUP=active"):
		return []byte(issText), nil
	}
	return nil, &source.StatusError{Code: http.StatusNotFound}
}

func (n *fakeNetwork) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.urls)
}

type harness struct {
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	net    *fakeNetwork
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	env := map[string]string{
		"TLE_FETCHER_STATE_DIR":    dir,
		"TLE_FETCHER_SOURCE_ORDER": "celestrak",
		"TLE_FETCHER_HTTP_RETRIES": "0",
		"TLE_FETCHER_HTTP_BACKOFF": "0",
		"LOG_LEVEL":                "error",
	}
	h := &harness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, net: &fakeNetwork{}, dir: dir}
	h.app = &app{
		stdout:    h.stdout,
		stderr:    h.stderr,
		getenv:    func(k string) string { return env[k] },
		transport: h.net,
	}
	return h
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.app.run(context.Background(), args)
}

func TestFetchWritesRecordAndServesOfflineAfterwards(t *testing.T) {
	h := newHarness(t)
	if code := h.run("fetch", "--ids", "25544"); code != exitOK {
		t.Fatalf("fetch exit = %d, stderr:\n%s", code, h.stderr)
	}
	if h.stdout.String() != issText {
		t.Fatalf("stdout = %q, want %q", h.stdout, issText)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "db", "25544.tle")); err != nil {
		t.Fatalf("repository file: %v", err)
	}

	calls := h.net.calls()
	if code := h.run("--offline", "--ids", "25544"); code != exitOK {
		t.Fatalf("offline fetch exit = %d, stderr:\n%s", code, h.stderr)
	}
	if h.stdout.String() != issText {
		t.Fatalf("offline stdout = %q", h.stdout)
	}
	if h.net.calls() != calls {
		t.Fatalf("offline fetch used the network")
	}
}

func TestFetchStaleOfflineWarns(t *testing.T) {
	h := newHarness(t)
	if code := h.run("fetch", "--ids", "25544"); code != exitOK {
		t.Fatalf("fetch exit = %d, stderr:\n%s", code, h.stderr)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(h.dir, "db", "25544.tle"), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if code := h.run("fetch", "--offline", "--ids", "25544"); code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, h.stderr)
	}
	for _, want := range []string{
		"warning: 25544: operating offline with stale record",
		"warning: 25544: result is older than TTL",
	} {
		if !strings.Contains(h.stderr.String(), want) {
			t.Fatalf("stderr lacks %q:\n%s", want, h.stderr)
		}
	}
}

func TestFetchFailureSetsExitCode(t *testing.T) {
	h := newHarness(t)
	code := h.run("fetch", "--ids", "25544,99999")
	if code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(h.stderr.String(), "error: 99999:") {
		t.Fatalf("stderr = %s", h.stderr)
	}
	if h.stdout.String() != issText {
		t.Fatalf("stdout = %q, want only the successful record", h.stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)
	if code := h.run("fetch"); code != exitUsage {
		t.Fatalf("fetch without ids exit = %d, want %d", code, exitUsage)
	}
	if code := h.run("frobnicate"); code != exitUsage {
		t.Fatalf("unknown command exit = %d, want %d", code, exitUsage)
	}
	if code := h.run("fetch", "--no-such-flag"); code != exitUsage {
		t.Fatalf("bad flag exit = %d, want %d", code, exitUsage)
	}
	if code := h.run("fetch", "--all", "--ids-file", filepath.Join(h.dir, "missing.txt")); code != exitUsage {
		t.Fatalf("missing ids file exit = %d, want %d", code, exitUsage)
	}
	if code := h.run("fetch", "--ids", "25544", "--verify", "lots"); code != exitUsage {
		t.Fatalf("bad verify exit = %d, want %d", code, exitUsage)
	}
}

func TestReportSummarisesFetchedRecords(t *testing.T) {
	h := newHarness(t)
	if code := h.run("fetch", "--ids", "25544"); code != exitOK {
		t.Fatalf("fetch exit = %d, stderr:\n%s", code, h.stderr)
	}
	if code := h.run("report"); code != exitOK {
		t.Fatalf("report exit = %d, stderr:\n%s", code, h.stderr)
	}
	var summary struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	if err := json.Unmarshal(h.stdout.Bytes(), &summary); err != nil {
		t.Fatalf("report output: %v\n%s", err, h.stdout)
	}
	if summary.Count != 1 || !reflect.DeepEqual(summary.IDs, []string{"25544"}) {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestPropagateFromFileAsCSV(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "iss.tle")
	if err := os.WriteFile(path, []byte(issText), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	code := h.run("propagate", "--tle-file", path,
		"--start", "2024-06-05T05:00:00Z", "--end", "2024-06-05T05:20:00Z",
		"--step", "PT10M", "--format", "csv")
	if code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, h.stderr)
	}
	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("csv lines = %d, want header + 3:\n%s", len(lines), h.stdout)
	}
	if !strings.HasPrefix(lines[1], "25544,2024-06-05T05:00:00Z,") {
		t.Fatalf("first row = %q", lines[1])
	}
}

func TestDiscoverOnlineThenOffline(t *testing.T) {
	h := newHarness(t)
	if code := h.run("discover", "--offline"); code != exitFailure {
		t.Fatalf("offline discover on empty store exit = %d, want %d", code, exitFailure)
	}
	if code := h.run("discover", "--source", "celestrak"); code != exitOK {
		t.Fatalf("discover exit = %d, stderr:\n%s", code, h.stderr)
	}
	if !strings.Contains(h.stdout.String(), "new=1 cache=no") || !strings.Contains(h.stdout.String(), "25544") {
		t.Fatalf("stdout = %s", h.stdout)
	}
	if code := h.run("discover", "--source", "celestrak", "--since", "2024-07-01"); code != exitOK {
		t.Fatalf("discover --since exit = %d, stderr:\n%s", code, h.stderr)
	}
	if !strings.Contains(h.stdout.String(), "new=0") || !strings.Contains(h.stdout.String(), "since=2024-07-01T00:00:00Z") {
		t.Fatalf("stdout = %s", h.stdout)
	}
	if code := h.run("discover", "--source", "nope"); code != exitFailure {
		t.Fatalf("unknown source exit = %d, want %d", code, exitFailure)
	}
}

func TestLoadIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	doc := "# stations\n25544 48274\n\n20580  # hubble\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ids, err := loadIDs(path)
	if err != nil {
		t.Fatalf("loadIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"25544", "48274", "20580"}) {
		t.Fatalf("loadIDs = %v", ids)
	}
	if _, err := loadIDs(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("loadIDs(missing) error = %v", err)
	}
	got := dedupe(splitIDs([]string{"25544, 48274", "25544 20580"}))
	if !reflect.DeepEqual(got, []string{"25544", "48274", "20580"}) {
		t.Fatalf("splitIDs = %v", got)
	}
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"10m", 10 * time.Minute},
		{"PT10M", 10 * time.Minute},
		{"pt1h30m", 90 * time.Minute},
		{"PT30S", 30 * time.Second},
		{"600", 10 * time.Minute},
		{"1.5", 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := parseStep(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("parseStep(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"", "0", "-5m", "soon"} {
		if _, err := parseStep(bad); err == nil {
			t.Fatalf("parseStep(%q) succeeded", bad)
		}
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-06-01", "2024/06/01", "2024-06-01T00:00:00Z", "2024-06-01T02:00:00+02:00"} {
		got, err := parseTime(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("parseTime(%q) = %v, %v", in, got, err)
		}
	}
}
