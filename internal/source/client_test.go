package source

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/timectrl"
)

type call struct {
	url     string
	headers http.Header
	at      time.Time
	timeout time.Duration
}

// scriptedTransport replays responses in order and records each call.
type scriptedTransport struct {
	mu        sync.Mutex
	clock     timectrl.Clock
	responses []func() ([]byte, error)
	calls     []call
}

func (s *scriptedTransport) Get(_ context.Context, url string, headers http.Header, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := call{url: url, headers: headers, timeout: timeout}
	if s.clock != nil {
		c.at = s.clock.Now()
	}
	s.calls = append(s.calls, c)
	if len(s.responses) == 0 {
		return []byte("ok"), nil
	}
	next := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return next()
}

func body(s string) func() ([]byte, error)   { return func() ([]byte, error) { return []byte(s), nil } }
func status(code int) func() ([]byte, error) { return func() ([]byte, error) { return nil, &StatusError{Code: code} } }
func netErr() func() ([]byte, error) {
	return func() ([]byte, error) { return nil, errors.New("connection reset") }
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []string
	retries  int
}

func (o *countingObserver) ObserveRequest(_ string, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *countingObserver) ObserveRetry(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

var start = time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)

func testDefinition() Definition {
	return Definition{
		Name:        "celestrak",
		URL:         "https://example.test/gp.php?CATNR={id}&FORMAT=tle",
		Attribution: "example.test",
		RateLimit:   time.Second,
		Headers:     map[string]string{"Pragma": "no-cache"},
	}
}

func newTestClient(def Definition, tr Transport, clk timectrl.Clock, opts ...Option) *Client {
	base := []Option{WithClock(clk), WithBackoff(0, 0)}
	return NewClient(def, tr, append(base, opts...)...)
}

func TestFetchSendsHeadersAndEscapesID(t *testing.T) {
	clk := timectrl.NewManual(start)
	tr := &scriptedTransport{responses: []func() ([]byte, error){body("payload")}}
	c := newTestClient(testDefinition(), tr, clk)

	got, err := c.Fetch(context.Background(), "a/b 1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "payload" {
		t.Fatalf("Fetch = %q, want payload", got)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(tr.calls))
	}
	call := tr.calls[0]
	if !strings.Contains(call.url, "CATNR=a%2Fb%201&") {
		t.Fatalf("url = %q, want escaped identity", call.url)
	}
	if call.headers.Get("User-Agent") != DefaultUserAgent {
		t.Fatalf("User-Agent = %q", call.headers.Get("User-Agent"))
	}
	if call.headers.Get(AttributionHeader) != "example.test" {
		t.Fatalf("%s = %q", AttributionHeader, call.headers.Get(AttributionHeader))
	}
	if call.headers.Get("Pragma") != "no-cache" {
		t.Fatalf("extra header missing: %v", call.headers)
	}
	if call.timeout != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", call.timeout, DefaultTimeout)
	}
}

func TestRateLimitFloorBetweenRequests(t *testing.T) {
	clk := timectrl.NewManual(start)
	tr := &scriptedTransport{clock: clk}
	c := newTestClient(testDefinition(), tr, clk)

	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), "25544"); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
	}
	for i := 1; i < len(tr.calls); i++ {
		if gap := tr.calls[i].at.Sub(tr.calls[i-1].at); gap < time.Second {
			t.Fatalf("gap between request %d and %d = %v, want >= 1s", i-1, i, gap)
		}
	}

	// Enough idle time means no wait at all.
	clk.Advance(5 * time.Second)
	waitsBefore := len(clk.Waits())
	if _, err := c.Fetch(context.Background(), "25544"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(clk.Waits()) != waitsBefore {
		t.Fatalf("client waited after idle period: %v", clk.Waits()[waitsBefore:])
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	clk := timectrl.NewManual(start)
	tr := &scriptedTransport{responses: []func() ([]byte, error){netErr(), status(503), body("fine")}}
	obs := &countingObserver{}
	c := newTestClient(testDefinition(), tr, clk, WithRetries(3), WithObserver(obs))

	got, err := c.Fetch(context.Background(), "25544")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "fine" || len(tr.calls) != 3 {
		t.Fatalf("Fetch = %q after %d calls, want fine after 3", got, len(tr.calls))
	}
	if obs.retries != 2 || len(obs.outcomes) != 1 || obs.outcomes[0] != "success" {
		t.Fatalf("observer = %+v", obs)
	}
}

func TestRetriesExhausted(t *testing.T) {
	clk := timectrl.NewManual(start)
	tr := &scriptedTransport{responses: []func() ([]byte, error){status(500)}}
	c := newTestClient(testDefinition(), tr, clk, WithRetries(2))

	_, err := c.Fetch(context.Background(), "25544")
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("error = %T %v, want *Error", err, err)
	}
	if serr.Status != 500 || serr.Source != "celestrak" {
		t.Fatalf("error = %+v", serr)
	}
	if len(tr.calls) != 3 {
		t.Fatalf("calls = %d, want 3 (1 + 2 retries)", len(tr.calls))
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	for _, code := range []int{400, 401, 404} {
		clk := timectrl.NewManual(start)
		tr := &scriptedTransport{responses: []func() ([]byte, error){status(code)}}
		c := newTestClient(testDefinition(), tr, clk, WithRetries(3))

		_, err := c.Fetch(context.Background(), "25544")
		var serr *Error
		if !errors.As(err, &serr) || serr.Status != code {
			t.Fatalf("HTTP %d: error = %v", code, err)
		}
		if len(tr.calls) != 1 {
			t.Fatalf("HTTP %d: calls = %d, want 1", code, len(tr.calls))
		}
	}

	clk := timectrl.NewManual(start)
	tr := &scriptedTransport{responses: []func() ([]byte, error){status(429), body("ok")}}
	c := newTestClient(testDefinition(), tr, clk, WithRetries(1))
	if _, err := c.Fetch(context.Background(), "25544"); err != nil {
		t.Fatalf("429 should be retried: %v", err)
	}
}

func TestBackoffSchedule(t *testing.T) {
	b := &jitteredBackOff{base: 800 * time.Millisecond, jitter: 125 * time.Millisecond, rand: func() float64 { return 0.5 }}
	want := []time.Duration{
		800*time.Millisecond + 62500*time.Microsecond,
		1600*time.Millisecond + 62500*time.Microsecond,
		3200*time.Millisecond + 62500*time.Microsecond,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Fatalf("attempt %d backoff = %v, want %v", i, got, w)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != want[0] {
		t.Fatalf("after Reset backoff = %v, want %v", got, want[0])
	}
}

func TestN2YODecoding(t *testing.T) {
	def := Definition{
		Name:   "n2yo",
		URL:    "https://api.example/tle/{id}&apiKey={api_key}",
		Format: FormatN2YOJSON,
		APIKey: "k&y",
	}
	clk := timectrl.NewManual(start)
	tr := &scriptedTransport{responses: []func() ([]byte, error){
		body(`{"info":{"satid":25544},"tle":"1 line\r\n2 line"}`),
	}}
	c := newTestClient(def, tr, clk)

	got, err := c.Fetch(context.Background(), "25544")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "1 line\n2 line" {
		t.Fatalf("Fetch = %q", got)
	}
	if !strings.HasSuffix(tr.calls[0].url, "apiKey=k%26y") {
		t.Fatalf("url = %q, want escaped api key", tr.calls[0].url)
	}

	tr.responses = []func() ([]byte, error){body(`{"info":{}}`)}
	if _, err := c.Fetch(context.Background(), "25544"); err == nil {
		t.Fatalf("expected error for response without tle")
	}
}

func TestMissingCredentialsFailWithoutRequest(t *testing.T) {
	tr := &scriptedTransport{}
	for _, def := range BuiltinDefinitions(Credentials{}) {
		if def.Name != "n2yo" && def.Name != "spacetrack" {
			continue
		}
		c := newTestClient(def, tr, timectrl.NewManual(start))
		var serr *Error
		if _, err := c.Fetch(context.Background(), "25544"); !errors.As(err, &serr) {
			t.Fatalf("%s: error = %v, want *Error", def.Name, err)
		}
	}
	if len(tr.calls) != 0 {
		t.Fatalf("transport called %d times without credentials", len(tr.calls))
	}
}

func TestBasicAuthHeader(t *testing.T) {
	defs := BuiltinDefinitions(Credentials{SpaceTrackUser: "user", SpaceTrackPass: "pass"})
	var st Definition
	for _, d := range defs {
		if d.Name == "spacetrack" {
			st = d
		}
	}
	tr := &scriptedTransport{responses: []func() ([]byte, error){body("1 x\n2 y\n")}}
	c := newTestClient(st, tr, timectrl.NewManual(start))
	if _, err := c.Fetch(context.Background(), "25544"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := tr.calls[0].headers.Get("Authorization"); got != "Basic dXNlcjpwYXNz" {
		t.Fatalf("Authorization = %q", got)
	}

	tr.responses = []func() ([]byte, error){body("Login failed")}
	if _, err := c.Fetch(context.Background(), "25544"); err == nil {
		t.Fatalf("expected login failure to surface as error")
	}
}

func TestInvalidUTF8IsReplaced(t *testing.T) {
	tr := &scriptedTransport{responses: []func() ([]byte, error){body("ab\xffcd")}}
	c := newTestClient(testDefinition(), tr, timectrl.NewManual(start))
	got, err := c.FetchURL(context.Background(), "https://example.test/all")
	if err != nil {
		t.Fatalf("FetchURL: %v", err)
	}
	if got != "ab\uFFFDcd" {
		t.Fatalf("FetchURL = %q", got)
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &scriptedTransport{responses: []func() ([]byte, error){func() ([]byte, error) {
		cancel()
		return nil, errors.New("timeout")
	}}}
	c := newTestClient(testDefinition(), tr, timectrl.NewManual(start), WithRetries(5))
	if _, err := c.Fetch(ctx, "25544"); err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if len(tr.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(tr.calls))
	}
}

func TestRetryAfterHoldsNextAttempt(t *testing.T) {
	clk := timectrl.NewManual(start)
	throttled := func() ([]byte, error) {
		return nil, &StatusError{Code: http.StatusTooManyRequests, RetryAfter: "7"}
	}
	tr := &scriptedTransport{clock: clk, responses: []func() ([]byte, error){throttled, body("fine")}}
	def := testDefinition()
	def.RateLimit = 0
	c := newTestClient(def, tr, clk, WithRetries(1))

	got, err := c.Fetch(context.Background(), "25544")
	if err != nil || got != "fine" {
		t.Fatalf("Fetch = %q, %v; want fine", got, err)
	}
	if len(tr.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(tr.calls))
	}
	if gap := tr.calls[1].at.Sub(tr.calls[0].at); gap != 7*time.Second {
		t.Fatalf("gap between attempts = %v, want 7s", gap)
	}
}

func TestRetryAfterIgnoredForOtherStatuses(t *testing.T) {
	clk := timectrl.NewManual(start)
	failing := func() ([]byte, error) {
		return nil, &StatusError{Code: http.StatusBadGateway, RetryAfter: "30"}
	}
	tr := &scriptedTransport{clock: clk, responses: []func() ([]byte, error){failing, body("fine")}}
	def := testDefinition()
	def.RateLimit = 0
	c := newTestClient(def, tr, clk, WithRetries(1))

	if _, err := c.Fetch(context.Background(), "25544"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(clk.Waits()) != 0 {
		t.Fatalf("waits = %v, want none", clk.Waits())
	}
}

func TestStatusErrorDelay(t *testing.T) {
	now := time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"", 0, false},
		{"120", 2 * time.Minute, true},
		{" 3 ", 3 * time.Second, true},
		{"-1", 0, false},
		{"Wed, 05 Jun 2024 12:00:30 GMT", 30 * time.Second, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := (&StatusError{Code: http.StatusServiceUnavailable, RetryAfter: tt.header}).Delay(now)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("Delay(%q) = %v, %v; want %v, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRetryLogsUseRequestLogger(t *testing.T) {
	clk := timectrl.NewManual(start)
	tr := &scriptedTransport{responses: []func() ([]byte, error){netErr(), body("fine")}}
	c := newTestClient(testDefinition(), tr, clk, WithRetries(1))

	var buf bytes.Buffer
	reqLog := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf}).
		With(logging.String("request_id", "req-42"))
	ctx := logging.ContextWithLogger(context.Background(), reqLog)

	if _, err := c.Fetch(ctx, "25544"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"request_id":"req-42"`, `"source":"celestrak"`, "source request failed; retrying"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output lacks %s:\n%s", want, out)
		}
	}
}
