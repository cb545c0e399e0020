package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPTransportGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("User-Agent") != "tle-fetcher-test" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("1 line\n2 line\n"))
		case "/busy":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport()
	if err != nil {
		t.Fatalf("NewHTTPTransport: %v", err)
	}

	headers := http.Header{}
	headers.Set("User-Agent", "tle-fetcher-test")
	got, err := tr.Get(context.Background(), srv.URL+"/ok", headers, time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "1 line\n2 line\n" {
		t.Fatalf("Get = %q", got)
	}

	_, err = tr.Get(context.Background(), srv.URL+"/busy", nil, time.Second)
	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("Get error = %v, want *StatusError", err)
	}
	if status.Code != http.StatusServiceUnavailable || status.RetryAfter != "3" {
		t.Fatalf("StatusError = %+v", status)
	}

	if _, err := tr.Get(context.Background(), srv.URL+"/slow", nil, 20*time.Millisecond); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestHTTPTransportBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport()
	if err != nil {
		t.Fatalf("NewHTTPTransport: %v", err)
	}
	tr.maxBody = 16
	if _, err := tr.Get(context.Background(), srv.URL, nil, time.Second); err == nil {
		t.Fatalf("expected oversized body to fail")
	}
}
