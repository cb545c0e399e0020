package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// DefaultMaxBody bounds response bodies; full catalog listings are a few
// megabytes.
const DefaultMaxBody int64 = 32 << 20

// Transport performs a single GET. Implementations return *StatusError for
// non-2xx responses and any other error for network failures.
type Transport interface {
	Get(ctx context.Context, url string, headers http.Header, timeout time.Duration) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, url string, headers http.Header, timeout time.Duration) ([]byte, error)

// Get implements Transport.
func (f TransportFunc) Get(ctx context.Context, url string, headers http.Header, timeout time.Duration) ([]byte, error) {
	return f(ctx, url, headers, timeout)
}

// HTTPTransport is the production Transport: a pooled client that
// negotiates HTTP/2 over TLS where the server supports it.
type HTTPTransport struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPTransport builds an HTTPTransport.
func NewHTTPTransport() (*HTTPTransport, error) {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return &HTTPTransport{client: &http.Client{Transport: t}, maxBody: DefaultMaxBody}, nil
}

// Get implements Transport. A positive timeout bounds the whole exchange,
// body included.
func (h *HTTPTransport) Get(ctx context.Context, url string, headers http.Header, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if headers != nil {
		req.Header = headers.Clone()
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > h.maxBody {
		return nil, fmt.Errorf("response exceeds %d bytes", h.maxBody)
	}
	return body, nil
}
