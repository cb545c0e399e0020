// Package source talks to remote element-set feeds. A Client wraps one
// endpoint with its headers, rate-limit floor, retries and payload decoding;
// the network itself sits behind the Transport seam.
package source

import (
	"context"
	"encoding/base64"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/timectrl"
)

// Retry defaults: attempt n (from 0) waits Backoff*2^n plus up to Jitter.
const (
	DefaultRetries = 3
	DefaultBackoff = 800 * time.Millisecond
	DefaultJitter  = 125 * time.Millisecond

	// MaxRetryAfter caps how long a server's Retry-After may hold a client.
	MaxRetryAfter = 2 * time.Minute
)

// Observer receives per-request metrics. *observability.FetchCollector
// satisfies it.
type Observer interface {
	ObserveRequest(source, outcome string, d time.Duration)
	ObserveRetry(source string)
}

// Client fetches payloads from one source. The rate-limit floor applies to
// every HTTP attempt, retries included, and is safe under concurrent use.
type Client struct {
	def       Definition
	transport Transport
	clock     timectrl.Clock
	limiter   *rate.Limiter

	mu        sync.Mutex
	holdUntil time.Time

	timeout   time.Duration
	retries   int
	backoff   time.Duration
	jitter    time.Duration
	rand      func() float64
	userAgent string

	observer Observer
	log      logging.Logger
	tracer   trace.Tracer
}

// Option customises a Client.
type Option func(*Client)

// WithClock sets the clock used for rate limiting and request timing.
func WithClock(c timectrl.Clock) Option { return func(cl *Client) { cl.clock = c } }

// WithRetries sets how many times a failed request is repeated.
func WithRetries(n int) Option { return func(cl *Client) { cl.retries = n } }

// WithBackoff sets the base retry delay and the maximum random jitter.
func WithBackoff(base, jitter time.Duration) Option {
	return func(cl *Client) { cl.backoff, cl.jitter = base, jitter }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(cl *Client) { cl.timeout = d } }

// WithRand sets the jitter source; it must return values in [0, 1).
func WithRand(f func() float64) Option { return func(cl *Client) { cl.rand = f } }

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option { return func(cl *Client) { cl.userAgent = ua } }

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option { return func(cl *Client) { cl.observer = o } }

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option { return func(cl *Client) { cl.log = l } }

// NewClient builds a client for def.
func NewClient(def Definition, transport Transport, opts ...Option) *Client {
	c := &Client{
		def:       def,
		transport: transport,
		clock:     timectrl.Real(),
		timeout:   DefaultTimeout,
		retries:   DefaultRetries,
		backoff:   DefaultBackoff,
		jitter:    DefaultJitter,
		rand:      rand.Float64,
		userAgent: DefaultUserAgent,
		log:       logging.Noop(),
		tracer:    otel.Tracer("github.com/signalsfoundry/tle-fetcher/internal/source"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if def.Timeout > 0 {
		c.timeout = def.Timeout
	}
	if c.log == nil {
		c.log = logging.Noop()
	}
	limit := rate.Inf
	if def.RateLimit > 0 {
		limit = rate.Every(def.RateLimit)
	}
	c.limiter = rate.NewLimiter(limit, 1)
	c.log = c.log.With(logging.String("source", def.Name))
	return c
}

// Name returns the source name.
func (c *Client) Name() string { return c.def.Name }

// Attribution returns the credited data provider.
func (c *Client) Attribution() string {
	if c.def.Attribution != "" {
		return c.def.Attribution
	}
	return c.def.Name
}

// Definition returns the endpoint definition.
func (c *Client) Definition() Definition { return c.def }

// Fetch retrieves the payload for one identity as text, decoded according
// to the source's format.
func (c *Client) Fetch(ctx context.Context, id string) (string, error) {
	if err := c.def.missingCredentials(); err != nil {
		return "", &Error{Source: c.def.Name, Err: err}
	}
	ctx, span := c.tracer.Start(ctx, "source.Fetch", trace.WithAttributes(
		attribute.String("tle.source", c.def.Name),
		attribute.String("tle.norad_id", id),
	))
	defer span.End()

	body, err := c.get(ctx, c.def.BuildURL(id))
	if err == nil {
		var text string
		text, err = decode(c.def.Format, body)
		if err == nil {
			return text, nil
		}
		err = &Error{Source: c.def.Name, Err: err}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

// FetchURL retrieves an arbitrary URL with this client's headers, rate
// limit and retry policy, returning the body as text.
func (c *Client) FetchURL(ctx context.Context, url string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "source.FetchURL", trace.WithAttributes(
		attribute.String("tle.source", c.def.Name),
	))
	defer span.End()

	body, err := c.get(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return toText(body), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	headers := c.headers()
	start := c.clock.Now()

	op := func() ([]byte, error) {
		if err := c.wait(ctx); err != nil {
			return nil, backoff.Permanent(&Error{Source: c.def.Name, Err: err})
		}
		body, err := c.transport.Get(ctx, url, headers, c.timeout)
		if err == nil {
			return body, nil
		}
		serr := &Error{Source: c.def.Name, Err: err}
		var status *StatusError
		if errors.As(err, &status) {
			serr.Status = status.Code
			c.honourRetryAfter(status)
		}
		if !serr.Retryable() {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&jitteredBackOff{base: c.backoff, jitter: c.jitter, rand: c.rand}),
		backoff.WithMaxTries(uint(c.retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if c.observer != nil {
				c.observer.ObserveRetry(c.def.Name)
			}
			c.logger(ctx).Debug(ctx, "source request failed; retrying",
				logging.Err(err), logging.Duration("backoff", next))
		}),
	)

	outcome := "success"
	if err != nil {
		outcome = "error"
		var serr *Error
		if !errors.As(err, &serr) {
			err = &Error{Source: c.def.Name, Err: err}
		}
	}
	if c.observer != nil {
		c.observer.ObserveRequest(c.def.Name, outcome, c.clock.Now().Sub(start))
	}
	return body, err
}

// honourRetryAfter holds further requests until the instant a 429 or 503
// response asked for.
func (c *Client) honourRetryAfter(status *StatusError) {
	if status.Code != http.StatusTooManyRequests && status.Code != http.StatusServiceUnavailable {
		return
	}
	now := c.clock.Now()
	d, ok := status.Delay(now)
	if !ok || d <= 0 {
		return
	}
	d = min(d, MaxRetryAfter)
	c.mu.Lock()
	if until := now.Add(d); until.After(c.holdUntil) {
		c.holdUntil = until
	}
	c.mu.Unlock()
}

// wait blocks until any Retry-After hold has passed and the limiter admits
// one request.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	until := c.holdUntil
	c.mu.Unlock()
	if d := until.Sub(c.clock.Now()); d > 0 {
		c.logger(ctx).Debug(ctx, "honouring Retry-After", logging.Duration("delay", d))
		select {
		case <-c.clock.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	now := c.clock.Now()
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("rate limiter rejected request")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	select {
	case <-c.clock.After(delay):
		return nil
	case <-ctx.Done():
		r.CancelAt(c.clock.Now())
		return ctx.Err()
	}
}

// logger prefers the caller's request logger so retries carry its
// request_id and norad_id.
func (c *Client) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l.With(logging.String("source", c.def.Name))
	}
	return c.log
}

func (c *Client) headers() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", c.userAgent)
	h.Set(AttributionHeader, c.Attribution())
	for k, v := range c.def.Headers {
		h.Set(k, v)
	}
	if c.def.Auth == "basic" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.def.Username + ":" + c.def.Password))
		h.Set("Authorization", "Basic "+cred)
	}
	return h
}

type jitteredBackOff struct {
	base    time.Duration
	jitter  time.Duration
	rand    func() float64
	attempt int
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	d := b.base << b.attempt
	b.attempt++
	if b.jitter > 0 && b.rand != nil {
		d += time.Duration(b.rand() * float64(b.jitter))
	}
	return d
}

func (b *jitteredBackOff) Reset() { b.attempt = 0 }
