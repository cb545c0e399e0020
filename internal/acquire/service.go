// Package acquire resolves one NORAD id to a validated element set by
// consulting, in order, the in-memory cache, the durable repository and the
// configured network sources.
package acquire

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/tle-fetcher/cache"
	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/internal/observability"
	"github.com/signalsfoundry/tle-fetcher/model"
	"github.com/signalsfoundry/tle-fetcher/timectrl"
	"github.com/signalsfoundry/tle-fetcher/tle"
)

// Tier names the layer that answered a request.
const (
	TierCache      = "cache"
	TierRepository = "repository"
	TierNetwork    = "network"
	TierOffline    = "offline"
)

// Warning texts attached to results.
const (
	WarnOfflineStale   = "operating offline with stale record"
	WarnReplacedStale  = "replaced stale record with fresh network result"
	warnVerifyReplaced = "%s entry replaced after verification"
)

// Fetcher is one network source. *source.Client satisfies it.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, id string) (string, error)
}

// Repository is the durable tier consulted after the cache.
type Repository interface {
	Get(ctx context.Context, id string) (model.CacheEntry, bool, error)
	Save(ctx context.Context, entry model.CacheEntry) error
}

// Observer receives one observation per FetchOne call.
// *observability.FetchCollector satisfies it.
type Observer interface {
	ObserveFetch(tier, outcome string)
}

// Options control a single lookup.
type Options struct {
	// CacheTTL is the maximum age of a trusted entry. model.NoTTL trusts
	// entries of any age.
	CacheTTL time.Duration
	// VerifyProbability is the chance that a fresh hit is cross-checked
	// against the first source. See NormalizeVerifyProbability.
	VerifyProbability float64
	// Offline forbids network access.
	Offline bool
}

// Result is the outcome of a successful lookup.
type Result struct {
	Record    tle.Record
	Source    string
	FetchedAt time.Time
	Tier      string
	Stale     bool
	Verified  bool
	Warnings  []string
}

// Service is safe for concurrent use when its collaborators are.
type Service struct {
	cache     *cache.Cache
	repo      Repository
	fetchers  []Fetcher
	validator tle.Validator
	clock     timectrl.Clock
	rand      func() float64
	observer  Observer
	log       logging.Logger
	tracer    trace.Tracer
}

// Option customises a Service.
type Option func(*Service)

// WithRepository attaches the durable tier.
func WithRepository(r Repository) Option { return func(s *Service) { s.repo = r } }

// WithValidator replaces tle.Pure.
func WithValidator(v tle.Validator) Option { return func(s *Service) { s.validator = v } }

// WithClock sets the clock used for fetched_at stamps.
func WithClock(c timectrl.Clock) Option { return func(s *Service) { s.clock = c } }

// WithRand sets the source deciding verification; it must return values
// in [0, 1).
func WithRand(f func() float64) Option { return func(s *Service) { s.rand = f } }

// WithObserver attaches metrics.
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = l } }

// NewService builds an orchestrator over c and the fetchers, tried in the
// given order.
func NewService(c *cache.Cache, fetchers []Fetcher, opts ...Option) *Service {
	s := &Service{
		cache:     c,
		fetchers:  fetchers,
		validator: tle.Pure{},
		clock:     timectrl.Real(),
		rand:      rand.Float64,
		log:       logging.Noop(),
		tracer:    observability.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	return s
}

// NormalizeVerifyProbability maps a fraction or a percentage onto [0, 1].
// Values above 1 are read as percentages.
func NormalizeVerifyProbability(p float64) float64 {
	if p > 1 {
		p /= 100
	}
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// FetchOne resolves id. Surrounding whitespace is ignored.
func (s *Service) FetchOne(ctx context.Context, id string, opts Options) (res Result, err error) {
	id = strings.TrimSpace(id)
	ctx, log := logging.WithRequestLogger(ctx, s.log)
	log = log.With(logging.String("norad_id", id))
	ctx = logging.ContextWithLogger(ctx, log)
	ctx, span := s.tracer.Start(ctx, "acquire.FetchOne", trace.WithAttributes(
		attribute.String("tle.norad_id", id),
		attribute.Bool("tle.offline", opts.Offline),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("tle.tier", res.Tier),
				attribute.String("tle.source", res.Source),
				attribute.Bool("tle.stale", res.Stale),
			)
		}
		span.End()
	}()

	ttl := opts.CacheTTL
	now := s.clock.Now()

	var staleCandidates []model.CacheEntry

	if cached, ok := s.cache.Get(id, model.NoTTL, true); ok {
		if !cached.IsStale(ttl, now) {
			res = s.maybeVerify(ctx, log, id, cached, TierCache, opts)
			s.observe(res.Tier, observability.OutcomeSuccess)
			return res, nil
		}
		staleCandidates = append(staleCandidates, cached)
	}

	if s.repo != nil {
		stored, found, rerr := s.repo.Get(ctx, id)
		switch {
		case rerr != nil:
			log.Warn(ctx, "repository lookup failed", logging.Err(rerr))
		case found && !stored.IsStale(ttl, now):
			s.cache.Set(stored)
			res = s.maybeVerify(ctx, log, id, stored, TierRepository, opts)
			s.observe(res.Tier, observability.OutcomeSuccess)
			return res, nil
		case found:
			staleCandidates = append(staleCandidates, stored)
		}
	}

	freshestStale, haveStale := freshest(staleCandidates)

	if opts.Offline {
		if !haveStale {
			s.observe(TierOffline, observability.OutcomeError)
			return Result{}, fmt.Errorf("%s: %w", id, model.ErrOfflineUnavailable)
		}
		log.Warn(ctx, WarnOfflineStale, logging.Duration("age", freshestStale.Age(now)))
		s.observe(TierOffline, observability.OutcomeStale)
		res = fromEntry(freshestStale, TierOffline)
		res.Stale = true
		res.Warnings = []string{WarnOfflineStale}
		return res, nil
	}

	entry, err := s.fromNetwork(ctx, log, id)
	if err != nil {
		s.observe(TierNetwork, observability.OutcomeError)
		return Result{}, err
	}
	s.observe(TierNetwork, observability.OutcomeSuccess)
	res = fromEntry(entry, TierNetwork)
	if haveStale {
		res.Warnings = append(res.Warnings, WarnReplacedStale)
	}
	return res, nil
}

// fromNetwork tries each source in order and stores the first valid record
// in both tiers.
func (s *Service) fromNetwork(ctx context.Context, log logging.Logger, id string) (model.CacheEntry, error) {
	failed := &AllSourcesFailedError{NoradID: id}
	for _, f := range s.fetchers {
		rec, err := s.fetchFrom(ctx, f, id)
		if err != nil {
			log.Info(ctx, "source failed", logging.String("source", f.Name()), logging.Err(err))
			failed.Failures = append(failed.Failures, SourceFailure{Source: f.Name(), Message: err.Error()})
			continue
		}
		entry := model.CacheEntry{Record: rec, FetchedAt: s.clock.Now(), Source: f.Name()}
		s.store(ctx, log, entry)
		log.Debug(ctx, "fetched from network", logging.String("source", f.Name()))
		return entry, nil
	}
	return model.CacheEntry{}, failed
}

func (s *Service) fetchFrom(ctx context.Context, f Fetcher, id string) (tle.Record, error) {
	text, err := f.Fetch(ctx, id)
	if err != nil {
		return tle.Record{}, err
	}
	return s.validator.Validate(text, id, f.Name())
}

// maybeVerify returns entry as a result, cross-checking it against the
// first source with probability opts.VerifyProbability. Verification
// failures leave the cached answer in place.
func (s *Service) maybeVerify(ctx context.Context, log logging.Logger, id string, entry model.CacheEntry, tier string, opts Options) Result {
	res := fromEntry(entry, tier)
	p := NormalizeVerifyProbability(opts.VerifyProbability)
	if opts.Offline || p <= 0 || len(s.fetchers) == 0 || s.rand() >= p {
		return res
	}

	f := s.fetchers[0]
	rec, err := s.fetchFrom(ctx, f, id)
	if err != nil {
		log.Debug(ctx, "verification skipped", logging.String("source", f.Name()), logging.Err(err))
		return res
	}

	now := s.clock.Now()
	if rec.SameLines(entry.Record) {
		entry.FetchedAt = now
		s.store(ctx, log, entry)
		res = fromEntry(entry, tier)
		res.Verified = true
		return res
	}

	replaced := model.CacheEntry{Record: rec, FetchedAt: now, Source: f.Name()}
	s.store(ctx, log, replaced)
	warning := fmt.Sprintf(warnVerifyReplaced, tier)
	log.Warn(ctx, warning, logging.String("source", f.Name()))
	res = fromEntry(replaced, tier)
	res.Verified = true
	res.Warnings = []string{warning}
	return res
}

// store writes entry to both tiers. Repository failures are logged; the
// in-memory copy still serves later lookups.
func (s *Service) store(ctx context.Context, log logging.Logger, entry model.CacheEntry) {
	s.cache.Set(entry)
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, entry); err != nil {
		log.Warn(ctx, "repository save failed", logging.Err(err))
	}
}

func (s *Service) observe(tier, outcome string) {
	if s.observer != nil {
		s.observer.ObserveFetch(tier, outcome)
	}
}

func fromEntry(e model.CacheEntry, tier string) Result {
	return Result{
		Record:    e.Record,
		Source:    e.Source,
		FetchedAt: e.FetchedAt,
		Tier:      tier,
	}
}

func freshest(entries []model.CacheEntry) (model.CacheEntry, bool) {
	var (
		best  model.CacheEntry
		found bool
	)
	for _, e := range entries {
		if !found || e.FetchedAt.After(best.FetchedAt) {
			best, found = e, true
		}
	}
	return best, found
}
