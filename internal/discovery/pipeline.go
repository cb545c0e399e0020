package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/internal/observability"
	"github.com/signalsfoundry/tle-fetcher/model"
	"github.com/signalsfoundry/tle-fetcher/timectrl"
)

// ErrUnknownSource is returned for source names that were never registered.
var ErrUnknownSource = errors.New("unknown catalog source")

// Store is the persistence the pipeline needs. *catalogstore.Store
// satisfies it.
type Store interface {
	LatestCursor(ctx context.Context, source string) (time.Time, bool, error)
	MaxEpoch(ctx context.Context, source string) (time.Time, bool, error)
	InsertBatch(ctx context.Context, entries []model.CatalogEntry, runID int64, seenAt time.Time) ([]model.CatalogEntry, error)
	RecordRunStart(ctx context.Context, run model.DiscoveryRun) (int64, error)
	RecordRunFinish(ctx context.Context, id int64, finishedAt, cursor time.Time, usedCache bool, newEntries int) error
	RecordRunError(ctx context.Context, id int64, finishedAt time.Time, msg string) error
	StorePayload(ctx context.Context, source string, since time.Time, payload []byte, fetchedAt time.Time) error
	LoadPayload(ctx context.Context, source string, since time.Time) ([]byte, bool, error)
}

// Loader downloads a listing. *source.Client satisfies it, bringing its
// rate limit and retry policy along.
type Loader interface {
	FetchURL(ctx context.Context, url string) (string, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string) (string, error)

func (f LoaderFunc) FetchURL(ctx context.Context, url string) (string, error) { return f(ctx, url) }

// Observer receives one observation per sealed run.
// *observability.DiscoveryCollector satisfies it.
type Observer interface {
	ObserveRun(source, outcome string, newEntries int, cursor time.Time, d time.Duration)
}

// RunOptions control one run.
type RunOptions struct {
	// Since overrides the stored cursor. Zero means "resume from cursor".
	Since time.Time
	// Offline replays the payload cached for the same source and since.
	Offline bool
}

// RunResult is a sealed run plus the rows it added.
type RunResult struct {
	Run            model.DiscoveryRun
	Entries        []model.CatalogEntry
	Rejected       int
	EffectiveSince time.Time
}

type registration struct {
	source CatalogSource
	loader Loader
}

// Pipeline runs discovery for registered sources, one source per call.
type Pipeline struct {
	store    Store
	sources  map[string]registration
	clock    timectrl.Clock
	observer Observer
	log      logging.Logger
	tracer   trace.Tracer
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineClock sets the clock for run timestamps.
func WithPipelineClock(c timectrl.Clock) PipelineOption {
	return func(p *Pipeline) { p.clock = c }
}

// WithPipelineObserver attaches run metrics.
func WithPipelineObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// WithPipelineLogger attaches a logger.
func WithPipelineLogger(l logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// NewPipeline builds a pipeline with no sources registered.
func NewPipeline(store Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:   store,
		sources: make(map[string]registration),
		clock:   timectrl.Real(),
		log:     logging.Noop(),
		tracer:  observability.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logging.Noop()
	}
	return p
}

// Register makes src available under src.Name(), downloading through
// loader. A later registration under the same name replaces the earlier.
func (p *Pipeline) Register(src CatalogSource, loader Loader) {
	p.sources[src.Name()] = registration{source: src, loader: loader}
}

// Sources returns the registered names, sorted.
func (p *Pipeline) Sources() []string {
	names := make([]string, 0, len(p.sources))
	for n := range p.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes one discovery run. Failures after the run row exists are
// recorded on the row and returned; the returned RunResult then carries
// the failed run.
func (p *Pipeline) Run(ctx context.Context, name string, opts RunOptions) (res RunResult, err error) {
	reg, ok := p.sources[name]
	if !ok {
		return RunResult{}, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}

	since := opts.Since
	if since.IsZero() {
		cursor, found, err := p.store.LatestCursor(ctx, name)
		if err != nil {
			return RunResult{}, fmt.Errorf("discovery %s: read cursor: %w", name, err)
		}
		if found {
			since = cursor
		}
	}
	if !since.IsZero() {
		since = since.UTC()
	}

	run := model.DiscoveryRun{
		RunUUID:   uuid.NewString(),
		Source:    name,
		StartedAt: p.clock.Now().UTC(),
		Since:     since,
		Offline:   opts.Offline,
	}
	log := p.log.With(
		logging.String("source", name),
		logging.String("run_uuid", run.RunUUID),
		logging.Bool("offline", opts.Offline),
	)
	ctx, span := p.tracer.Start(ctx, "discovery.Run", trace.WithAttributes(
		attribute.String("tle.source", name),
		attribute.String("tle.run_uuid", run.RunUUID),
		attribute.Bool("tle.offline", opts.Offline),
	))
	defer span.End()

	run.ID, err = p.store.RecordRunStart(ctx, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, fmt.Errorf("discovery %s: record start: %w", name, err)
	}
	span.SetAttributes(attribute.Int64("tle.run_id", run.ID))
	log.Info(ctx, "discovery run started", logging.Any("since", sinceText(since)))

	res, err = p.execute(ctx, reg, run)
	res.EffectiveSince = since
	elapsed := p.clock.Now().Sub(run.StartedAt)
	if err != nil {
		res.Run = run
		res.Run.FinishedAt = p.clock.Now().UTC()
		res.Run.Error = err.Error()
		if sealErr := p.store.RecordRunError(context.WithoutCancel(ctx), run.ID, res.Run.FinishedAt, err.Error()); sealErr != nil {
			log.Error(ctx, "failed to record run error", logging.Err(sealErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.observe(name, observability.OutcomeError, 0, time.Time{}, elapsed)
		log.Warn(ctx, "discovery run failed", logging.Err(err))
		return res, fmt.Errorf("discovery %s: %w", name, err)
	}

	span.SetAttributes(attribute.Int("tle.new_entries", res.Run.NewEntries))
	p.observe(name, observability.OutcomeSuccess, res.Run.NewEntries, res.Run.Cursor, elapsed)
	log.Info(ctx, "discovery run finished",
		logging.Int("new_entries", res.Run.NewEntries),
		logging.Int("rejected", res.Rejected),
		logging.Bool("used_cache", res.Run.UsedCache),
		logging.Any("cursor", sinceText(res.Run.Cursor)),
	)
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, reg registration, run model.DiscoveryRun) (RunResult, error) {
	name := run.Source
	var (
		payload   string
		usedCache bool
	)
	if run.Offline {
		raw, found, err := p.store.LoadPayload(ctx, name, run.Since)
		if err != nil {
			return RunResult{}, fmt.Errorf("load cached payload: %w", err)
		}
		if !found {
			return RunResult{}, fmt.Errorf("no cached response for since=%s: %w", sinceText(run.Since), model.ErrOfflineUnavailable)
		}
		payload, usedCache = string(raw), true
	} else {
		if reg.loader == nil {
			return RunResult{}, errors.New("no loader configured")
		}
		var err error
		payload, err = reg.loader.FetchURL(ctx, reg.source.URL(run.Since))
		if err != nil {
			return RunResult{}, err
		}
	}

	batch := reg.source.Parse(payload)

	if !usedCache {
		if err := p.store.StorePayload(ctx, name, run.Since, []byte(payload), p.clock.Now()); err != nil {
			return RunResult{}, fmt.Errorf("cache payload: %w", err)
		}
	}

	candidates := batch.Entries
	if !run.Since.IsZero() {
		candidates = candidates[:0:0]
		for _, e := range batch.Entries {
			if e.Epoch.After(run.Since) {
				candidates = append(candidates, e)
			}
		}
	}

	inserted, err := p.store.InsertBatch(ctx, candidates, run.ID, p.clock.Now())
	if err != nil {
		return RunResult{}, fmt.Errorf("store entries: %w", err)
	}
	cursor, _, err := p.store.MaxEpoch(ctx, name)
	if err != nil {
		return RunResult{}, fmt.Errorf("recompute cursor: %w", err)
	}

	run.FinishedAt = p.clock.Now().UTC()
	run.Cursor = cursor
	run.UsedCache = usedCache
	run.NewEntries = len(inserted)
	if err := p.store.RecordRunFinish(ctx, run.ID, run.FinishedAt, cursor, usedCache, run.NewEntries); err != nil {
		return RunResult{}, fmt.Errorf("seal run: %w", err)
	}
	return RunResult{Run: run, Entries: inserted, Rejected: batch.Rejected}, nil
}

func (p *Pipeline) observe(source, outcome string, newEntries int, cursor time.Time, d time.Duration) {
	if p.observer != nil {
		p.observer.ObserveRun(source, outcome, newEntries, cursor, d)
	}
}

func sinceText(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
