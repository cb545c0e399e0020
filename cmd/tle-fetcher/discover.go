package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/signalsfoundry/tle-fetcher/core"
	"github.com/signalsfoundry/tle-fetcher/internal/catalogstore"
	"github.com/signalsfoundry/tle-fetcher/internal/discovery"
	"github.com/signalsfoundry/tle-fetcher/internal/source"
)

func (a *app) discover(ctx context.Context, args []string) int {
	var (
		common   commonFlags
		name     string
		since    string
		database string
		group    string
	)
	fs := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&name, "source", "celestrak", "catalog source: celestrak or ivan")
	fs.StringVar(&since, "since", "", "only store entries newer than this instant (RFC 3339 or YYYY-MM-DD); defaults to the stored cursor")
	fs.StringVar(&database, "database", "", "discovery database path (env TLE_FETCHER_CATALOG_DB)")
	fs.StringVar(&group, "group", "active", "CelesTrak group to list")
	if code, stop := a.parseFlags(fs, args); stop {
		return code
	}

	var opts discovery.RunOptions
	if since != "" {
		t, err := parseTime(since)
		if err != nil {
			a.errorf("--since: %v", err)
			return exitUsage
		}
		opts.Since = t
	}

	sess, err := a.setup(ctx, &common)
	if err != nil {
		a.errorf("%v", err)
		return exitUsage
	}
	defer sess.close()
	opts.Offline = sess.cfg.Offline
	if database == "" {
		database = sess.cfg.CatalogPath()
	}

	store, err := catalogstore.Open(ctx, database, sess.log)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}
	defer store.Close()

	pipeline, err := a.pipeline(sess, store, group)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}

	res, err := pipeline.Run(ctx, name, opts)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}

	run := res.Run
	cache := "no"
	if run.UsedCache {
		cache = "yes"
	}
	fmt.Fprintf(a.stdout, "Run %d source=%s new=%d cache=%s cursor=%s since=%s\n",
		run.ID, run.Source, run.NewEntries, cache, timeText(run.Cursor, "unknown"), timeText(res.EffectiveSince, "none"))
	for _, e := range res.Entries {
		fmt.Fprintf(a.stdout, "  %6s %-24s %s\n", e.NoradID, e.Name, e.Epoch.Format(time.RFC3339Nano))
	}
	if res.Rejected > 0 {
		a.warnf("%s: %d element sets failed validation", run.Source, res.Rejected)
	}
	return exitOK
}

// pipeline registers the catalog sources, each downloading through a
// source client that shares the per-identity source's headers and rate
// limit.
func (a *app) pipeline(sess *session, store *catalogstore.Store, group string) (*discovery.Pipeline, error) {
	validator, err := core.SelectValidator(sess.cfg.Validator)
	if err != nil {
		return nil, err
	}
	reg, err := sess.cfg.Registry()
	if err != nil {
		return nil, err
	}
	var transport source.Transport
	if !sess.cfg.Offline {
		if transport, err = a.httpTransport(); err != nil {
			return nil, err
		}
	}

	celestrak := discovery.NewCelesTrak()
	celestrak.Group = group
	celestrak.Validator = validator
	ivan := discovery.NewIvan()
	ivan.Validator = validator

	p := discovery.NewPipeline(store,
		discovery.WithPipelineObserver(sess.discovery),
		discovery.WithPipelineLogger(sess.log),
	)
	for _, src := range []discovery.CatalogSource{celestrak, ivan} {
		def, ok := reg.Lookup(src.Name())
		if !ok {
			def = source.Definition{Name: src.Name()}
		}
		var loader discovery.Loader
		if transport != nil {
			loader = source.NewClient(def, transport, sess.clientOptions()...)
		}
		p.Register(src, loader)
	}
	return p, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", "2006/01/02"}

// parseTime accepts RFC 3339 or a calendar date; values without a zone are
// UTC.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
}

func timeText(t time.Time, zero string) string {
	if t.IsZero() {
		return zero
	}
	return t.UTC().Format(time.RFC3339Nano)
}
