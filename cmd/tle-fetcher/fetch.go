package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/signalsfoundry/tle-fetcher/internal/acquire"
	"github.com/signalsfoundry/tle-fetcher/internal/config"
)

func (a *app) fetch(ctx context.Context, args []string) int {
	var (
		common   commonFlags
		ids      []string
		all      bool
		idsFile  string
		cacheTTL string
		verify   string
		quiet    bool
		parallel int
	)
	fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	common.register(fs)
	fs.StringArrayVar(&ids, "ids", nil, "NORAD ids, comma or space separated (repeatable)")
	fs.BoolVar(&all, "all", false, "also fetch every id listed in --ids-file")
	fs.StringVar(&idsFile, "ids-file", "ids.txt", "file of ids, whitespace separated, # starts a comment")
	fs.StringVar(&cacheTTL, "cache-ttl", "", "maximum age of a trusted record: seconds or Go duration (env TLE_FETCHER_CACHE_TTL)")
	fs.StringVar(&verify, "verify", "", "share of fresh hits re-checked against the first source: 0-1 or 0-100 (env TLE_FETCHER_VERIFY)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "suppress warnings")
	fs.IntVar(&parallel, "parallel", 1, "number of ids resolved concurrently")
	if code, stop := a.parseFlags(fs, args); stop {
		return code
	}

	var wanted []string
	if all {
		fromFile, err := loadIDs(idsFile)
		if err != nil {
			a.errorf("%v", err)
			return exitUsage
		}
		wanted = append(wanted, fromFile...)
	}
	wanted = append(wanted, splitIDs(append(ids, fs.Args()...))...)
	wanted = dedupe(wanted)
	if len(wanted) == 0 {
		fmt.Fprintln(a.stderr, "no NORAD ids supplied; use --ids or --all")
		return exitUsage
	}

	sess, err := a.setup(ctx, &common)
	if err != nil {
		a.errorf("%v", err)
		return exitUsage
	}
	defer sess.close()

	opts := acquire.Options{
		CacheTTL:          sess.cfg.CacheTTL,
		VerifyProbability: sess.cfg.Verify,
		Offline:           sess.cfg.Offline,
	}
	if cacheTTL != "" {
		if opts.CacheTTL, err = config.ParseTTL(cacheTTL); err != nil {
			a.errorf("--cache-ttl: %v", err)
			return exitUsage
		}
	}
	if verify != "" {
		if opts.VerifyProbability, err = config.ParseVerify(verify); err != nil {
			a.errorf("--verify: %v", err)
			return exitUsage
		}
	}

	svc, err := a.acquirer(ctx, sess)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}

	code := exitOK
	for _, out := range svc.FetchMany(ctx, wanted, opts, parallel) {
		if out.Err != nil {
			a.errorf("%s: %v", out.NoradID, out.Err)
			code = exitFailure
			continue
		}
		if !quiet {
			for _, w := range out.Result.Warnings {
				a.warnf("%s: %s", out.NoradID, w)
			}
			if out.Result.Stale {
				a.warnf("%s: result is older than TTL", out.NoradID)
			}
		}
		fmt.Fprint(a.stdout, out.Result.Record.AsText(true))
	}
	return code
}

// loadIDs reads whitespace separated ids; "#" starts a comment.
func loadIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ids file: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		ids = append(ids, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ids file: %w", err)
	}
	return ids, nil
}

func splitIDs(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})...)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
