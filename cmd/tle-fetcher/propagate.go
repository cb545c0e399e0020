package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/signalsfoundry/tle-fetcher/core"
	"github.com/signalsfoundry/tle-fetcher/internal/acquire"
	"github.com/signalsfoundry/tle-fetcher/tle"
)

func (a *app) propagate(ctx context.Context, args []string) int {
	var (
		common  commonFlags
		id      string
		tleFile string
		start   string
		end     string
		step    string
		format  string
	)
	fs := pflag.NewFlagSet("propagate", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVar(&id, "id", "", "NORAD id to propagate")
	fs.StringVar(&tleFile, "tle-file", "", "read the element set from this file instead of resolving --id")
	fs.StringVar(&start, "start", "", "first sample time, RFC 3339 (default now)")
	fs.StringVar(&end, "end", "", "last sample time, RFC 3339 (default start + 90m)")
	fs.StringVar(&step, "step", "PT10M", "sample interval: Go duration, seconds or ISO 8601 PT form")
	fs.StringVar(&format, "format", "json", "output format: json or csv")
	if code, stop := a.parseFlags(fs, args); stop {
		return code
	}
	if id == "" && tleFile == "" {
		fmt.Fprintln(a.stderr, "propagate needs --id or --tle-file")
		return exitUsage
	}
	if format != "json" && format != "csv" {
		a.errorf("--format: unknown format %q", format)
		return exitUsage
	}

	interval, err := parseStep(step)
	if err != nil {
		a.errorf("--step: %v", err)
		return exitUsage
	}
	from := time.Now().UTC().Truncate(time.Second)
	if start != "" {
		if from, err = parseTime(start); err != nil {
			a.errorf("--start: %v", err)
			return exitUsage
		}
	}
	to := from.Add(90 * time.Minute)
	if end != "" {
		if to, err = parseTime(end); err != nil {
			a.errorf("--end: %v", err)
			return exitUsage
		}
	}

	sess, err := a.setup(ctx, &common)
	if err != nil {
		a.errorf("%v", err)
		return exitUsage
	}
	defer sess.close()

	rec, err := a.loadRecord(ctx, sess, id, tleFile)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}
	prop, err := core.NewPropagator(rec)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}
	samples, err := prop.Range(from, to, interval)
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}

	if format == "csv" {
		err = writeSamplesCSV(a.stdout, rec.NoradID, samples)
	} else {
		err = writeSamplesJSON(a.stdout, rec, samples)
	}
	if err != nil {
		a.errorf("%v", err)
		return exitFailure
	}
	return exitOK
}

func (a *app) loadRecord(ctx context.Context, sess *session, id, tleFile string) (tle.Record, error) {
	if tleFile != "" {
		data, err := os.ReadFile(tleFile)
		if err != nil {
			return tle.Record{}, err
		}
		return tle.Parse(string(data), id, "file:"+tleFile)
	}
	svc, err := a.acquirer(ctx, sess)
	if err != nil {
		return tle.Record{}, err
	}
	res, err := svc.FetchOne(ctx, id, acquire.Options{
		CacheTTL:          sess.cfg.CacheTTL,
		VerifyProbability: sess.cfg.Verify,
		Offline:           sess.cfg.Offline,
	})
	if err != nil {
		return tle.Record{}, err
	}
	for _, w := range res.Warnings {
		a.warnf("%s: %s", id, w)
	}
	return res.Record, nil
}

// parseStep accepts a Go duration ("10m"), bare seconds ("600") or the
// ISO 8601 time form ("PT10M", "PT1H30M").
func parseStep(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	v := strings.ToLower(raw)
	v = strings.TrimPrefix(v, "pt")
	var d time.Duration
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = time.ParseDuration(v); err != nil {
		return 0, fmt.Errorf("invalid step %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("step %q must be positive", raw)
	}
	return d, nil
}

type propagation struct {
	NoradID string        `json:"norad_id"`
	Name    string        `json:"name,omitempty"`
	Source  string        `json:"source"`
	Epoch   time.Time     `json:"epoch"`
	Frame   string        `json:"frame"`
	Samples []core.Sample `json:"samples"`
}

func writeSamplesJSON(w io.Writer, rec tle.Record, samples []core.Sample) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(propagation{
		NoradID: rec.NoradID,
		Name:    rec.Name,
		Source:  rec.Source,
		Epoch:   rec.Epoch,
		Frame:   "TEME",
		Samples: samples,
	})
}

func writeSamplesCSV(w io.Writer, id string, samples []core.Sample) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"norad_id", "time", "x_km", "y_km", "z_km", "vx_km_s", "vy_km_s", "vz_km_s", "lat_deg", "lon_deg", "alt_km"})
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	for _, s := range samples {
		_ = cw.Write([]string{
			id, s.Time.UTC().Format(time.RFC3339Nano),
			f(s.PositionKm.X), f(s.PositionKm.Y), f(s.PositionKm.Z),
			f(s.VelocityKmS.X), f(s.VelocityKmS.Y), f(s.VelocityKmS.Z),
			f(s.LatitudeDeg), f(s.LongitudeDeg), f(s.AltitudeKm),
		})
	}
	cw.Flush()
	return cw.Error()
}
