// Package report summarises the element sets held in a file repository.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/signalsfoundry/tle-fetcher/internal/repository"
)

// Entry describes one stored file. Error is set instead of the record
// fields when the file could not be read or validated.
type Entry struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Epoch     *time.Time `json:"epoch,omitempty"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	Source    string     `json:"source,omitempty"`
	Path      string     `json:"path"`
	Error     string     `json:"error,omitempty"`
}

// Summary is the JSON document produced by the report command.
type Summary struct {
	Generated   time.Time  `json:"generated"`
	Count       int        `json:"count"`
	IDs         []string   `json:"ids"`
	Sources     []string   `json:"sources"`
	Entries     []Entry    `json:"entries"`
	LatestEpoch *time.Time `json:"latest_epoch"`
}

// Generate reads every entry of repo. Unreadable entries are reported, not
// returned as errors.
func Generate(ctx context.Context, repo *repository.File, now time.Time) (Summary, error) {
	ids, err := repo.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("report: %w", err)
	}

	s := Summary{
		Generated: now.UTC(),
		IDs:       []string{},
		Sources:   []string{},
		Entries:   make([]Entry, 0, len(ids)),
	}
	sources := map[string]struct{}{}
	for _, id := range ids {
		e := Entry{ID: id, Path: repo.Path(id)}
		stored, found, err := repo.Get(ctx, id)
		switch {
		case err != nil:
			e.Error = err.Error()
		case !found:
			e.Error = "entry disappeared while reading"
		default:
			epoch, fetched := stored.Record.Epoch, stored.FetchedAt
			e.ID = stored.Record.NoradID
			e.Name = stored.Record.Name
			e.Epoch = &epoch
			e.FetchedAt = &fetched
			e.Source = stored.Source
			sources[e.Source] = struct{}{}
			if s.LatestEpoch == nil || epoch.After(*s.LatestEpoch) {
				s.LatestEpoch = &epoch
			}
		}
		s.Entries = append(s.Entries, e)
		s.IDs = append(s.IDs, e.ID)
	}
	for src := range sources {
		s.Sources = append(s.Sources, src)
	}
	sort.Strings(s.IDs)
	sort.Strings(s.Sources)
	s.Count = len(s.Entries)
	return s, nil
}

// Write encodes s as indented JSON.
func Write(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
