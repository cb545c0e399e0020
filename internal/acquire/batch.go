package acquire

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is one identity's result within a batch.
type Outcome struct {
	NoradID string
	Result  Result
	Err     error
}

// FetchMany runs FetchOne for every id with at most parallel lookups in
// flight. Outcomes are returned in input order; a failed id never stops the
// others.
func (s *Service) FetchMany(ctx context.Context, ids []string, opts Options, parallel int) []Outcome {
	if parallel < 1 {
		parallel = 1
	}
	out := make([]Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.FetchOne(ctx, id, opts)
			out[i] = Outcome{NoradID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
