// Package stats is the aggregation collaborator behind the analyze stage. It
// reads listing and join state but performs no reconciliation logic; the
// descriptive statistics themselves live in downstream tooling.
package stats

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dutchgtr/bricktrack/internal/store"
)

// Summary holds dataset-level counts captured by an analyze run.
type Summary struct {
	Dataset     string `json:"dataset"`
	Listings    int    `json:"listings"`
	ActiveJoins int    `json:"active_joins"`
}

type Summarizer struct {
	store store.Store
}

func NewSummarizer(st store.Store) *Summarizer {
	return &Summarizer{store: st}
}

func (s *Summarizer) Summarize(ctx context.Context, dataset string) (Summary, error) {
	listings, err := s.store.CountListings(ctx, dataset)
	if err != nil {
		return Summary{}, eris.Wrapf(err, "stats: count listings for %s", dataset)
	}
	joins, err := s.store.CountActiveJoins(ctx, dataset)
	if err != nil {
		return Summary{}, eris.Wrapf(err, "stats: count active joins for %s", dataset)
	}
	return Summary{Dataset: dataset, Listings: listings, ActiveJoins: joins}, nil
}
