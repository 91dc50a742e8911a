package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// Match is the validation outcome for one candidate. A nil Entry means the
// candidate did not resolve to any catalog entry, which is a normal result.
type Match struct {
	Candidate string
	Entry     *model.CatalogEntry
}

// Validated reports whether the candidate resolved to a catalog entry.
func (m Match) Validated() bool {
	return m.Entry != nil
}

// Validator resolves identifier candidates against the catalog. Lookups run
// in fixed-size batches, exact match first, then prefix match on
// "candidate-*". Prefix ties resolve to the lexicographically smallest
// identifier.
type Validator struct {
	store     store.Store
	batchSize int
	logger    *zap.Logger
}

const defaultValidationBatchSize = 50

func NewValidator(st store.Store, batchSize int) *Validator {
	if batchSize <= 0 {
		batchSize = defaultValidationBatchSize
	}
	return &Validator{
		store:     st,
		batchSize: batchSize,
		logger:    zap.L().With(zap.String("component", "set-validator")),
	}
}

// Validate resolves each candidate in input order. A lookup failure on one
// candidate leaves it unresolved and does not abort the rest.
func (v *Validator) Validate(ctx context.Context, candidates []string) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for start := 0; start < len(candidates); start += v.batchSize {
		end := start + v.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		for _, candidate := range candidates[start:end] {
			entry, err := v.resolve(ctx, candidate)
			if err != nil {
				v.logger.Warn("candidate lookup failed",
					zap.String("candidate", candidate),
					zap.Error(err))
				matches = append(matches, Match{Candidate: candidate})
				continue
			}
			matches = append(matches, Match{Candidate: candidate, Entry: entry})
		}
	}
	return matches, nil
}

func (v *Validator) resolve(ctx context.Context, candidate string) (*model.CatalogEntry, error) {
	entry, err := v.store.FindCatalogEntryBySetNumber(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}
	return v.store.FindCatalogEntryByPrefix(ctx, candidate)
}
