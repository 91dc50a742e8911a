package reconcile

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// Progress receives per-listing progress during a batch run. Record is
// throttled by the implementation, Force always writes.
type Progress interface {
	Record(ctx context.Context, message string, delta model.JobStats) error
	Force(ctx context.Context, message string, delta model.JobStats) error
}

// ListingResult is the outcome of reconciling one listing, correlating every
// extracted candidate to its validation outcome.
type ListingResult struct {
	ListingID    string   `json:"listing_id"`
	Candidates   []string `json:"candidates"`
	Validated    []Match  `json:"-"`
	NotValidated []string `json:"not_validated"`
	JoinsCreated int      `json:"joins_created"`
	JoinsUpdated int      `json:"joins_updated"`
}

// ListingError records one isolated per-listing failure inside a batch.
type ListingError struct {
	ListingID string `json:"listing_id"`
	Error     string `json:"error"`
}

// BatchResult aggregates a sequential batch run.
type BatchResult struct {
	Processed    int            `json:"processed"`
	Failed       int            `json:"failed"`
	Extracted    int            `json:"extracted"`
	Validated    int            `json:"validated"`
	JoinsCreated int            `json:"joins_created"`
	JoinsUpdated int            `json:"joins_updated"`
	Errors       []ListingError `json:"errors,omitempty"`
}

// Orchestrator runs extraction, validation and join maintenance per listing.
type Orchestrator struct {
	store     store.Store
	validator *Validator
	joiner    *Joiner
	version   string
	policy    CleanupPolicy
	logger    *zap.Logger
}

func NewOrchestrator(st store.Store, validator *Validator, joiner *Joiner, version string, policy CleanupPolicy) *Orchestrator {
	return &Orchestrator{
		store:     st,
		validator: validator,
		joiner:    joiner,
		version:   version,
		policy:    policy,
		logger:    zap.L().With(zap.String("component", "reconcile")),
	}
}

// ReconcileListing reconciles one listing. Extraction input is strictly the
// sanitised text fields. The listing is marked reconciled even when zero
// candidates are found: nothing-to-match is a terminal outcome, not a retry
// condition.
func (o *Orchestrator) ReconcileListing(ctx context.Context, listingID string) (*ListingResult, error) {
	listing, err := o.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: load listing %s", listingID)
	}

	text := listing.SanitisedTitle
	if listing.SanitisedDescription != "" {
		text += "\n" + listing.SanitisedDescription
	}

	candidates, err := ExtractIdentifiers(text, o.version)
	if err != nil {
		return nil, err
	}

	attrs := ExtractAttributes(text)
	if attrs.PieceCount > 0 || attrs.MinifigCount > 0 || attrs.Condition != ConditionUnknown {
		if err := o.store.UpdateListingAttributes(ctx, listingID, attrs.PieceCount, attrs.PieceCountEstimated, attrs.MinifigCount, attrs.Condition); err != nil {
			return nil, eris.Wrapf(err, "reconcile: update attributes for listing %s", listingID)
		}
	}

	if err := o.store.MarkListingReconciled(ctx, listingID, o.version); err != nil {
		return nil, eris.Wrapf(err, "reconcile: mark listing %s reconciled", listingID)
	}

	result := &ListingResult{ListingID: listingID, Candidates: candidates}

	var matches []Match
	if len(candidates) > 0 {
		matches, err = o.validator.Validate(ctx, candidates)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: validate candidates for listing %s", listingID)
		}
		for _, m := range matches {
			if m.Validated() {
				result.Validated = append(result.Validated, m)
			} else {
				result.NotValidated = append(result.NotValidated, m.Candidate)
			}
		}
	}

	// The cleanup policy applies on every pass. A listing whose text no
	// longer validates anything must still have its older-version joins
	// deleted or superseded.
	outcome, err := o.joiner.CreateJoins(ctx, listingID, matches, o.version, NatureMentioned, o.policy)
	if err != nil {
		return nil, err
	}
	result.JoinsCreated = outcome.Created
	result.JoinsUpdated = outcome.Updated
	return result, nil
}

// ReconcileBatch processes listings sequentially, one to completion before
// the next. A failing listing is logged and recorded, and the batch moves on.
// cancelled, when non-nil, is polled between listings; progress, when
// non-nil, receives one Record per listing and a Force at the end.
func (o *Orchestrator) ReconcileBatch(ctx context.Context, listingIDs []string, progress Progress, cancelled func(context.Context) (bool, error)) (BatchResult, error) {
	var batch BatchResult

	for i, listingID := range listingIDs {
		if cancelled != nil {
			stop, err := cancelled(ctx)
			if err != nil {
				return batch, eris.Wrap(err, "reconcile: check cancellation")
			}
			if stop {
				o.logger.Info("batch cancelled",
					zap.Int("processed", batch.Processed),
					zap.Int("remaining", len(listingIDs)-i))
				return batch, nil
			}
		}

		result, err := o.ReconcileListing(ctx, listingID)
		if err != nil {
			batch.Failed++
			batch.Errors = append(batch.Errors, ListingError{ListingID: listingID, Error: err.Error()})
			o.logger.Warn("listing reconciliation failed",
				zap.String("listing_id", listingID),
				zap.Error(err))
			continue
		}

		batch.Processed++
		batch.Extracted += len(result.Candidates)
		batch.Validated += len(result.Validated)
		batch.JoinsCreated += result.JoinsCreated
		batch.JoinsUpdated += result.JoinsUpdated

		if progress != nil {
			delta := model.JobStats{
				Found:   len(result.Candidates),
				New:     result.JoinsCreated,
				Updated: result.JoinsUpdated,
			}
			msg := fmt.Sprintf("reconciled %d of %d listings", i+1, len(listingIDs))
			if err := progress.Record(ctx, msg, delta); err != nil {
				o.logger.Warn("progress update failed", zap.Error(err))
			}
		}
	}

	if progress != nil {
		msg := fmt.Sprintf("reconciled %d listings, %d failed", batch.Processed, batch.Failed)
		if err := progress.Force(ctx, msg, model.JobStats{}); err != nil {
			o.logger.Warn("final progress update failed", zap.Error(err))
		}
	}

	o.logger.Info("batch reconciled",
		zap.Int("processed", batch.Processed),
		zap.Int("failed", batch.Failed),
		zap.Int("extracted", batch.Extracted),
		zap.Int("validated", batch.Validated),
		zap.Int("joins_created", batch.JoinsCreated),
		zap.Int("joins_updated", batch.JoinsUpdated))
	return batch, nil
}
