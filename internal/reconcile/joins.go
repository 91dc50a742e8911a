package reconcile

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// CleanupPolicy controls what happens to active joins written under a
// different version before new joins land.
type CleanupPolicy string

const (
	// CleanupDelete hard-deletes older-version active joins.
	CleanupDelete CleanupPolicy = "delete"
	// CleanupSupersede marks older-version active joins superseded.
	CleanupSupersede CleanupPolicy = "supersede"
	// CleanupKeep leaves older-version joins untouched, for manual
	// inspection only.
	CleanupKeep CleanupPolicy = "keep"
)

// ParseCleanupPolicy validates a policy string from config or CLI flags.
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch CleanupPolicy(s) {
	case CleanupDelete, CleanupSupersede, CleanupKeep:
		return CleanupPolicy(s), nil
	default:
		return "", eris.Errorf("reconcile: unknown cleanup policy %q", s)
	}
}

// NatureMentioned marks joins created from identifiers found in listing text.
const NatureMentioned = "mentioned"

// Joiner maintains listing-catalog association records. At most one active
// join exists per (listing, catalog entry) pair; re-running the same version
// updates in place instead of duplicating.
type Joiner struct {
	store  store.Store
	logger *zap.Logger
}

func NewJoiner(st store.Store) *Joiner {
	return &Joiner{
		store:  st,
		logger: zap.L().With(zap.String("component", "join-service")),
	}
}

// JoinOutcome summarizes one CreateJoins call.
type JoinOutcome struct {
	Created   int
	Updated   int
	CleanedUp int64
}

// CreateJoins applies the cleanup policy to older-version active joins, then
// writes one active join per validated match. Existing active joins to the
// same catalog entry are refreshed in place. Cleanup runs even when no match
// validated, so a re-run under a new version retires stale joins regardless
// of what the current text yields.
func (j *Joiner) CreateJoins(ctx context.Context, listingID string, matches []Match, version, nature string, policy CleanupPolicy) (JoinOutcome, error) {
	var outcome JoinOutcome

	cleaned, err := j.cleanup(ctx, listingID, version, policy)
	if err != nil {
		return outcome, err
	}
	outcome.CleanedUp = cleaned

	validated := 0
	for _, m := range matches {
		if m.Validated() {
			validated++
		}
	}
	if validated == 0 {
		return outcome, nil
	}

	active, err := j.store.ActiveJoinsForListing(ctx, listingID)
	if err != nil {
		return outcome, eris.Wrapf(err, "reconcile: load active joins for listing %s", listingID)
	}
	byEntry := make(map[string]*model.ListingCatalogJoin, len(active))
	for i := range active {
		byEntry[active[i].CatalogEntryID] = &active[i]
	}

	for _, m := range matches {
		if !m.Validated() {
			continue
		}
		yearMatch := potentialYearMatch(m.Entry.SetNumber)

		if existing, ok := byEntry[m.Entry.ID]; ok {
			if err := j.store.RefreshJoin(ctx, existing.ID, version, nature, yearMatch); err != nil {
				return outcome, eris.Wrapf(err, "reconcile: refresh join %s", existing.ID)
			}
			outcome.Updated++
			continue
		}

		join := &model.ListingCatalogJoin{
			ListingID:          listingID,
			CatalogEntryID:     m.Entry.ID,
			Nature:             nature,
			ReconciliationVer:  version,
			Status:             model.JoinStatusActive,
			PotentialYearMatch: yearMatch,
		}
		if err := j.store.InsertJoin(ctx, join); err != nil {
			return outcome, eris.Wrapf(err, "reconcile: insert join for listing %s", listingID)
		}
		byEntry[m.Entry.ID] = join
		outcome.Created++
	}
	return outcome, nil
}

func (j *Joiner) cleanup(ctx context.Context, listingID, version string, policy CleanupPolicy) (int64, error) {
	switch policy {
	case CleanupDelete:
		n, err := j.store.DeleteJoinsBeforeVersion(ctx, listingID, version)
		if err != nil {
			return 0, eris.Wrapf(err, "reconcile: delete stale joins for listing %s", listingID)
		}
		return n, nil
	case CleanupSupersede:
		n, err := j.store.SupersedeJoinsBeforeVersion(ctx, listingID, version)
		if err != nil {
			return 0, eris.Wrapf(err, "reconcile: supersede stale joins for listing %s", listingID)
		}
		return n, nil
	case CleanupKeep:
		return 0, nil
	default:
		return 0, eris.Errorf("reconcile: unknown cleanup policy %q", policy)
	}
}

// potentialYearMatch flags identifiers whose numeric prefix is exactly four
// digits in 1990-2050: likely a year in the text, not a set number.
func potentialYearMatch(setNumber string) bool {
	prefix := setNumber
	if i := strings.IndexByte(setNumber, '-'); i >= 0 {
		prefix = setNumber[:i]
	}
	if len(prefix) != 4 {
		return false
	}
	year, err := strconv.Atoi(prefix)
	if err != nil {
		return false
	}
	return year >= 1990 && year <= 2050
}
