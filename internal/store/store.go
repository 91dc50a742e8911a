package store

import (
	"context"
	"time"

	"github.com/dutchgtr/bricktrack/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Dataset string          `json:"dataset,omitempty"`
	Stage   model.StageType `json:"stage,omitempty"`
	Status  model.JobStatus `json:"status,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the listing pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, stage model.StageType, dataset string, meta *model.JobMetadata, timeout time.Duration) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	FindRunningJob(ctx context.Context, dataset string) (*model.Job, error)
	CompletedStages(ctx context.Context, dataset string) ([]model.StageType, error)
	LatestCompletedJob(ctx context.Context, dataset string, stage model.StageType) (*model.Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, message string, delta model.JobStats) error
	UpdateJobMetadata(ctx context.Context, jobID string, meta *model.JobMetadata) error
	CompleteJob(ctx context.Context, jobID string, message string, final model.JobStats) error
	FailJob(ctx context.Context, jobID string, errorMessage string) error
	SweepStaleJobs(ctx context.Context, now time.Time) (int, error)

	// Raw listings (capture / enrich / materialize stages)
	InsertRawListings(ctx context.Context, rows []model.RawListing) (int64, error)
	ListRawListingsByCaptureJob(ctx context.Context, captureJobID string) ([]model.RawListing, error)
	MarkRawListingEnriched(ctx context.Context, rawID string, description string, price int) error
	MaterializeCaptured(ctx context.Context, dataset string, captureJobID string) (created, updated int64, err error)

	// Listings
	GetListing(ctx context.Context, listingID string) (*model.Listing, error)
	GetListingsByIDs(ctx context.Context, ids []string) ([]model.Listing, error)
	ListListingIDs(ctx context.Context, dataset string) ([]string, error)
	ListUnsanitisedListings(ctx context.Context, dataset string) ([]model.Listing, error)
	UpdateListingSanitised(ctx context.Context, listingID string, title, description string) error
	UpdateListingAttributes(ctx context.Context, listingID string, pieceCount int, pieceEstimated bool, minifigCount int, condition string) error
	MarkListingReconciled(ctx context.Context, listingID string, version string) error
	CountListings(ctx context.Context, dataset string) (int, error)

	// Catalog (read path for validation, write path for catalog refresh)
	UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) (int64, error)
	FindCatalogEntryBySetNumber(ctx context.Context, setNumber string) (*model.CatalogEntry, error)
	FindCatalogEntryByPrefix(ctx context.Context, prefix string) (*model.CatalogEntry, error)
	GetCatalogEntriesByIDs(ctx context.Context, ids []string) ([]model.CatalogEntry, error)

	// Joins
	ActiveJoinsForListing(ctx context.Context, listingID string) ([]model.ListingCatalogJoin, error)
	InsertJoin(ctx context.Context, join *model.ListingCatalogJoin) error
	RefreshJoin(ctx context.Context, joinID string, version, nature string, potentialYearMatch bool) error
	SupersedeJoinsBeforeVersion(ctx context.Context, listingID string, version string) (int64, error)
	DeleteJoinsBeforeVersion(ctx context.Context, listingID string, version string) (int64, error)
	ListJoinsForListings(ctx context.Context, listingIDs []string) ([]model.ListingCatalogJoin, error)
	CountActiveJoins(ctx context.Context, dataset string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
