package model

// JobMetadata is the per-stage payload stored on a job row. Exactly one
// variant is set, matching the job's stage type; all variants persist through
// the single metadata column.
type JobMetadata struct {
	Capture        *CaptureMetadata        `json:"capture,omitempty"`
	Enrich         *EnrichMetadata         `json:"enrich,omitempty"`
	Materialize    *MaterializeMetadata    `json:"materialize,omitempty"`
	Sanitize       *SanitizeMetadata       `json:"sanitize,omitempty"`
	Reconcile      *ReconcileMetadata      `json:"reconcile,omitempty"`
	Analyze        *AnalyzeMetadata        `json:"analyze,omitempty"`
	CatalogRefresh *CatalogRefreshMetadata `json:"catalog_refresh,omitempty"`
}

// CaptureMetadata records the externally supplied capture parameters.
type CaptureMetadata struct {
	Keywords    []string `json:"keywords"`
	Marketplace string   `json:"marketplace"`
	MaxPages    int      `json:"max_pages,omitempty"`
}

// EnrichMetadata records which capture job supplied the listings to enrich.
type EnrichMetadata struct {
	CaptureJobID string `json:"capture_job_id"`
}

// MaterializeMetadata records which capture job's raw rows were promoted.
type MaterializeMetadata struct {
	CaptureJobID string `json:"capture_job_id"`
}

// SanitizeMetadata records sanitize-pass counts.
type SanitizeMetadata struct {
	ListingsCleaned int `json:"listings_cleaned"`
}

// ReconcileMetadata records the reconciliation run parameters and the
// listings it touched, in processing order. The listing ids drive the
// per-listing breakdown on job reads.
type ReconcileMetadata struct {
	Version       string   `json:"version"`
	CleanupPolicy string   `json:"cleanup_policy"`
	ListingIDs    []string `json:"listing_ids,omitempty"`
}

// AnalyzeMetadata records the analyze-stage summary reference.
type AnalyzeMetadata struct {
	ListingsAnalyzed int `json:"listings_analyzed"`
	JoinsAnalyzed    int `json:"joins_analyzed"`
}

// CatalogRefreshMetadata records the catalog source ingested.
type CatalogRefreshMetadata struct {
	Source string `json:"source"`
}
