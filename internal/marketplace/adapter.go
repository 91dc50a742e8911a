// Package marketplace abstracts the listing source behind a small adapter
// interface. Implementations stay generic: no site-specific endpoints,
// headers or parsing rules live here, and the mock adapter runs fully
// offline for local pipelines and tests.
package marketplace

import (
	"context"
	"time"
)

// SearchParams describes one paginated marketplace search.
type SearchParams struct {
	Keywords string
	Page     int
}

// Summary is the lightweight search-result view of a listing.
type Summary struct {
	ExternalID string `json:"listing_id"`
	Title      string `json:"title,omitempty"`
	Price      int    `json:"price,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Details is the full listing record returned by a detail fetch.
type Details struct {
	ExternalID  string `json:"listing_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       int    `json:"price"`
	URL         string `json:"url"`
}

// Adapter is the capture/enrich stages' view of a marketplace.
type Adapter interface {
	// Search returns one page of listing summaries. An empty page signals
	// the end of results.
	Search(ctx context.Context, params SearchParams) ([]Summary, error)

	// Fetch returns the full record for one listing.
	Fetch(ctx context.Context, externalID string) (Details, error)
}

// Options configures the HTTP adapter.
type Options struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	RequestsPerSec float64
	MaxAttempts    int

	// Backoff and circuit breaker knobs in config-file units. Non-positive
	// values fall back to the resilience package defaults.
	InitialBackoffMs int
	MaxBackoffMs     int
	BreakerThreshold int
	BreakerResetSecs int
}
