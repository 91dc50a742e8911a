package model

import "time"

// RawListing is a marketplace search or detail result as captured, before
// materialization into the canonical listings table.
type RawListing struct {
	ID           string     `json:"id"`
	Dataset      string     `json:"dataset"`
	CaptureJobID string     `json:"capture_job_id"`
	ExternalID   string     `json:"external_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Price        int        `json:"price,omitempty"`
	URL          string     `json:"url,omitempty"`
	CapturedAt   time.Time  `json:"captured_at"`
	EnrichedAt   *time.Time `json:"enriched_at,omitempty"`
}

// Listing is a canonical scraped marketplace item. The sanitised_* fields are
// the only extraction input for reconciliation; raw title/description carry
// seller-added noise.
type Listing struct {
	ID                   string     `json:"id"`
	Dataset              string     `json:"dataset"`
	ExternalID           string     `json:"external_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	SanitisedTitle       string     `json:"sanitised_title,omitempty"`
	SanitisedDescription string     `json:"sanitised_description,omitempty"`
	Price                int        `json:"price,omitempty"`
	URL                  string     `json:"url,omitempty"`
	PieceCount           int        `json:"piece_count,omitempty"`
	PieceCountEstimated  bool       `json:"piece_count_estimated,omitempty"`
	MinifigCount         int        `json:"minifig_count,omitempty"`
	Condition            string     `json:"condition,omitempty"`
	ReconciledAt         *time.Time `json:"reconciled_at,omitempty"`
	ReconciliationVer    string     `json:"reconciliation_version,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Sanitised reports whether the sanitize stage has produced cleaned text.
func (l *Listing) Sanitised() bool {
	return l.SanitisedTitle != "" || l.SanitisedDescription != ""
}
