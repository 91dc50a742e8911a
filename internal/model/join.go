package model

import "time"

// ListingCatalogJoin associates one listing with one catalog entry. At most
// one active join exists per (listing, catalog entry) pair; older-version
// joins are superseded or deleted according to the cleanup policy.
type ListingCatalogJoin struct {
	ID                 string     `json:"id"`
	ListingID          string     `json:"listing_id"`
	CatalogEntryID     string     `json:"catalog_entry_id"`
	Nature             string     `json:"nature"`
	ReconciliationVer  string     `json:"reconciliation_version"`
	Status             JoinStatus `json:"status"`
	PotentialYearMatch bool       `json:"potential_year_match"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
