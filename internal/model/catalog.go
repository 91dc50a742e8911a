package model

import "time"

// CatalogEntry is a canonical reference record for a sellable set, identified
// by its natural set number (e.g. "10251-1"). Read-only from the pipeline's
// perspective; only catalog refresh writes it.
type CatalogEntry struct {
	ID        string    `json:"id"`
	SetNumber string    `json:"set_number"`
	Name      string    `json:"name"`
	Year      int       `json:"year,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
