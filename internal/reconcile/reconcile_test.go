package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/dutchgtr/bricktrack/internal/model"
	"github.com/dutchgtr/bricktrack/internal/store"
)

// memStore is an in-memory catalog/listing/join store for reconcile tests.
// Unimplemented Store methods panic through the embedded nil interface.
type memStore struct {
	store.Store

	listings map[string]*model.Listing
	catalog  map[string]*model.CatalogEntry // keyed by set number
	joins    map[string]*model.ListingCatalogJoin

	// failLookups makes exact-match lookups for these candidates error.
	failLookups map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		listings:    make(map[string]*model.Listing),
		catalog:     make(map[string]*model.CatalogEntry),
		joins:       make(map[string]*model.ListingCatalogJoin),
		failLookups: make(map[string]bool),
	}
}

func (m *memStore) addListing(id, sanitisedTitle, sanitisedDescription string) {
	m.listings[id] = &model.Listing{
		ID:                   id,
		Dataset:              "lego_sets",
		SanitisedTitle:       sanitisedTitle,
		SanitisedDescription: sanitisedDescription,
	}
}

func (m *memStore) addCatalogEntry(setNumber, name string) *model.CatalogEntry {
	e := &model.CatalogEntry{ID: uuid.New().String(), SetNumber: setNumber, Name: name}
	m.catalog[setNumber] = e
	return e
}

func (m *memStore) GetListing(_ context.Context, listingID string) (*model.Listing, error) {
	l, ok := m.listings[listingID]
	if !ok {
		return nil, eris.Errorf("listing not found: %s", listingID)
	}
	return l, nil
}

func (m *memStore) UpdateListingAttributes(_ context.Context, listingID string, pieceCount int, pieceEstimated bool, minifigCount int, condition string) error {
	l := m.listings[listingID]
	l.PieceCount = pieceCount
	l.PieceCountEstimated = pieceEstimated
	l.MinifigCount = minifigCount
	l.Condition = condition
	return nil
}

func (m *memStore) MarkListingReconciled(_ context.Context, listingID string, version string) error {
	l, ok := m.listings[listingID]
	if !ok {
		return eris.Errorf("listing not found: %s", listingID)
	}
	now := time.Now().UTC()
	l.ReconciledAt = &now
	l.ReconciliationVer = version
	return nil
}

func (m *memStore) FindCatalogEntryBySetNumber(_ context.Context, setNumber string) (*model.CatalogEntry, error) {
	if m.failLookups[setNumber] {
		return nil, eris.New("catalog unavailable")
	}
	if e, ok := m.catalog[setNumber]; ok {
		return e, nil
	}
	return nil, nil
}

func (m *memStore) FindCatalogEntryByPrefix(_ context.Context, prefix string) (*model.CatalogEntry, error) {
	var numbers []string
	for n := range m.catalog {
		if strings.HasPrefix(n, prefix+"-") {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) == 0 {
		return nil, nil
	}
	sort.Strings(numbers)
	return m.catalog[numbers[0]], nil
}

func (m *memStore) ActiveJoinsForListing(_ context.Context, listingID string) ([]model.ListingCatalogJoin, error) {
	var out []model.ListingCatalogJoin
	for _, j := range m.joins {
		if j.ListingID == listingID && j.Status == model.JoinStatusActive {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) InsertJoin(_ context.Context, join *model.ListingCatalogJoin) error {
	if join.ID == "" {
		join.ID = uuid.New().String()
	}
	if join.Status == "" {
		join.Status = model.JoinStatusActive
	}
	for _, existing := range m.joins {
		if existing.ListingID == join.ListingID && existing.CatalogEntryID == join.CatalogEntryID && existing.Status == model.JoinStatusActive {
			return eris.New("duplicate active join")
		}
	}
	cp := *join
	m.joins[join.ID] = &cp
	return nil
}

func (m *memStore) RefreshJoin(_ context.Context, joinID string, version, nature string, potentialYearMatch bool) error {
	j, ok := m.joins[joinID]
	if !ok {
		return eris.Errorf("join not found: %s", joinID)
	}
	j.ReconciliationVer = version
	j.Nature = nature
	j.PotentialYearMatch = potentialYearMatch
	return nil
}

func (m *memStore) SupersedeJoinsBeforeVersion(_ context.Context, listingID string, version string) (int64, error) {
	var n int64
	for _, j := range m.joins {
		if j.ListingID == listingID && j.Status == model.JoinStatusActive && j.ReconciliationVer != version {
			j.Status = model.JoinStatusSuperseded
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteJoinsBeforeVersion(_ context.Context, listingID string, version string) (int64, error) {
	var n int64
	for id, j := range m.joins {
		if j.ListingID == listingID && j.Status == model.JoinStatusActive && j.ReconciliationVer != version {
			delete(m.joins, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) activeJoins(listingID string) []*model.ListingCatalogJoin {
	var out []*model.ListingCatalogJoin
	for _, j := range m.joins {
		if j.ListingID == listingID && j.Status == model.JoinStatusActive {
			out = append(out, j)
		}
	}
	return out
}
