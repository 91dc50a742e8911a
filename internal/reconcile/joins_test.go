package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dutchgtr/bricktrack/internal/model"
)

func TestParseCleanupPolicy(t *testing.T) {
	for _, s := range []string{"delete", "supersede", "keep"} {
		p, err := ParseCleanupPolicy(s)
		require.NoError(t, err)
		assert.Equal(t, CleanupPolicy(s), p)
	}
	_, err := ParseCleanupPolicy("archive")
	assert.Error(t, err)
}

func matchFor(e *model.CatalogEntry) Match {
	return Match{Candidate: e.SetNumber, Entry: e}
}

func TestCreateJoinsInsertsActiveJoins(t *testing.T) {
	ms := newMemStore()
	e1 := ms.addCatalogEntry("10251-1", "Brick Bank")
	e2 := ms.addCatalogEntry("10220-1", "Volkswagen T1 Camper Van")
	j := NewJoiner(ms)

	outcome, err := j.CreateJoins(context.Background(), "listing-1",
		[]Match{matchFor(e1), matchFor(e2), {Candidate: "99999"}},
		VersionCurrent, NatureMentioned, CleanupSupersede)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Created)
	assert.Equal(t, 0, outcome.Updated)

	active := ms.activeJoins("listing-1")
	require.Len(t, active, 2)
	for _, join := range active {
		assert.Equal(t, VersionCurrent, join.ReconciliationVer)
		assert.Equal(t, NatureMentioned, join.Nature)
	}
}

func TestCreateJoinsIdempotentSameVersion(t *testing.T) {
	ms := newMemStore()
	e := ms.addCatalogEntry("10251-1", "Brick Bank")
	j := NewJoiner(ms)
	ctx := context.Background()

	_, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e)}, VersionCurrent, NatureMentioned, CleanupSupersede)
	require.NoError(t, err)

	outcome, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e)}, VersionCurrent, NatureMentioned, CleanupSupersede)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Created)
	assert.Equal(t, 1, outcome.Updated)
	assert.Len(t, ms.activeJoins("listing-1"), 1, "update in place, no duplicate rows")
}

func TestCreateJoinsSupersedeVersionTransition(t *testing.T) {
	ms := newMemStore()
	e := ms.addCatalogEntry("10251-1", "Brick Bank")
	j := NewJoiner(ms)
	ctx := context.Background()

	_, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e)}, VersionLegacy, NatureMentioned, CleanupSupersede)
	require.NoError(t, err)

	outcome, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e)}, VersionCurrent, NatureMentioned, CleanupSupersede)
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcome.CleanedUp)
	assert.Equal(t, 1, outcome.Created)

	active := ms.activeJoins("listing-1")
	require.Len(t, active, 1)
	assert.Equal(t, VersionCurrent, active[0].ReconciliationVer)

	superseded := 0
	for _, join := range ms.joins {
		if join.Status == model.JoinStatusSuperseded {
			superseded++
			assert.Equal(t, VersionLegacy, join.ReconciliationVer)
		}
	}
	assert.Equal(t, 1, superseded, "old version preserved as history")
}

func TestCreateJoinsDeleteVersionTransition(t *testing.T) {
	ms := newMemStore()
	e := ms.addCatalogEntry("10251-1", "Brick Bank")
	j := NewJoiner(ms)
	ctx := context.Background()

	_, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e)}, VersionLegacy, NatureMentioned, CleanupDelete)
	require.NoError(t, err)

	outcome, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e)}, VersionCurrent, NatureMentioned, CleanupDelete)
	require.NoError(t, err)
	assert.Equal(t, int64(1), outcome.CleanedUp)

	assert.Len(t, ms.joins, 1, "old version removed entirely")
	active := ms.activeJoins("listing-1")
	require.Len(t, active, 1)
	assert.Equal(t, VersionCurrent, active[0].ReconciliationVer)
}

func TestCreateJoinsKeepLeavesOldVersions(t *testing.T) {
	ms := newMemStore()
	e := ms.addCatalogEntry("10251", "Brick Bank Bare")
	e2 := ms.addCatalogEntry("10220-1", "Volkswagen T1 Camper Van")
	j := NewJoiner(ms)
	ctx := context.Background()

	_, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e)}, VersionLegacy, NatureMentioned, CleanupKeep)
	require.NoError(t, err)

	outcome, err := j.CreateJoins(ctx, "listing-1", []Match{matchFor(e2)}, VersionCurrent, NatureMentioned, CleanupKeep)
	require.NoError(t, err)
	assert.Equal(t, int64(0), outcome.CleanedUp)
	assert.Len(t, ms.activeJoins("listing-1"), 2, "keep accumulates both versions")
}

func TestPotentialYearMatch(t *testing.T) {
	tests := []struct {
		setNumber string
		want      bool
	}{
		{"2018-1", true},
		{"1990-1", true},
		{"2050-1", true},
		{"2051-1", false},
		{"1989-1", false},
		{"2018", true},
		{"10251-1", false}, // 5-digit prefix
		{"375-1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, potentialYearMatch(tt.setNumber), "set number %s", tt.setNumber)
	}
}

func TestCreateJoinsSetsPotentialYearMatch(t *testing.T) {
	ms := newMemStore()
	year := ms.addCatalogEntry("2018-1", "Year-Shaped Number")
	brickBank := ms.addCatalogEntry("10251-1", "Brick Bank")
	j := NewJoiner(ms)

	_, err := j.CreateJoins(context.Background(), "listing-1",
		[]Match{matchFor(year), matchFor(brickBank)},
		VersionCurrent, NatureMentioned, CleanupSupersede)
	require.NoError(t, err)

	for _, join := range ms.activeJoins("listing-1") {
		switch join.CatalogEntryID {
		case year.ID:
			assert.True(t, join.PotentialYearMatch)
		case brickBank.ID:
			assert.False(t, join.PotentialYearMatch)
		}
	}
}
