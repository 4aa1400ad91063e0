package owners

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/db"
)

func setupOwners(t *testing.T) *db.Store {
	t.Helper()

	s, err := db.Open(":memory:")
	require.NoError(t, err)
	s.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.MigrateUp())
	return s
}

func mkOwner(t *testing.T, s *db.Store, name string, parent *int64, sanctioned bool, country, address *string) *db.Owner {
	t.Helper()

	id, err := s.InsertOwner(context.Background(), &db.Owner{
		Name:           name,
		NormalizedName: NormalizeName(name),
		Country:        country,
		Address:        address,
		ParentOwnerID:  parent,
		IsSanctioned:   sanctioned,
	})
	require.NoError(t, err)

	o, err := s.OwnerByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func strp(s string) *string { return &s }

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "ocean shipping ltd", NormalizeName("  OCEAN   Shipping  Ltd "))
	assert.Equal(t, "ocean shipping ltd", NormalizeName("ocean shipping ltd"))
}

func TestClusterOwnersGroupsAndPropagatesSanctions(t *testing.T) {
	store := setupOwners(t)
	ctx := context.Background()

	a := mkOwner(t, store, "Ocean Shipping Ltd", nil, false, nil, nil)
	b := mkOwner(t, store, "OCEAN  SHIPPING LTD", nil, true, nil, nil)
	c := mkOwner(t, store, "Baltic Holdings", nil, false, nil, nil)

	stats, err := ClusterOwners(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Owners)
	assert.Equal(t, 2, stats.Clusters)
	assert.Equal(t, 1, stats.SanctionedClusters)

	a, err = store.OwnerByID(ctx, a.ID)
	require.NoError(t, err)
	b, err = store.OwnerByID(ctx, b.ID)
	require.NoError(t, err)
	c, err = store.OwnerByID(ctx, c.ID)
	require.NoError(t, err)

	require.NotNil(t, a.ClusterID)
	require.NotNil(t, b.ClusterID)
	require.NotNil(t, c.ClusterID)
	assert.Equal(t, *a.ClusterID, *b.ClusterID)
	assert.NotEqual(t, *a.ClusterID, *c.ClusterID)

	sanctioned, err := store.ClusterSanctioned(ctx, *a.ClusterID)
	require.NoError(t, err)
	assert.True(t, sanctioned)

	clean, err := store.ClusterSanctioned(ctx, *c.ClusterID)
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestAnalyzeOwnerShellChain(t *testing.T) {
	store := setupOwners(t)
	ctx := context.Background()

	top := mkOwner(t, store, "Apex Holdings", nil, false, nil, nil)
	mid := mkOwner(t, store, "Midway Maritime", &top.ID, false, nil, nil)
	low := mkOwner(t, store, "Lowline Chartering", &mid.ID, false, nil, nil)
	leaf := mkOwner(t, store, "Leaf Tankers", &low.ID, false, nil, nil)

	p, err := AnalyzeOwner(ctx, store, leaf)
	require.NoError(t, err)
	assert.Equal(t, 3, p.ChainDepth)
	assert.True(t, p.ShellChain)
	assert.False(t, p.CircularOwnership)

	p, err = AnalyzeOwner(ctx, store, low)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ChainDepth)
	assert.False(t, p.ShellChain)
}

func TestAnalyzeOwnerCircularGraphTerminates(t *testing.T) {
	store := setupOwners(t)
	ctx := context.Background()

	a := mkOwner(t, store, "Alpha Marine", nil, false, nil, nil)
	b := mkOwner(t, store, "Beta Marine", &a.ID, false, nil, nil)

	_, err := store.ExecContext(ctx,
		"UPDATE owners SET parent_owner_id = ? WHERE id = ?", b.ID, a.ID)
	require.NoError(t, err)

	a, err = store.OwnerByID(ctx, a.ID)
	require.NoError(t, err)

	p, err := AnalyzeOwner(ctx, store, a)
	require.NoError(t, err)
	assert.True(t, p.CircularOwnership)
}

func TestAnalyzeOwnerSharedAddressWithSanctioned(t *testing.T) {
	store := setupOwners(t)
	ctx := context.Background()

	mkOwner(t, store, "Sanctioned Entity", nil, true,
		strp("AE"), strp("Unit 4, Marina Plaza, Dubai"))
	clean := mkOwner(t, store, "Fresh Shipping FZE", nil, false,
		strp("ae"), strp("unit 4, marina plaza, dubai"))
	elsewhere := mkOwner(t, store, "Elsewhere Marine", nil, false,
		strp("AE"), strp("Tower 9, Abu Dhabi"))

	p, err := AnalyzeOwner(ctx, store, clean)
	require.NoError(t, err)
	assert.True(t, p.SharedAddressSanctioned)

	p, err = AnalyzeOwner(ctx, store, elsewhere)
	require.NoError(t, err)
	assert.False(t, p.SharedAddressSanctioned)
}

func TestReshuffled(t *testing.T) {
	store := setupOwners(t)
	ctx := context.Background()

	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	owners := []*db.Owner{
		mkOwner(t, store, "First Owner", nil, false, nil, nil),
		mkOwner(t, store, "Second Owner", nil, false, nil, nil),
		mkOwner(t, store, "Third Owner", nil, false, nil, nil),
	}

	for i, o := range owners {
		when := asOf.AddDate(0, -(i + 1), 0)
		require.NoError(t, store.RecordOwnerChange(ctx, 1, o.ID, when))
	}

	hot, err := Reshuffled(ctx, store, 1, asOf)
	require.NoError(t, err)
	assert.True(t, hot)

	cold, err := Reshuffled(ctx, store, 2, asOf)
	require.NoError(t, err)
	assert.False(t, cold)
}
