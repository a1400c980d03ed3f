package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ArtifactVersion{}))
	return db
}

func reserveInput(key string) repositories.ReserveInput {
	return repositories.ReserveInput{
		OwnerEntityType: "project",
		OwnerEntityId:   "123",
		FileName:        "contract.pdf",
		BlobKey:         key,
		ContentFormat:   "pdf",
		Metadata: models.Metadata{
			SchemaVersion: models.MetadataSchemaVersion,
			Attributes:    map[string]string{"name": "Contract"},
		},
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func TestReserveVersion_FreshChain(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	row, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)

	assert.Equal(t, row.Id, row.RootId)
	assert.Equal(t, 1, row.VersionNumber)
	assert.Equal(t, models.StatusPending, row.Status)
	assert.False(t, row.IsCurrent)
	assert.Nil(t, row.ValidFrom)
}

func TestReserveVersion_UnknownChain(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))

	_, err := repo.ReserveVersion(context.Background(), "nope", reserveInput("k1"))
	assert.ErrorIs(t, err, repositories.ErrChainNotFound)
}

func TestFinalizeVersion_FirstVersion(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	row, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)

	final, err := repo.FinalizeVersion(ctx, row.Id, 2458000, "pdf")
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, final.Status)
	assert.True(t, final.IsCurrent)
	assert.Equal(t, int64(2458000), final.ByteSize)
	require.NotNil(t, final.ValidFrom)
	assert.Nil(t, final.ValidTo)

	cur, err := repo.GetCurrent(ctx, row.RootId)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.VersionNumber)
	assert.True(t, cur.IsCurrent)
}

func TestFinalizeVersion_SupersedesCurrent(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	v1, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, v1.Id, 100, "pdf")
	require.NoError(t, err)

	v2, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput("k2"))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)

	_, err = repo.FinalizeVersion(ctx, v2.Id, 200, "pdf")
	require.NoError(t, err)

	cur, err := repo.GetCurrent(ctx, v1.RootId)
	require.NoError(t, err)
	assert.Equal(t, v2.Id, cur.Id)

	old, err := repo.GetVersion(ctx, v1.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuperseded, old.Status)
	assert.False(t, old.IsCurrent)
	require.NotNil(t, old.ValidTo)

	// Intervals meet exactly: v1 closes at the instant v2 opens.
	assert.Equal(t, cur.ValidFrom.Unix(), old.ValidTo.Unix())
}

// Two reservations both computed against the same current version; the
// second finalize must lose with a chain conflict and leave exactly one
// active row behind.
func TestFinalizeVersion_ChainConflict(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	v1, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, v1.Id, 100, "pdf")
	require.NoError(t, err)
	v2, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput("k2"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, v2.Id, 200, "pdf")
	require.NoError(t, err)

	// Both callers reserve against current v2 and believe they are v3.
	winner, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput("k3"))
	require.NoError(t, err)
	loser, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput("k4"))
	require.NoError(t, err)
	assert.Equal(t, 3, winner.VersionNumber)
	assert.Equal(t, 3, loser.VersionNumber)

	_, err = repo.FinalizeVersion(ctx, winner.Id, 300, "pdf")
	require.NoError(t, err)

	_, err = repo.FinalizeVersion(ctx, loser.Id, 300, "pdf")
	assert.ErrorIs(t, err, repositories.ErrChainConflict)

	// Exactly one active v3; the loser is still pending and abandon-able.
	cur, err := repo.GetCurrent(ctx, v1.RootId)
	require.NoError(t, err)
	assert.Equal(t, winner.Id, cur.Id)
	assert.Equal(t, 3, cur.VersionNumber)

	leftover, err := repo.GetVersion(ctx, loser.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, leftover.Status)
	require.NoError(t, repo.AbandonVersion(ctx, loser.Id))
}

func TestFinalizeVersion_InvalidStates(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	_, err := repo.FinalizeVersion(ctx, "missing", 1, "pdf")
	assert.ErrorIs(t, err, repositories.ErrVersionNotFound)

	row, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, row.Id, 1, "pdf")
	require.NoError(t, err)

	// Already active: finalizing again must not double-close anything.
	_, err = repo.FinalizeVersion(ctx, row.Id, 1, "pdf")
	assert.ErrorIs(t, err, repositories.ErrInvalidVersionState)
}

func TestAbandonVersion_Idempotent(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	row, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)

	require.NoError(t, repo.AbandonVersion(ctx, row.Id))
	// Second call is a no-op, not an error.
	require.NoError(t, repo.AbandonVersion(ctx, row.Id))

	got, err := repo.GetVersion(ctx, row.Id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbandoned, got.Status)
}

func TestAbandonVersion_RefusesFinalized(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	row, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, row.Id, 1, "pdf")
	require.NoError(t, err)

	err = repo.AbandonVersion(ctx, row.Id)
	assert.ErrorIs(t, err, repositories.ErrInvalidVersionState)

	cur, err := repo.GetCurrent(ctx, row.RootId)
	require.NoError(t, err)
	assert.True(t, cur.IsCurrent)
}

func TestMetadataInheritance(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	in := reserveInput("k1")
	in.Metadata.Attributes = map[string]string{"name": "Contract", "tag": "legal"}
	v1, err := repo.ReserveVersion(ctx, "", in)
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, v1.Id, 1, "pdf")
	require.NoError(t, err)

	// Empty metadata inherits from the current version.
	inherited := reserveInput("k2")
	inherited.Metadata = models.Metadata{}
	v2, err := repo.ReserveVersion(ctx, v1.RootId, inherited)
	require.NoError(t, err)
	assert.Equal(t, "legal", v2.Metadata.Attributes["tag"])

	// Explicit metadata overrides.
	override := reserveInput("k3")
	override.Metadata.Attributes = map[string]string{"name": "Contract v3"}
	v3, err := repo.ReserveVersion(ctx, v1.RootId, override)
	require.NoError(t, err)
	assert.Equal(t, "Contract v3", v3.Metadata.Attributes["name"])
	assert.NotContains(t, v3.Metadata.Attributes, "tag")
}

func TestListChain_OrderAndFiltering(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	v1, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, v1.Id, 1, "pdf")
	require.NoError(t, err)
	v2, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput("k2"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, v2.Id, 2, "pdf")
	require.NoError(t, err)

	// A pending leftover must stay invisible by default.
	_, err = repo.ReserveVersion(ctx, v1.RootId, reserveInput("k3"))
	require.NoError(t, err)

	rows, err := repo.ListChain(ctx, v1.RootId, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].VersionNumber)
	assert.Equal(t, models.StatusActive, rows[0].Status)
	assert.Equal(t, 1, rows[1].VersionNumber)
	assert.Equal(t, models.StatusSuperseded, rows[1].Status)

	audit, err := repo.ListChain(ctx, v1.RootId, true)
	require.NoError(t, err)
	assert.Len(t, audit, 3)
	assert.Equal(t, models.StatusPending, audit[0].Status)
}

func TestListChain_UnknownRoot(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))

	_, err := repo.ListChain(context.Background(), "nope", false)
	assert.ErrorIs(t, err, repositories.ErrChainNotFound)
}

func TestGetAsOf(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Millisecond)

	v1, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)
	f1, err := repo.FinalizeVersion(ctx, v1.Id, 1, "pdf")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	v2, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput("k2"))
	require.NoError(t, err)
	f2, err := repo.FinalizeVersion(ctx, v2.Id, 2, "pdf")
	require.NoError(t, err)

	// Immediately after finalize, the finalize instant resolves to v2.
	got, err := repo.GetAsOf(ctx, v1.RootId, *f2.ValidFrom)
	require.NoError(t, err)
	assert.Equal(t, v2.Id, got.Id)

	// An instant inside v1's bracket resolves to v1.
	mid := f1.ValidFrom.Add(5 * time.Millisecond)
	got, err = repo.GetAsOf(ctx, v1.RootId, mid)
	require.NoError(t, err)
	assert.Equal(t, v1.Id, got.Id)

	// Before the chain existed: not found.
	_, err = repo.GetAsOf(ctx, v1.RootId, before)
	assert.ErrorIs(t, err, repositories.ErrVersionNotFound)
}

// The version sequence restricted to finalized rows stays 1..n without gaps,
// and validity intervals tile the timeline, pending leftovers or not.
func TestChainInvariants(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	v1, err := repo.ReserveVersion(ctx, "", reserveInput("k1"))
	require.NoError(t, err)
	_, err = repo.FinalizeVersion(ctx, v1.Id, 1, "pdf")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		// Every round leaves one abandoned reservation behind.
		stray, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput(reserveKey("stray", i)))
		require.NoError(t, err)
		require.NoError(t, repo.AbandonVersion(ctx, stray.Id))

		next, err := repo.ReserveVersion(ctx, v1.RootId, reserveInput(reserveKey("real", i)))
		require.NoError(t, err)
		_, err = repo.FinalizeVersion(ctx, next.Id, int64(i), "pdf")
		require.NoError(t, err)
	}

	rows, err := repo.ListChain(ctx, v1.RootId, false)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	currents := 0
	for i, row := range rows {
		assert.Equal(t, 5-i, row.VersionNumber, "no gaps, newest first")
		if row.IsCurrent {
			currents++
			assert.Equal(t, models.StatusActive, row.Status)
			assert.Nil(t, row.ValidTo)
		} else {
			assert.Equal(t, models.StatusSuperseded, row.Status)
			require.NotNil(t, row.ValidTo)
		}
		if i < len(rows)-1 {
			// Contiguous brackets: this row starts where the older ends.
			require.NotNil(t, rows[i+1].ValidTo)
			assert.Equal(t, rows[i+1].ValidTo.Unix(), row.ValidFrom.Unix())
		}
	}
	assert.Equal(t, 1, currents)
}

func TestStalePending(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	stale := reserveInput("k1")
	stale.ExpiresAt = time.Now().UTC().Add(-2 * time.Hour)
	expired, err := repo.ReserveVersion(ctx, "", stale)
	require.NoError(t, err)

	fresh, err := repo.ReserveVersion(ctx, "", reserveInput("k2"))
	require.NoError(t, err)

	rows, err := repo.StalePending(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, expired.Id, rows[0].Id)
	assert.NotEqual(t, fresh.Id, rows[0].Id)
}

func TestBlobKeyInUse(t *testing.T) {
	repo := repositories.NewVersionRepository(setupDB(t))
	ctx := context.Background()

	_, err := repo.ReserveVersion(ctx, "", reserveInput("taken"))
	require.NoError(t, err)

	used, err := repo.BlobKeyInUse(ctx, "taken")
	require.NoError(t, err)
	assert.True(t, used)

	free, err := repo.BlobKeyInUse(ctx, "free")
	require.NoError(t, err)
	assert.False(t, free)
}

func reserveKey(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}
