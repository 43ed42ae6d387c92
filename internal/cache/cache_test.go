package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaanbt/pazar/internal/store"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := testDB(t)

	msgs := []store.Message{
		{ID: "2", Sender: "a", Receiver: "b", ProductID: 7, Body: "newer", CreatedAt: "2024-01-01T11:00:00", Read: false},
		{ID: "1", Sender: "b", Receiver: "a", ProductID: 7, Body: "older", FilePath: "uploads/f.jpg", CreatedAt: "2024-01-01T10:00:00", Read: true},
	}
	require.NoError(t, db.SaveSnapshot("b", msgs))

	loaded, err := db.LoadSnapshot("b")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "2", loaded[0].ID, "newest first")
	assert.True(t, loaded[1].Read)
	assert.Equal(t, "uploads/f.jpg", loaded[1].FilePath)

	syncedAt, err := db.LastSyncedAt()
	require.NoError(t, err)
	assert.False(t, syncedAt.IsZero())
}

func TestSaveSnapshotReplacesPrevious(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.SaveSnapshot("b", []store.Message{
		{ID: "1", Sender: "a", Receiver: "b", ProductID: 7, Body: "old", CreatedAt: "2024-01-01T10:00:00"},
	}))
	require.NoError(t, db.SaveSnapshot("b", []store.Message{
		{ID: "2", Sender: "a", Receiver: "b", ProductID: 7, Body: "new", CreatedAt: "2024-01-01T11:00:00"},
	}))

	loaded, err := db.LoadSnapshot("b")
	require.NoError(t, err)
	require.Len(t, loaded, 1, "full replace, not append")
	assert.Equal(t, "2", loaded[0].ID)
}

func TestSaveSnapshotSkipsPending(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.SaveSnapshot("b", []store.Message{
		{ID: "1", Sender: "a", Receiver: "b", ProductID: 7, Body: "ok", CreatedAt: "2024-01-01T10:00:00"},
		{ID: "temp-x", Sender: "b", Receiver: "a", ProductID: 7, Body: "optimistic", CreatedAt: "2024-01-01T10:01:00", Pending: true},
	}))

	loaded, err := db.LoadSnapshot("b")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "1", loaded[0].ID)
}

func TestSnapshotsIsolatedPerUser(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.SaveSnapshot("b", []store.Message{
		{ID: "1", Sender: "a", Receiver: "b", ProductID: 7, Body: "for b", CreatedAt: "2024-01-01T10:00:00"},
	}))
	require.NoError(t, db.SaveSnapshot("c", []store.Message{
		{ID: "9", Sender: "a", Receiver: "c", ProductID: 7, Body: "for c", CreatedAt: "2024-01-01T10:00:00"},
	}))

	loadedB, err := db.LoadSnapshot("b")
	require.NoError(t, err)
	require.Len(t, loadedB, 1)
	assert.Equal(t, "1", loadedB[0].ID)
}

func TestEmptyCache(t *testing.T) {
	db := testDB(t)

	loaded, err := db.LoadSnapshot("nobody")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	syncedAt, err := db.LastSyncedAt()
	require.NoError(t, err)
	assert.True(t, syncedAt.IsZero())
}
