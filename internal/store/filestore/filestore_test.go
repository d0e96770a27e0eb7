package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellune/credits-service/internal/store"
	"github.com/stellune/credits-service/internal/store/storetest"
)

func TestFileStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_ReloadFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	type doc struct {
		Credits int64 `json:"credits"`
	}

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "balance:u1", doc{Credits: 7}))
	require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "t1", 100))
	require.NoError(t, s.Close())

	reopened, err := New(dir)
	require.NoError(t, err)

	var out doc
	require.NoError(t, reopened.Get(ctx, "balance:u1", &out))
	assert.Equal(t, int64(7), out.Credits)

	members, err := reopened.IndexRange(ctx, "idx:transactions:u1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, members)
}

func TestFileStore_FailedPersistIsNotObservable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	type doc struct {
		Credits int64 `json:"credits"`
	}

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "balance:u1", doc{Credits: 1}))

	// occupy the temp path with a directory so the table rewrite fails
	require.NoError(t, os.Mkdir(filepath.Join(dir, "balance.json.tmp"), 0o755))

	b := store.NewBatch().
		Set("balance:u1", doc{Credits: 2}).
		IndexAdd("idx:transactions:u1", "t1", 100)
	require.Error(t, s.Apply(ctx, b))

	var out doc
	require.NoError(t, s.Get(ctx, "balance:u1", &out))
	assert.Equal(t, int64(1), out.Credits, "failed batch must leave the old value")

	members, err := s.IndexRange(ctx, "idx:transactions:u1", 0)
	require.NoError(t, err)
	assert.Empty(t, members, "failed batch must not leave index entries")

	t.Run("single-op writes roll back too", func(t *testing.T) {
		require.Error(t, s.Set(ctx, "balance:u2", doc{Credits: 5}))
		err := s.Get(ctx, "balance:u2", &out)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("store works again once the writes go through", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, "balance.json.tmp")))
		require.NoError(t, s.Set(ctx, "balance:u1", doc{Credits: 2}))
		require.NoError(t, s.Get(ctx, "balance:u1", &out))
		assert.Equal(t, int64(2), out.Credits)
	})
}

func TestFileStore_OneDocumentPerTable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "balance:u1", map[string]int{"credits": 1}))
	require.NoError(t, s.Set(ctx, "purchase:o1", map[string]string{"sku": "credit_10"}))

	assert.FileExists(t, dir+"/balance.json")
	assert.FileExists(t, dir+"/purchase.json")
}
