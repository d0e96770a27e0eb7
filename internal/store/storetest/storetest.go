// Package storetest is the conformance suite every Store backend must pass.
// Backends register a factory and get identical coverage of KV semantics,
// index ordering, retention trimming and batch application.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellune/credits-service/internal/store"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Run exercises the full Store contract against a fresh backend instance.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("get missing key returns ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		var doc testDoc
		err := s.Get(ctx, "balance:absent", &doc)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("set then get roundtrips", func(t *testing.T) {
		s := newStore(t)
		in := testDoc{Name: "u1", Count: 42}
		require.NoError(t, s.Set(ctx, "balance:u1", in))

		var out testDoc
		require.NoError(t, s.Get(ctx, "balance:u1", &out))
		assert.Equal(t, in, out)
	})

	t.Run("set overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "balance:u1", testDoc{Name: "u1", Count: 1}))
		require.NoError(t, s.Set(ctx, "balance:u1", testDoc{Name: "u1", Count: 2}))

		var out testDoc
		require.NoError(t, s.Get(ctx, "balance:u1", &out))
		assert.Equal(t, int64(2), out.Count)
	})

	t.Run("delete removes key", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "balance:u1", testDoc{Name: "u1"}))
		require.NoError(t, s.Delete(ctx, "balance:u1"))

		var out testDoc
		assert.ErrorIs(t, s.Get(ctx, "balance:u1", &out), store.ErrNotFound)
	})

	t.Run("index range returns highest score first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "a", 10))
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "b", 30))
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "c", 20))

		members, err := s.IndexRange(ctx, "idx:transactions:u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a"}, members)
	})

	t.Run("index range honors limit", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "a", 10))
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "b", 30))
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "c", 20))

		members, err := s.IndexRange(ctx, "idx:transactions:u1", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, members)
	})

	t.Run("index range on missing index is empty", func(t *testing.T) {
		s := newStore(t)
		members, err := s.IndexRange(ctx, "idx:transactions:absent", 5)
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("index add updates existing member score", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "a", 10))
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "b", 20))
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "a", 30))

		members, err := s.IndexRange(ctx, "idx:transactions:u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, members)
	})

	t.Run("index remove", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "a", 10))
		require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", "b", 20))
		require.NoError(t, s.IndexRemove(ctx, "idx:transactions:u1", "b"))

		members, err := s.IndexRange(ctx, "idx:transactions:u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, members)
	})

	t.Run("index trim keeps highest scored members", func(t *testing.T) {
		s := newStore(t)
		for i, m := range []string{"a", "b", "c", "d", "e"} {
			require.NoError(t, s.IndexAdd(ctx, "idx:transactions:u1", m, int64(i)))
		}
		require.NoError(t, s.IndexTrim(ctx, "idx:transactions:u1", 2))

		members, err := s.IndexRange(ctx, "idx:transactions:u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"e", "d"}, members)
	})

	t.Run("batch applies all ops", func(t *testing.T) {
		s := newStore(t)
		b := store.NewBatch().
			Set("balance:u1", testDoc{Name: "u1", Count: 5}).
			Set("transaction:t1", testDoc{Name: "t1", Count: 5}).
			IndexAdd("idx:transactions:u1", "t1", 100).
			IndexTrim("idx:transactions:u1", 10)
		require.NoError(t, s.Apply(ctx, b))

		var bal, tx testDoc
		require.NoError(t, s.Get(ctx, "balance:u1", &bal))
		require.NoError(t, s.Get(ctx, "transaction:t1", &tx))
		assert.Equal(t, int64(5), bal.Count)

		members, err := s.IndexRange(ctx, "idx:transactions:u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"t1"}, members)
	})

	t.Run("batch trim bounds index growth", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 6; i++ {
			b := store.NewBatch().
				IndexAdd("idx:transactions:u1", string(rune('a'+i)), int64(i)).
				IndexTrim("idx:transactions:u1", 3)
			require.NoError(t, s.Apply(ctx, b))
		}

		members, err := s.IndexRange(ctx, "idx:transactions:u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"f", "e", "d"}, members)
	})
}
