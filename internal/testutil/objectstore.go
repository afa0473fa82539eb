// Package testutil holds conformance suites and fixtures shared by the
// package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

func doc(fields string) []byte {
	return []byte(fields)
}

// RunObjectStoreTests exercises the ObjectStore contract. newStore must
// return an empty store for every call.
func RunObjectStoreTests(t *testing.T, newStore func(t *testing.T) mangashelf.ObjectStore) {
	ctx := context.Background()

	t.Run("PutGetDelete", func(t *testing.T) {
		store := newStore(t)
		rec := mangashelf.Record{Key: "a", Version: 1, Data: doc(`{"title":"one"}`)}
		require.NoError(t, store.Put(ctx, "manga", rec))

		got, err := store.Get(ctx, "manga", "a")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.JSONEq(t, `{"title":"one"}`, string(got.Data))

		_, err = store.Get(ctx, "chapter", "a")
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)

		require.NoError(t, store.Delete(ctx, "manga", "a"))
		_, err = store.Get(ctx, "manga", "a")
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)

		assert.NoError(t, store.Delete(ctx, "manga", "a"), "deleting an absent record")
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "manga", mangashelf.Record{Key: "a", Version: 1, Data: doc(`{"n":1}`)}))
		require.NoError(t, store.Put(ctx, "manga", mangashelf.Record{Key: "a", Version: 1, Data: doc(`{"n":2}`)}))

		got, err := store.Get(ctx, "manga", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":2}`, string(got.Data))
	})

	t.Run("ReplaceChecksVersion", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "manga", mangashelf.Record{Key: "a", Version: 1, Data: doc(`{"n":1}`)}))

		err := store.Replace(ctx, "manga", mangashelf.Record{Key: "a", Version: 2, Data: doc(`{"n":2}`)}, 1)
		require.NoError(t, err)

		err = store.Replace(ctx, "manga", mangashelf.Record{Key: "a", Version: 2, Data: doc(`{"n":3}`)}, 1)
		assert.ErrorIs(t, err, mangashelf.ErrVersionConflict)

		err = store.Replace(ctx, "manga", mangashelf.Record{Key: "missing", Version: 2, Data: doc(`{}`)}, 1)
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)

		got, err := store.Get(ctx, "manga", "a")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.JSONEq(t, `{"n":2}`, string(got.Data))
	})

	t.Run("FetchPageCursor", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 7; i++ {
			key := fmt.Sprintf("k%02d", i)
			require.NoError(t, store.Put(ctx, "chapter", mangashelf.Record{Key: key, Version: 1, Data: doc(`{}`)}))
		}

		var keys []string
		cursor := ""
		rounds := 0
		for {
			page, err := store.FetchPage(ctx, "chapter", nil, cursor, 3)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(page.Records), 3)
			for _, r := range page.Records {
				keys = append(keys, r.Key)
			}
			rounds++
			if page.Next == "" {
				break
			}
			cursor = page.Next
		}
		assert.Equal(t, []string{"k00", "k01", "k02", "k03", "k04", "k05", "k06"}, keys)
		assert.Equal(t, 3, rounds)
	})

	t.Run("FetchPageExactFit", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Put(ctx, "chapter", mangashelf.Record{Key: fmt.Sprintf("k%d", i), Version: 1, Data: doc(`{}`)}))
		}
		page, err := store.FetchPage(ctx, "chapter", nil, "", 3)
		require.NoError(t, err)
		assert.Len(t, page.Records, 3)
		assert.Empty(t, page.Next)
	})

	t.Run("FetchPageQuery", func(t *testing.T) {
		store := newStore(t)
		docs := map[string]string{
			"a": `{"manga_id":"m1","name":"Alpha","number":1,"webtoon":true}`,
			"b": `{"manga_id":"m1","name":"Beta","number":2.5,"webtoon":false}`,
			"c": `{"manga_id":"m2","name":"Gamma","number":3,"webtoon":false}`,
			"d": `{"manga_id":"m1","name":"alphabet","owner_id":null}`,
		}
		for k, d := range docs {
			require.NoError(t, store.Put(ctx, "chapter", mangashelf.Record{Key: k, Version: 1, Data: doc(d)}))
		}

		tests := []struct {
			name  string
			query mangashelf.Query
			want  []string
		}{
			{"empty", nil, []string{"a", "b", "c", "d"}},
			{"eq", mangashelf.Where("manga_id", "m1"), []string{"a", "b", "d"}},
			{"conjunction", mangashelf.Where("manga_id", "m1").And("name", "Beta"), []string{"b"}},
			{"not equal", mangashelf.Where("manga_id", "m1").Not("name", "Beta"), []string{"a", "d"}},
			{"contains ignores case", mangashelf.Query{}.Contains("name", "ALPHA"), []string{"a", "d"}},
			{"number text", mangashelf.Where("number", "2.5"), []string{"b"}},
			{"boolean text", mangashelf.Where("webtoon", "true"), []string{"a"}},
			{"missing field is empty", mangashelf.Where("owner_id", ""), []string{"a", "b", "c", "d"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := store.FetchPage(ctx, "chapter", tt.query, "", 10)
				require.NoError(t, err)
				var keys []string
				for _, r := range page.Records {
					keys = append(keys, r.Key)
				}
				assert.Equal(t, tt.want, keys)
			})
		}
	})

	t.Run("FetchPageRejectsBadField", func(t *testing.T) {
		store := newStore(t)
		_, err := store.FetchPage(ctx, "chapter", mangashelf.Where("name'; drop", "x"), "", 10)
		assert.ErrorIs(t, err, mangashelf.ErrValidation)
	})
}
