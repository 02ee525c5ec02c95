// Package storagetest holds the behavioural test suite every storage.Store
// backend must pass.
package storagetest

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funstudy/funstudy/storage"
)

// Run exercises store against the storage.Store contract. newStore must
// return an empty store; table names are prefixed so a shared remote backend
// can be reused across runs.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CreateTable", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		name := tableName(t, "Create")

		require.NoError(t, s.CreateTable(ctx, storage.TableSpec{Name: name, KeyAttribute: "id"}))
		ok, err := s.TableExists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok)

		err = s.CreateTable(ctx, storage.TableSpec{Name: name, KeyAttribute: "id"})
		assert.True(t, errors.Is(err, storage.ErrTableExists), "got %v", err)

		ok, err = s.TableExists(ctx, name+"_missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ListTables", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		a := tableName(t, "A_Questions")
		b := tableName(t, "B_Questions")
		require.NoError(t, s.CreateTable(ctx, storage.TableSpec{Name: b, KeyAttribute: "id"}))
		require.NoError(t, s.CreateTable(ctx, storage.TableSpec{Name: a, KeyAttribute: "id"}))

		names, err := s.ListTables(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, a)
		assert.Contains(t, names, b)
		assert.True(t, slices.IsSorted(names))
	})

	t.Run("PutGet", func(t *testing.T) {
		s, name := withTable(t, newStore, "PutGet")
		ctx := t.Context()

		item := storage.Item{
			"id":      "q1",
			"text":    "2+2?",
			"points":  10,
			"options": []any{"3", "4"},
			"meta":    map[string]any{"difficulty": "Easy"},
		}
		require.NoError(t, s.Put(ctx, name, item))

		got, err := s.Get(ctx, name, "q1")
		require.NoError(t, err)
		assert.Equal(t, "2+2?", got["text"])
		assert.Equal(t, float64(10), got["points"])
		assert.Equal(t, []any{"3", "4"}, got["options"])
		assert.Equal(t, map[string]any{"difficulty": "Easy"}, got["meta"])

		// Returned items are copies.
		got["text"] = "changed"
		again, err := s.Get(ctx, name, "q1")
		require.NoError(t, err)
		assert.Equal(t, "2+2?", again["text"])

		require.NoError(t, s.Put(ctx, name, storage.Item{"id": "q1", "text": "replaced"}))
		got, err = s.Get(ctx, name, "q1")
		require.NoError(t, err)
		assert.Equal(t, "replaced", got["text"])
		assert.NotContains(t, got, "points")
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s, name := withTable(t, newStore, "GetNotFound")
		ctx := t.Context()

		_, err := s.Get(ctx, name, "nope")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		_, err = s.Get(ctx, name+"_missing", "nope")
		assert.True(t, errors.Is(err, storage.ErrTableNotFound), "got %v", err)
	})

	t.Run("PutMissingKey", func(t *testing.T) {
		s, name := withTable(t, newStore, "PutMissingKey")
		err := s.Put(t.Context(), name, storage.Item{"text": "no key"})
		assert.True(t, errors.Is(err, storage.ErrMissingKey), "got %v", err)
	})

	t.Run("PutIfAbsent", func(t *testing.T) {
		s, name := withTable(t, newStore, "PutIfAbsent")
		ctx := t.Context()

		require.NoError(t, s.PutIfAbsent(ctx, name, storage.Item{"id": "a1", "n": 1}))
		err := s.PutIfAbsent(ctx, name, storage.Item{"id": "a1", "n": 2})
		assert.True(t, errors.Is(err, storage.ErrConditionFailed), "got %v", err)

		got, err := s.Get(ctx, name, "a1")
		require.NoError(t, err)
		assert.Equal(t, float64(1), got["n"])
	})

	t.Run("Update", func(t *testing.T) {
		s, name := withTable(t, newStore, "Update")
		ctx := t.Context()

		created, err := s.Update(ctx, name, "u1", storage.Item{"email": "a@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "u1", created["id"])
		assert.Equal(t, "a@example.com", created["email"])

		merged, err := s.Update(ctx, name, "u1", storage.Item{"gradeLevel": "Grade3"})
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", merged["email"])
		assert.Equal(t, "Grade3", merged["gradeLevel"])

		got, err := s.Get(ctx, name, "u1")
		require.NoError(t, err)
		assert.Equal(t, merged, got)
	})

	t.Run("Delete", func(t *testing.T) {
		s, name := withTable(t, newStore, "Delete")
		ctx := t.Context()

		require.NoError(t, s.Put(ctx, name, storage.Item{"id": "d1"}))
		require.NoError(t, s.Delete(ctx, name, "d1"))
		_, err := s.Get(ctx, name, "d1")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		err = s.Delete(ctx, name, "d1")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("Scan", func(t *testing.T) {
		s, name := withTable(t, newStore, "Scan")
		ctx := t.Context()

		for i := range 5 {
			owner := "alice"
			if i%2 == 1 {
				owner = "bob"
			}
			require.NoError(t, s.Put(ctx, name, storage.Item{"id": fmt.Sprintf("s%d", i), "userId": owner}))
		}

		all, err := s.Scan(ctx, name, nil)
		require.NoError(t, err)
		assert.Len(t, all, 5)

		alice, err := s.Scan(ctx, name, &storage.Filter{Attribute: "userId", Equals: "alice"})
		require.NoError(t, err)
		assert.Len(t, alice, 3)
		for _, item := range alice {
			assert.Equal(t, "alice", item["userId"])
		}

		none, err := s.Scan(ctx, name, &storage.Filter{Attribute: "userId", Equals: "Alice"})
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = s.Scan(ctx, name+"_missing", nil)
		assert.True(t, errors.Is(err, storage.ErrTableNotFound), "got %v", err)
	})

	t.Run("Batch", func(t *testing.T) {
		s, name := withTable(t, newStore, "Batch")
		ctx := t.Context()

		items := make([]storage.Item, 0, 40)
		for i := range 40 {
			items = append(items, storage.Item{"id": fmt.Sprintf("b%02d", i), "n": i})
		}
		require.NoError(t, s.BatchPut(ctx, name, items))

		got, err := s.BatchGet(ctx, name, []string{"b00", "b39", "missing", "b17"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		var keys []string
		for _, item := range got {
			keys = append(keys, item["id"].(string))
		}
		slices.Sort(keys)
		assert.Equal(t, []string{"b00", "b17", "b39"}, keys)

		empty, err := s.BatchGet(ctx, name, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

var runID = time.Now().UnixNano()

func withTable(t *testing.T, newStore func(t *testing.T) storage.Store, suffix string) (storage.Store, string) {
	t.Helper()
	s := newStore(t)
	name := tableName(t, suffix)
	require.NoError(t, s.CreateTable(t.Context(), storage.TableSpec{Name: name, KeyAttribute: "id"}))
	return s, name
}

// tableName makes names unique per test run so remote backends that outlive
// the test process do not collide.
func tableName(t *testing.T, suffix string) string {
	t.Helper()
	return fmt.Sprintf("t%d_%s", runID, suffix)
}
