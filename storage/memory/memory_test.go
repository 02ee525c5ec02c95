package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funstudy/funstudy/storage"
	"github.com/funstudy/funstudy/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return NewStore() })
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	s := NewStore()
	ctx := t.Context()
	require.NoError(t, s.CreateTable(ctx, storage.TableSpec{Name: "Users", KeyAttribute: "userId"}))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "Users", "u1", storage.Item{"field" + string(rune('a'+i)): i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "Users", "u1")
	require.NoError(t, err)
	// userId plus one attribute per writer.
	assert.Len(t, got, 21)
}

func TestMemoryStoreBatchPutIsAllOrNothing(t *testing.T) {
	s := NewStore()
	ctx := t.Context()
	require.NoError(t, s.CreateTable(ctx, storage.TableSpec{Name: "T", KeyAttribute: "id"}))

	err := s.BatchPut(ctx, "T", []storage.Item{{"id": "ok"}, {"noKey": true}})
	require.ErrorIs(t, err, storage.ErrMissingKey)

	all, err := s.Scan(ctx, "T", nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}
