// Package storetest holds a behavioural test suite that every metadata store
// provider must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/handlerflow/metadatastore"
)

// Factory creates a fresh, empty provider for one subtest.
type Factory func(t *testing.T) metadatastore.Provider

// RunProviderContract exercises newProvider through a Store.
func RunProviderContract(t *testing.T, newProvider Factory) {
	t.Helper()

	open := func(t *testing.T) *metadatastore.Store {
		t.Helper()
		store, err := metadatastore.New(newProvider(t), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	t.Run("GetMissing", func(t *testing.T) {
		store := open(t)
		value, found, err := store.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, value)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "a", "1"))
		require.NoError(t, store.Put(ctx, "a", "2"))

		value, found, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "2", value)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "empty", ""))

		value, found, err := store.Get(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, value)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "", "x"))

		value, found, err := store.Get(ctx, "")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "x", value)

		removed, found, err := store.Remove(ctx, "")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "x", removed)
	})

	t.Run("PutIfAbsent", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		previous, found, err := store.PutIfAbsent(ctx, "k", "first")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, previous)

		previous, found, err = store.PutIfAbsent(ctx, "k", "second")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "first", previous)

		value, _, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "first", value)
	})

	t.Run("Replace", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		replaced, err := store.Replace(ctx, "r", "x", "y")
		require.NoError(t, err)
		assert.False(t, replaced, "absent key is never replaced")

		require.NoError(t, store.Put(ctx, "r", "x"))

		replaced, err = store.Replace(ctx, "r", "wrong", "y")
		require.NoError(t, err)
		assert.False(t, replaced)

		replaced, err = store.Replace(ctx, "r", "x", "y")
		require.NoError(t, err)
		assert.True(t, replaced)

		replaced, err = store.Replace(ctx, "r", "y", "y")
		require.NoError(t, err)
		assert.True(t, replaced, "replacing with an identical value succeeds")

		value, _, err := store.Get(ctx, "r")
		require.NoError(t, err)
		assert.Equal(t, "y", value)
	})

	t.Run("Remove", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "gone", "v"))

		previous, found, err := store.Remove(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", previous)

		previous, found, err = store.Remove(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, previous)

		_, found, err = store.Get(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("KeysAreCaseSensitive", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "Key", "upper"))
		require.NoError(t, store.Put(ctx, "key", "lower"))

		value, _, err := store.Get(ctx, "Key")
		require.NoError(t, err)
		assert.Equal(t, "upper", value)
	})

	t.Run("ArbitraryKeyCharacters", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		key := "orders/42 käse*?>"
		require.NoError(t, store.Put(ctx, key, "ok"))

		value, found, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "ok", value)
	})

	t.Run("ConcurrentPutIfAbsentHasOneWinner", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		const workers = 8

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
			seen    = make([]string, workers)
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				previous, found, err := store.PutIfAbsent(ctx, "race", fmt.Sprintf("w%d", i))
				if !assert.NoError(t, err) {
					return
				}
				if !found {
					winners.Add(1)
					seen[i] = fmt.Sprintf("w%d", i)
					return
				}
				seen[i] = previous
			}(i)
		}
		wg.Wait()

		require.Equal(t, int32(1), winners.Load())
		stored, _, err := store.Get(ctx, "race")
		require.NoError(t, err)
		for _, v := range seen {
			assert.Equal(t, stored, v)
		}
	})

	t.Run("ConcurrentRemoveHasOneWinner", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "shared", "v"))

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, found, err := store.Remove(ctx, "shared")
				if assert.NoError(t, err) && found {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load())
	})
}
