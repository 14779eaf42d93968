package metadatastore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
)

type mapProvider struct {
	mu      sync.Mutex
	entries map[string]string
	failing error
	closed  bool

	// dropOnce simulates a remove racing between a failed insert and the read-back.
	dropOnce bool
}

func newMapProvider() *mapProvider {
	return &mapProvider{entries: map[string]string{}}
}

func (p *mapProvider) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return "", false, p.failing
	}
	if p.dropOnce {
		p.dropOnce = false
		delete(p.entries, key)
	}
	v, ok := p.entries[key]
	return v, ok, nil
}

func (p *mapProvider) Put(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return p.failing
	}
	p.entries[key] = value
	return nil
}

func (p *mapProvider) CompareAndSet(_ context.Context, key string, expected *string, value string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return false, p.failing
	}
	current, ok := p.entries[key]
	if expected == nil {
		if ok {
			return false, nil
		}
	} else if !ok || current != *expected {
		return false, nil
	}
	p.entries[key] = value
	return true, nil
}

func (p *mapProvider) Remove(_ context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return "", false, p.failing
	}
	v, ok := p.entries[key]
	delete(p.entries, key)
	return v, ok, nil
}

func (p *mapProvider) Close() error {
	p.closed = true
	return nil
}

func strPtr(s string) *string { return &s }

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, errspkg.ErrProviderRequired)
}

func TestNullableOperationsRejectNilKey(t *testing.T) {
	store, err := New(newMapProvider(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.GetNullable(ctx, nil)
	assert.EqualError(t, err, "'key' must not be null.")

	err = store.PutNullable(ctx, nil, strPtr("v"))
	assert.EqualError(t, err, "'key' must not be null.")

	err = store.PutNullable(ctx, nil, nil)
	assert.EqualError(t, err, "'key' must not be null.", "key is checked before value")

	_, _, err = store.PutIfAbsentNullable(ctx, nil, strPtr("v"))
	assert.EqualError(t, err, "'key' must not be null.")

	_, _, err = store.RemoveNullable(ctx, nil)
	assert.EqualError(t, err, "'key' must not be null.")

	var invalid *errspkg.InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
}

func TestNullableOperationsRejectNilValue(t *testing.T) {
	provider := newMapProvider()
	store, err := New(provider, nil)
	require.NoError(t, err)
	ctx := context.Background()

	err = store.PutNullable(ctx, strPtr("k"), nil)
	assert.EqualError(t, err, "'value' must not be null.")

	_, _, err = store.PutIfAbsentNullable(ctx, strPtr("k"), nil)
	assert.EqualError(t, err, "'value' must not be null.")

	assert.Empty(t, provider.entries, "rejected calls never reach the provider")
}

func TestNullableOperationsDelegate(t *testing.T) {
	store, err := New(newMapProvider(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.PutNullable(ctx, strPtr("k"), strPtr("v")))

	value, found, err := store.GetNullable(ctx, strPtr("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	previous, found, err := store.PutIfAbsentNullable(ctx, strPtr("k"), strPtr("other"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", previous)

	previous, found, err = store.RemoveNullable(ctx, strPtr("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", previous)
}

func TestPutIfAbsentRetriesWhenWinnerVanishes(t *testing.T) {
	provider := newMapProvider()
	provider.entries["k"] = "stale"
	provider.dropOnce = true

	store, err := New(provider, nil)
	require.NoError(t, err)

	previous, found, err := store.PutIfAbsent(context.Background(), "k", "fresh")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, previous)
	assert.Equal(t, "fresh", provider.entries["k"])
}

func TestProviderErrorsAreWrapped(t *testing.T) {
	boom := errors.New("backend down")
	provider := newMapProvider()
	provider.failing = boom

	store, err := New(provider, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `metadatastore: get "k"`)

	assert.ErrorIs(t, store.Put(ctx, "k", "v"), boom)

	_, _, err = store.PutIfAbsent(ctx, "k", "v")
	assert.ErrorIs(t, err, boom)

	_, err = store.Replace(ctx, "k", "a", "b")
	assert.ErrorIs(t, err, boom)

	_, _, err = store.Remove(ctx, "k")
	assert.ErrorIs(t, err, boom)
}

func TestCloseClosesProvider(t *testing.T) {
	provider := newMapProvider()
	store, err := New(provider, nil)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.True(t, provider.closed)
	assert.Same(t, provider, store.Provider())
}
