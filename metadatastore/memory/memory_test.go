package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/handlerflow/metadatastore"
	"github.com/drblury/handlerflow/metadatastore/storetest"
)

func TestProviderContract(t *testing.T) {
	storetest.RunProviderContract(t, func(t *testing.T) metadatastore.Provider {
		return New()
	})
}

func TestProviderRegistered(t *testing.T) {
	assert.True(t, metadatastore.DefaultRegistry.Has(ProviderName))
}

func TestLen(t *testing.T) {
	p := New()
	ctx := context.Background()
	require.NoError(t, p.Put(ctx, "a", "1"))
	require.NoError(t, p.Put(ctx, "b", "2"))
	_, _, err := p.Remove(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 1, p.Len())
}
