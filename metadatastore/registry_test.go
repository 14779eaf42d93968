package metadatastore

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConfig struct {
	system string
}

func (c stubConfig) GetMetadataStoreSystem() string { return c.system }
func (stubConfig) GetRedisAddr() string             { return "" }
func (stubConfig) GetRedisUsername() string         { return "" }
func (stubConfig) GetRedisPassword() string         { return "" }
func (stubConfig) GetRedisDB() int                  { return 0 }
func (stubConfig) GetRedisKeyPrefix() string        { return "" }
func (stubConfig) GetRedisTTL() time.Duration       { return 0 }
func (stubConfig) GetSQLDriver() string             { return "" }
func (stubConfig) GetSQLDSN() string                { return "" }
func (stubConfig) GetSQLTable() string              { return "" }
func (stubConfig) GetSQLAutoMigrate() bool          { return false }
func (stubConfig) GetNATSURL() string               { return "" }
func (stubConfig) GetNATSKVBucket() string          { return "" }

func TestRegistryBuildsRegisteredProvider(t *testing.T) {
	r := NewRegistry()
	provider := newMapProvider()
	r.Register("map", func(context.Context, Config, watermill.LoggerAdapter) (Provider, error) {
		return provider, nil
	})

	built, err := r.Build(context.Background(), stubConfig{system: "map"}, nil)
	require.NoError(t, err)
	assert.Same(t, provider, built)

	store, err := r.Open(context.Background(), stubConfig{system: "map"}, nil)
	require.NoError(t, err)
	assert.Same(t, provider, store.Provider())
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	r := NewRegistry()
	r.Register("b", nil)
	r.Register("a", nil)

	_, err := r.Build(context.Background(), stubConfig{system: "nope"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
	assert.Contains(t, err.Error(), "[a b]")
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistryRequiresConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	assert.Error(t, err)
}
