package sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/handlerflow/metadatastore"
	"github.com/drblury/handlerflow/metadatastore/storetest"
)

func sqliteDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "metadata.db") + "?_busy_timeout=5000"
}

func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite3", sqliteDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProviderContract(t *testing.T) {
	storetest.RunProviderContract(t, func(t *testing.T) metadatastore.Provider {
		p, err := New(openSQLite(t), "sqlite3")
		require.NoError(t, err)
		require.NoError(t, p.Migrate(context.Background()))
		return p
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	p, err := New(openSQLite(t), "sqlite3", WithTable("custom_meta"))
	require.NoError(t, err)

	require.NoError(t, p.Migrate(context.Background()))
	require.NoError(t, p.Migrate(context.Background()))

	require.NoError(t, p.Put(context.Background(), "k", "v"))

	var count int
	require.NoError(t, p.db.Get(&count, "SELECT COUNT(*) FROM custom_meta"))
	assert.Equal(t, 1, count)
}

func TestWithTableRejectsInvalidNames(t *testing.T) {
	_, err := New(openSQLite(t), "sqlite3", WithTable("meta; DROP TABLE x"))
	assert.ErrorContains(t, err, "invalid table name")
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(nil, "oracle")
	assert.ErrorContains(t, err, `unsupported driver "oracle"`)

	_, err = Open(context.Background(), "oracle", "")
	assert.ErrorContains(t, err, `unsupported driver "oracle"`)
}

func TestQueriesUseDialectPlaceholders(t *testing.T) {
	p, err := New(nil, "pgx")
	require.NoError(t, err)

	query, args, err := p.dialect.From(p.table).Select(valueColumn).Where(goqu.Ex{keyColumn: "k"}).Prepared(true).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, query, "$1")
	assert.Equal(t, []interface{}{"k"}, args)
}

func TestBuildMigratesAndOwnsDatabase(t *testing.T) {
	cfg := testConfig{dsn: sqliteDSN(t), migrate: true}

	provider, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)

	stored, err := provider.CompareAndSet(context.Background(), "k", nil, "v")
	require.NoError(t, err)
	assert.True(t, stored)

	require.NoError(t, provider.Close())
	assert.Error(t, provider.(*Provider).db.Ping(), "owned database is closed")
}

type testConfig struct {
	dsn     string
	migrate bool
}

func (testConfig) GetMetadataStoreSystem() string { return ProviderName }
func (testConfig) GetRedisAddr() string           { return "" }
func (testConfig) GetRedisUsername() string       { return "" }
func (testConfig) GetRedisPassword() string       { return "" }
func (testConfig) GetRedisDB() int                { return 0 }
func (testConfig) GetRedisKeyPrefix() string      { return "" }
func (testConfig) GetRedisTTL() time.Duration     { return 0 }
func (testConfig) GetSQLDriver() string           { return "sqlite3" }
func (c testConfig) GetSQLDSN() string            { return c.dsn }
func (testConfig) GetSQLTable() string            { return "" }
func (c testConfig) GetSQLAutoMigrate() bool      { return c.migrate }
func (testConfig) GetNATSURL() string             { return "" }
func (testConfig) GetNATSKVBucket() string        { return "" }
