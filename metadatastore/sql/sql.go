// Package sql provides a metadata store provider backed by a relational
// database. Queries are built with goqu and executed through sqlx; the
// supported drivers are postgres (lib/pq), pgx, mysql and sqlite3.
package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drblury/handlerflow/metadatastore"
)

const (
	// ProviderName is the name used to register this provider.
	ProviderName = "sql"

	// DefaultTable is used when no table name is configured.
	DefaultTable = "handlerflow_metadata"

	keyColumn   = "metadata_key"
	valueColumn = "metadata_value"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// driverDialects maps database/sql driver names to goqu dialects.
var driverDialects = map[string]string{
	"postgres": "postgres",
	"pgx":      "postgres",
	"mysql":    "mysql",
	"sqlite3":  "sqlite3",
}

func init() {
	metadatastore.Register(ProviderName, Build)
}

// Build opens the database named in cfg and optionally creates the table.
func Build(ctx context.Context, cfg metadatastore.Config, logger watermill.LoggerAdapter) (metadatastore.Provider, error) {
	db, err := Open(ctx, cfg.GetSQLDriver(), cfg.GetSQLDSN())
	if err != nil {
		return nil, err
	}

	p, err := New(db, cfg.GetSQLDriver(), WithTable(cfg.GetSQLTable()))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.ownsDB = true

	if cfg.GetSQLAutoMigrate() {
		if err := p.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	logger.Info("Connected metadata store", watermill.LogFields{
		"provider": ProviderName,
		"driver":   cfg.GetSQLDriver(),
		"table":    p.table,
	})
	return p, nil
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if _, ok := driverDialects[driver]; !ok {
		return nil, fmt.Errorf("sql: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sql: ping %s: %w", driver, err)
	}
	return db, nil
}

// Option configures a Provider.
type Option func(*Provider) error

// WithTable stores entries in table. An empty name keeps DefaultTable.
func WithTable(table string) Option {
	return func(p *Provider) error {
		if table == "" {
			return nil
		}
		if !tableNamePattern.MatchString(table) {
			return fmt.Errorf("sql: invalid table name %q", table)
		}
		p.table = table
		return nil
	}
}

// Provider stores metadata in a two-column table keyed by metadata_key.
type Provider struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	name    string
	table   string
	ownsDB  bool
}

// New wraps an open database. driver selects the SQL dialect.
func New(db *sqlx.DB, driver string, opts ...Option) (*Provider, error) {
	dialect, ok := driverDialects[driver]
	if !ok {
		return nil, fmt.Errorf("sql: unsupported driver %q", driver)
	}

	p := &Provider{
		db:      db,
		dialect: goqu.Dialect(dialect),
		name:    dialect,
		table:   DefaultTable,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Migrate creates the metadata table when it does not exist.
func (p *Provider) Migrate(ctx context.Context) error {
	var ddl string
	switch p.name {
	case "mysql":
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s VARCHAR(255) COLLATE utf8mb4_bin NOT NULL PRIMARY KEY,
	%s TEXT NOT NULL
)`, p.table, keyColumn, valueColumn)
	default:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s VARCHAR(255) NOT NULL PRIMARY KEY,
	%s TEXT NOT NULL
)`, p.table, keyColumn, valueColumn)
	}

	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sql: create table %s: %w", p.table, err)
	}
	return nil
}

func (p *Provider) Get(ctx context.Context, key string) (string, bool, error) {
	query, args, err := p.dialect.From(p.table).
		Select(valueColumn).
		Where(goqu.C(keyColumn).Eq(key)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", false, err
	}

	var value string
	err = p.db.GetContext(ctx, &value, query, args...)
	if errors.Is(err, stdsql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (p *Provider) Put(ctx context.Context, key, value string) error {
	for {
		updated, err := p.update(ctx, key, nil, value)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}

		inserted, err := p.insert(ctx, key, value)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}

		// mysql reports zero affected rows when the value is unchanged.
		current, found, err := p.Get(ctx, key)
		if err != nil {
			return err
		}
		if found && current == value {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (p *Provider) CompareAndSet(ctx context.Context, key string, expected *string, value string) (bool, error) {
	if expected == nil {
		return p.insert(ctx, key, value)
	}

	updated, err := p.update(ctx, key, expected, value)
	if err != nil || updated {
		return updated, err
	}
	if *expected != value {
		return false, nil
	}

	current, found, err := p.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return found && current == value, nil
}

func (p *Provider) Remove(ctx context.Context, key string) (string, bool, error) {
	for {
		current, found, err := p.Get(ctx, key)
		if err != nil || !found {
			return "", false, err
		}

		query, args, err := p.dialect.Delete(p.table).
			Where(goqu.Ex{keyColumn: key, valueColumn: current}).
			Prepared(true).
			ToSQL()
		if err != nil {
			return "", false, err
		}

		deleted, err := p.exec(ctx, query, args)
		if err != nil {
			return "", false, err
		}
		if deleted {
			return current, true, nil
		}
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
	}
}

// Close closes the database when the provider opened it.
func (p *Provider) Close() error {
	if !p.ownsDB {
		return nil
	}
	return p.db.Close()
}

func (p *Provider) insert(ctx context.Context, key, value string) (bool, error) {
	query, args, err := p.dialect.Insert(p.table).
		Rows(goqu.Record{keyColumn: key, valueColumn: value}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, err
	}
	return p.exec(ctx, query, args)
}

func (p *Provider) update(ctx context.Context, key string, expected *string, value string) (bool, error) {
	where := goqu.Ex{keyColumn: key}
	if expected != nil {
		where[valueColumn] = *expected
	}

	query, args, err := p.dialect.Update(p.table).
		Set(goqu.Record{valueColumn: value}).
		Where(where).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, err
	}
	return p.exec(ctx, query, args)
}

func (p *Provider) exec(ctx context.Context, query string, args []interface{}) (bool, error) {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
