// Package sqlite stores gatewaykit state in a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/dbx"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence/sqlite/migrations"
)

// Store is a persistence.Store and persistence.Transactor over SQLite.
type Store struct {
	queries
	db *sql.DB
}

var (
	_ persistence.Store      = (*Store)(nil)
	_ persistence.Transactor = (*Store)(nil)
)

// Open opens the database at dsn and brings its schema up to date. A dsn of
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	// One writer at a time; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	if err := dbx.Migrate(ctx, db, goose.DialectSQLite3, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", common.ErrPersistence, err)
	}
	return &Store{queries: queries{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in one SQLite transaction.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx persistence.Store) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &queries{q: tx})
	})
}

type queries struct {
	q dbx.DBTX
}

func wrap(err error) error {
	return fmt.Errorf("%w: %w", common.ErrPersistence, err)
}

func (s *queries) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func (s *queries) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *queries) Delete(ctx context.Context, key string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrKeyNotFound, key)
	}
	return nil
}

// Prefix matching uses substr rather than LIKE so that '%' and '_' in keys
// are literal.
func (s *queries) DeleteAll(ctx context.Context, prefix string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM kv WHERE substr(key, 1, length(?1)) = ?1`, prefix)
	if err != nil {
		return wrap(err)
	}
	return nil
}

func (s *queries) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT substr(key, length(?1) + 1) FROM kv WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key`, prefix)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrap(err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	return keys, nil
}
