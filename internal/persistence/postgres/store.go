// Package postgres stores gatewaykit state in a Postgres table, for
// deployments that share one database between devices of a fleet.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/dbx"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence/postgres/migrations"
)

// PgxPool is a minimal abstraction over a Postgres connection pool.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	querier
	// BeginTx starts a transaction with the provided options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	// Close shuts down the pool and frees resources.
	Close()
}

// querier is what both a pool and a transaction offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a persistence.Store and persistence.Transactor over Postgres.
type Store struct {
	queries
	pool PgxPool
}

var (
	_ persistence.Store      = (*Store)(nil)
	_ persistence.Transactor = (*Store)(nil)
)

// Open migrates the database at dsn and connects a pool to it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(ctx, dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, wrap(err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool PgxPool) *Store {
	return &Store{queries: queries{q: pool}, pool: pool}
}

// Migrate runs all pending migrations against dsn.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return wrap(err)
	}
	defer db.Close()

	if err := dbx.Migrate(ctx, db, goose.DialectPostgres, migrations.FS); err != nil {
		return fmt.Errorf("%w: migrate: %w", common.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Update runs fn in one transaction, committed when fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx persistence.Store) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrap(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = wrap(cerr)
		}
	}()

	return fn(ctx, &queries{q: tx})
}

func wrap(err error) error {
	return fmt.Errorf("%w: %w", common.ErrPersistence, err)
}

type queries struct {
	q querier
}

const (
	upsertSQL    = `INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	selectSQL    = `SELECT value FROM kv WHERE key = $1`
	deleteSQL    = `DELETE FROM kv WHERE key = $1`
	deleteAllSQL = `DELETE FROM kv WHERE starts_with(key, $1)`
	listSQL      = `SELECT substr(key, length($1) + 1) FROM kv WHERE starts_with(key, $1) ORDER BY key COLLATE "C"`
)

func (s *queries) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.q.Exec(ctx, upsertSQL, key, value); err != nil {
		return wrap(err)
	}
	return nil
}

func (s *queries) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.q.QueryRow(ctx, selectSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
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
	tag, err := s.q.Exec(ctx, deleteSQL, key)
	if err != nil {
		return wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrKeyNotFound, key)
	}
	return nil
}

func (s *queries) DeleteAll(ctx context.Context, prefix string) error {
	if _, err := s.q.Exec(ctx, deleteAllSQL, prefix); err != nil {
		return wrap(err)
	}
	return nil
}

func (s *queries) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.q.Query(ctx, listSQL, prefix)
	if err != nil {
		return nil, wrap(err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap(err)
	}
	if keys == nil {
		keys = make([]string, 0)
	}
	return keys, nil
}
