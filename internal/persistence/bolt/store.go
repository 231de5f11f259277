// Package bolt stores gatewaykit state in a bbolt file.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
)

var bucketName = []byte("gatewaykit")

// Store is a persistence.Store and persistence.Transactor over one bbolt
// bucket.
type Store struct {
	db *bolt.DB
}

var (
	_ persistence.Store      = (*Store)(nil)
	_ persistence.Transactor = (*Store)(nil)
)

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) view(fn func(b *bolt.Bucket) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
	return wrap(err)
}

func (s *Store) update(fn func(b *bolt.Bucket) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketName))
	})
	return wrap(err)
}

// wrap marks bbolt failures as persistence errors, leaving the store's own
// sentinel errors alone.
func wrap(err error) error {
	if err == nil || isSentinel(err) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrPersistence, err)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.update(func(b *bolt.Bucket) error { return bucket{b}.Set(ctx, key, value) })
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.view(func(b *bolt.Bucket) error {
		var err error
		v, err = bucket{b}.Get(ctx, key)
		return err
	})
	return v, err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.update(func(b *bolt.Bucket) error { return bucket{b}.Delete(ctx, key) })
}

func (s *Store) DeleteAll(ctx context.Context, prefix string) error {
	return s.update(func(b *bolt.Bucket) error { return bucket{b}.DeleteAll(ctx, prefix) })
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.view(func(b *bolt.Bucket) error {
		var err error
		keys, err = bucket{b}.List(ctx, prefix)
		return err
	})
	return keys, err
}

// Update runs fn in one read-write bbolt transaction. Errors from fn are
// returned as they are.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx persistence.Store) error) error {
	var fnErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		fnErr = fn(ctx, bucket{tx.Bucket(bucketName)})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return wrap(err)
}

// bucket is the Store view of a bucket inside an open transaction.
type bucket struct {
	b *bolt.Bucket
}

func (b bucket) Set(_ context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return b.b.Put([]byte(key), value)
}

func (b bucket) Get(_ context.Context, key string) ([]byte, error) {
	k, v := b.b.Cursor().Seek([]byte(key))
	if k == nil || !bytes.Equal(k, []byte(key)) {
		return nil, nil
	}
	// Values are only valid inside the transaction.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b bucket) Delete(_ context.Context, key string) error {
	k, _ := b.b.Cursor().Seek([]byte(key))
	if k == nil || !bytes.Equal(k, []byte(key)) {
		return fmt.Errorf("%w: %s", persistence.ErrKeyNotFound, key)
	}
	return b.b.Delete([]byte(key))
}

func (b bucket) DeleteAll(_ context.Context, prefix string) error {
	keys := b.scan(prefix)
	for _, k := range keys {
		if err := b.b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b bucket) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	for _, k := range b.scan(prefix) {
		keys = append(keys, string(k[len(prefix):]))
	}
	return keys, nil
}

func (b bucket) scan(prefix string) [][]byte {
	var keys [][]byte
	p := []byte(prefix)
	c := b.b.Cursor()
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		keys = append(keys, slices.Clone(k))
	}
	return keys
}

func isSentinel(err error) bool {
	return errors.Is(err, persistence.ErrKeyNotFound) || errors.Is(err, common.ErrPersistence)
}
