// Package persistence is the typed, prefix-keyed storage abstraction behind
// endpoints, certificates, session keys and channel links.
//
// A Store is a flat byte-oriented key/value space. Module and
// SingleValueModule layer a key prefix and a Serializer on top of it so
// every kind of record lives in its own namespace of the same Store.
package persistence

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Delete for an absent key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrMalformedValue is returned when a stored value fails to decode.
	ErrMalformedValue = errors.New("malformed stored value")
)

// Store is the contract every storage backend implements. I/O failures are
// wrapped with common.ErrPersistence.
type Store interface {
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Get returns (nil, nil) when key is absent and a non-nil slice
	// otherwise, even for an empty stored value.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key, failing with ErrKeyNotFound when absent.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every key starting with prefix.
	DeleteAll(ctx context.Context, prefix string) error

	// List returns, sorted, every key starting with prefix with the prefix
	// stripped.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Transactor is implemented by stores that can apply several writes
// atomically. The Store handed to fn is only valid during the call.
type Transactor interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Atomic runs fn inside a transaction when s supports one and directly
// against s otherwise.
func Atomic(ctx context.Context, s Store, fn func(ctx context.Context, tx Store) error) error {
	if t, ok := s.(Transactor); ok {
		return t.Update(ctx, fn)
	}
	return fn(ctx, s)
}

// IgnoreNotFound maps ErrKeyNotFound to nil.
func IgnoreNotFound(err error) error {
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	return err
}
