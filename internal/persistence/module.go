package persistence

import (
	"context"
	"fmt"
)

// Module is a typed namespace of a Store: every key it touches is prefixed
// with its prefix, and values pass through its Serializer.
type Module[T any] struct {
	store  Store
	prefix string
	ser    Serializer[T]
}

func NewModule[T any](store Store, prefix string, ser Serializer[T]) *Module[T] {
	return &Module[T]{store: store, prefix: prefix, ser: ser}
}

// Prefix returns the namespace prefix of the module.
func (m *Module[T]) Prefix() string {
	return m.prefix
}

// On returns a copy of the module bound to another store, typically the
// transactional Store passed to Atomic.
func (m *Module[T]) On(store Store) *Module[T] {
	return &Module[T]{store: store, prefix: m.prefix, ser: m.ser}
}

func (m *Module[T]) Set(ctx context.Context, key string, v T) error {
	data, err := m.ser.Serialize(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s%s: %w", m.prefix, key, err)
	}
	return m.store.Set(ctx, m.prefix+key, data)
}

// Get returns the value for key and whether it was present. A value that
// cannot be decoded yields an ErrMalformedValue error.
func (m *Module[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := m.store.Get(ctx, m.prefix+key)
	if err != nil {
		return zero, false, err
	}
	if data == nil {
		return zero, false, nil
	}
	v, err := m.ser.Deserialize(data)
	if err != nil {
		return zero, true, fmt.Errorf("failed to decode %s%s: %w", m.prefix, key, err)
	}
	return v, true, nil
}

func (m *Module[T]) Delete(ctx context.Context, key string) error {
	return m.store.Delete(ctx, m.prefix+key)
}

// DeleteAll removes every entry of the module.
func (m *Module[T]) DeleteAll(ctx context.Context) error {
	return m.store.DeleteAll(ctx, m.prefix)
}

// DeleteWithPrefix removes the entries whose key (without the module
// prefix) starts with keyPrefix.
func (m *Module[T]) DeleteWithPrefix(ctx context.Context, keyPrefix string) error {
	return m.store.DeleteAll(ctx, m.prefix+keyPrefix)
}

// List returns the keys of the module without its prefix.
func (m *Module[T]) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx, m.prefix)
}

// ListWithPrefix returns the module keys starting with keyPrefix.
func (m *Module[T]) ListWithPrefix(ctx context.Context, keyPrefix string) ([]string, error) {
	keys, err := m.store.List(ctx, m.prefix+keyPrefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = keyPrefix + k
	}
	return keys, nil
}

// SingleValueKey is the sentinel key of single-valued modules.
const SingleValueKey = "current"

// SingleValueModule stores at most one value under its prefix.
type SingleValueModule[T any] struct {
	m *Module[T]
}

func NewSingleValueModule[T any](store Store, prefix string, ser Serializer[T]) *SingleValueModule[T] {
	return &SingleValueModule[T]{m: NewModule(store, prefix, ser)}
}

func (s *SingleValueModule[T]) On(store Store) *SingleValueModule[T] {
	return &SingleValueModule[T]{m: s.m.On(store)}
}

func (s *SingleValueModule[T]) Set(ctx context.Context, v T) error {
	return s.m.Set(ctx, SingleValueKey, v)
}

func (s *SingleValueModule[T]) Get(ctx context.Context) (T, bool, error) {
	return s.m.Get(ctx, SingleValueKey)
}

func (s *SingleValueModule[T]) Delete(ctx context.Context) error {
	return s.m.Delete(ctx, SingleValueKey)
}
