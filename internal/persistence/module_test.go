package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `cbor:"1,keyasint"`
	Count int    `cbor:"2,keyasint"`
}

func TestModule_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewModule(NewMemoryStore(), "record_", CBOR[record]())

	require.NoError(t, m.Set(ctx, "a", record{Name: "alpha", Count: 3}))

	got, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record{Name: "alpha", Count: 3}, got)

	_, ok, err = m.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestModule_MalformedValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewModule(store, "record_", CBOR[record]())

	require.NoError(t, store.Set(ctx, "record_bad", []byte{0xff, 0x00, 0x13}))

	_, ok, err := m.Get(ctx, "bad")
	require.True(t, ok)
	require.ErrorIs(t, err, ErrMalformedValue)
}

func TestModule_PrefixesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := NewModule(store, "a_", Bytes())
	ab := NewModule(store, "ab_", Bytes())

	require.NoError(t, a.Set(ctx, "1", []byte("a")))
	require.NoError(t, ab.Set(ctx, "1", []byte("ab")))

	keys, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, keys)

	require.NoError(t, a.DeleteAll(ctx))
	v, ok, err := ab.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ab"), v)
}

func TestModule_DeleteWithPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewModule(NewMemoryStore(), "pair_", Bytes())
	for _, k := range []string{"fp1_tp1", "fp1_tp2", "fp2_tp1"} {
		require.NoError(t, m.Set(ctx, k, []byte(k)))
	}

	keys, err := m.ListWithPrefix(ctx, "fp1_")
	require.NoError(t, err)
	assert.Equal(t, []string{"fp1_tp1", "fp1_tp2"}, keys)

	require.NoError(t, m.DeleteWithPrefix(ctx, "fp1_"))
	keys, err = m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp2_tp1"}, keys)
}

func TestModule_DeleteAbsent(t *testing.T) {
	m := NewModule(NewMemoryStore(), "x_", Bytes())
	err := m.Delete(context.Background(), "nope")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.NoError(t, IgnoreNotFound(err))
}

func TestSingleValueModule(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := NewSingleValueModule(store, "gateway_certificate_", Bytes())

	_, ok, err := s.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, []byte("c1")))
	require.NoError(t, s.Set(ctx, []byte("c2")))
	v, ok, err := s.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("c2"), v)

	raw, err := store.Get(ctx, "gateway_certificate_"+SingleValueKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("c2"), raw)

	require.NoError(t, s.Delete(ctx))
	_, ok, err = s.Get(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAtomic_MemoryRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewModule(store, "k_", Bytes())

	err := Atomic(ctx, store, func(ctx context.Context, tx Store) error {
		require.NoError(t, m.On(tx).Set(ctx, "1", []byte("x")))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, ok, err := m.Get(ctx, "1")
	require.NoError(t, err)
	require.False(t, ok)
}
