// Package storetest holds the behaviour every persistence.Store backend must
// share, run by each backend's tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
)

// Run exercises the Store contract against stores produced by newStore.
// Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) persistence.Store) {
	t.Run("SetThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k1", []byte{0x01, 0x02}))
		v, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, []byte{0x01, 0x02}, v)
	})

	t.Run("GetAbsentIsNilNil", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Get(context.Background(), "absent")
		require.NoError(t, err)
		require.Nil(t, v)
	})

	t.Run("EmptyValueIsPresent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "empty", []byte{}))
		v, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Len(t, v, 0)
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", []byte("old")))
		require.NoError(t, s.Set(ctx, "k", []byte("new")))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("new"), v)
	})

	t.Run("DeleteRemovesAndReportsAbsent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "k", []byte("v")))
		require.NoError(t, s.Delete(ctx, "k"))

		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Nil(t, v)

		require.ErrorIs(t, s.Delete(ctx, "k"), persistence.ErrKeyNotFound)
	})

	t.Run("ListStripsPrefixAndSorts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{"a_2", "a_1", "ab_1", "b_1"} {
			require.NoError(t, s.Set(ctx, k, []byte(k)))
		}

		keys, err := s.List(ctx, "a_")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, keys)

		keys, err = s.List(ctx, "c_")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("DeleteAllScopedToPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{"x_1", "x_2", "xy_1", "y_1"} {
			require.NoError(t, s.Set(ctx, k, []byte(k)))
		}
		require.NoError(t, s.DeleteAll(ctx, "x_"))

		keys, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"xy_1", "y_1"}, keys)
	})

	t.Run("PrefixWithLikeMetacharacters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "p%_1", []byte("a")))
		require.NoError(t, s.Set(ctx, "pz_1", []byte("b")))

		keys, err := s.List(ctx, "p%_")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, keys)
	})

	t.Run("AtomicAppliesAll", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		err := persistence.Atomic(ctx, s, func(ctx context.Context, tx persistence.Store) error {
			if err := tx.Set(ctx, "t_1", []byte("1")); err != nil {
				return err
			}
			return tx.Set(ctx, "t_2", []byte("2"))
		})
		require.NoError(t, err)
		keys, err := s.List(ctx, "t_")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, keys)
	})

	if _, ok := newStore(t).(persistence.Transactor); ok {
		t.Run("AtomicRollsBack", func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			err := persistence.Atomic(ctx, s, func(ctx context.Context, tx persistence.Store) error {
				require.NoError(t, tx.Set(ctx, "r_1", []byte("1")))
				return assert.AnError
			})
			require.ErrorIs(t, err, assert.AnError)
			v, err := s.Get(ctx, "r_1")
			require.NoError(t, err)
			require.Nil(t, v)
		})
	}
}
