package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence/storetest"
)

func newStore(t *testing.T) persistence.Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gatewaykit.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestStore_UpdatePassesErrorsThrough(t *testing.T) {
	s := newStore(t)
	err := s.(*Store).Update(context.Background(), func(ctx context.Context, tx persistence.Store) error {
		return tx.Delete(ctx, "absent")
	})
	require.ErrorIs(t, err, persistence.ErrKeyNotFound)
}

func TestStore_ValueOutlivesTransaction(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("value")))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("other")))
	assert.Equal(t, []byte("value"), v)
}
