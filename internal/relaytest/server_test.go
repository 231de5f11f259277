package relaytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dmitrijs2005/gatewaykit/internal/gateway"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, "127.0.0.1:0")
	}()

	select {
	case err := <-done:
		t.Fatalf("relay exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	err := New().Run(context.Background(), "127.0.0.1:99999")
	require.Error(t, err)
}

func TestEntryPointInterceptor(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-relay-entry-point", gateway.EntryPointRegistration))

	var seen string
	_, err := entryPointInterceptor(ctx, nil, nil, func(ctx context.Context, _ any) (any, error) {
		seen = entryPointFrom(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.EntryPointRegistration, seen)
	assert.Empty(t, entryPointFrom(context.Background()))
}

func TestPreRegistrationIssuesOneShotAuthorization(t *testing.T) {
	r := New()
	ctx := context.WithValue(context.Background(), entryPointKey, gateway.EntryPointRegistration)

	_, err := r.Ping(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	_, err = r.Request(ctx, wrapperspb.Bytes([]byte("not cbor")))
	require.Error(t, err)

	req, err := wire.Marshal(wire.PreRegistrationRequest{PublicKey: []byte("not a key")})
	require.NoError(t, err)
	resp, err := r.Request(ctx, wrapperspb.Bytes(req))
	require.NoError(t, err)
	var env wire.ReplyEnvelope
	require.NoError(t, wire.Unmarshal(resp.GetValue(), &env))
	assert.Equal(t, wire.ReplyError, env.Kind)

	assert.Equal(t, []string{gateway.EntryPointRegistration}, r.EntryPoints())
}

func TestAckUnknownParcel(t *testing.T) {
	r := New()
	id := r.Enqueue("0abc", []byte("p"))

	_, err := r.AckParcel(context.Background(), wrapperspb.String("nope"))
	require.Error(t, err)
	_, err = r.AckParcel(context.Background(), wrapperspb.String(id))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, r.Acked())
	assert.Empty(t, r.Pending("0abc"))
}
