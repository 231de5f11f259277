// Package endpointstest wires an endpoint repository against an in-memory
// store and a fake gateway for tests of the packages built on top of it.
package endpointstest

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatewaykit/internal/channel"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/pki/pkitest"
	"github.com/dmitrijs2005/gatewaykit/internal/serial"
)

// Registrar registers keys by certifying them with a test CA.
type Registrar struct {
	CA       *pkitest.CA
	Clock    clock.Clock
	Validity time.Duration
	Err      error
	Calls    int
}

func (r *Registrar) RegisterEndpoint(_ context.Context, key ed25519.PrivateKey) (*endpoints.Registration, error) {
	r.Calls++
	if r.Err != nil {
		return nil, r.Err
	}
	validity := r.Validity
	if validity == 0 {
		validity = 180 * 24 * time.Hour
	}
	c, err := r.CA.Issue(key.Public().(ed25519.PublicKey), r.Clock.Now(), validity)
	if err != nil {
		return nil, err
	}
	return &endpoints.Registration{IdentityCertificate: c, GatewayCertificate: r.CA.Certificate}, nil
}

// Env is one device: its store, repository and gateway.
type Env struct {
	Store     *persistence.MemoryStore
	Exec      *serial.Executor
	Channels  *channel.Manager
	Repo      *endpoints.Repository
	Clock     *clock.Mock
	Registrar *Registrar
}

// NewEnv builds an Env whose mock clock shows now. Envs built with the same
// clock share it.
func NewEnv(t testing.TB, clk *clock.Mock) *Env {
	t.Helper()
	store := persistence.NewMemoryStore()
	exec := serial.New()
	t.Cleanup(exec.Halt)
	channels := channel.NewManager(store, exec, logging.Nop())
	return &Env{
		Store:     store,
		Exec:      exec,
		Channels:  channels,
		Repo:      endpoints.NewRepository(store, exec, channels, clk, logging.Nop()),
		Clock:     clk,
		Registrar: &Registrar{CA: pkitest.NewCA(clk.Now()), Clock: clk},
	}
}

// Register creates a first-party endpoint.
func (e *Env) Register(t testing.TB) *endpoints.FirstPartyEndpoint {
	t.Helper()
	fp, err := e.Repo.Register(context.Background(), e.Registrar)
	require.NoError(t, err)
	return fp
}

// Authorize makes fp (in e) reachable by peer (in other): fp issues a
// delegation to peer, which other imports.
func (e *Env) Authorize(t testing.TB, fp *endpoints.FirstPartyEndpoint, other *Env, peer *endpoints.FirstPartyEndpoint) *endpoints.PrivateThirdPartyEndpoint {
	t.Helper()
	ctx := context.Background()
	peerDER, err := pki.MarshalPublicKey(peer.PublicKey())
	require.NoError(t, err)
	bundle, err := e.Repo.IssueAuthorization(ctx, fp, peerDER, e.Clock.Now().Add(30*24*time.Hour))
	require.NoError(t, err)

	fpDER, err := pki.MarshalPublicKey(fp.PublicKey())
	require.NoError(t, err)
	ep, err := other.Repo.ImportPrivateThirdParty(ctx, fpDER, bundle)
	require.NoError(t, err)
	return ep
}

// Publish imports fp (in e) into other as a public endpoint at address.
func (e *Env) Publish(t testing.TB, fp *endpoints.FirstPartyEndpoint, other *Env, address string) *endpoints.PublicThirdPartyEndpoint {
	t.Helper()
	ctx := context.Background()
	params, err := e.Repo.IssueConnectionParams(ctx, fp, address)
	require.NoError(t, err)
	ep, err := other.Repo.ImportPublicThirdParty(ctx, params)
	require.NoError(t, err)
	return ep
}

// NewMockClock returns a mock clock set to now.
func NewMockClock(now time.Time) *clock.Mock {
	clk := clock.NewMock()
	clk.Set(now)
	return clk
}
