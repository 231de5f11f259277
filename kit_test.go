package gatewaykit_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatewaykit"
	"github.com/dmitrijs2005/gatewaykit/internal/config"
	"github.com/dmitrijs2005/gatewaykit/internal/gateway/grpcrelay"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/relaytest"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	relay  *relaytest.Relay
	client *grpcrelay.Client
	clock  *clock.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessAt(t, epoch)
}

func newHarnessAt(t *testing.T, now time.Time) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(now)
	relay := relaytest.New(relaytest.WithClock(clk))
	rc, stop, err := relaytest.Pipe(relay)
	require.NoError(t, err)
	t.Cleanup(stop)
	return &harness{relay: relay, client: rc, clock: clk}
}

func testConfig() *gatewaykit.Config {
	cfg := gatewaykit.DefaultConfig()
	cfg.Storage = config.Storage{Backend: config.BackendMemory}
	cfg.Relay.SettleDelay = 0
	return cfg
}

func (h *harness) newKit(t *testing.T) *gatewaykit.Kit {
	t.Helper()
	k, err := gatewaykit.New(context.Background(), testConfig(),
		gatewaykit.WithClock(h.clock),
		gatewaykit.WithLogger(logging.Nop()),
		gatewaykit.WithRelayClient(h.client),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close(context.Background()) })
	return k
}

func register(t *testing.T, k *gatewaykit.Kit) *gatewaykit.FirstPartyEndpoint {
	t.Helper()
	fp, err := k.Register(context.Background())
	require.NoError(t, err)
	return fp
}

// authorize lets granteeFP (in granteeKit) message fp (in k) and returns
// the record granteeKit holds for fp.
func authorize(t *testing.T, k *gatewaykit.Kit, fp *gatewaykit.FirstPartyEndpoint, granteeKit *gatewaykit.Kit, granteeFP *gatewaykit.FirstPartyEndpoint, now time.Time) *gatewaykit.PrivateThirdPartyEndpoint {
	t.Helper()
	ctx := context.Background()
	granteeKey, err := gatewaykit.PublicKey(granteeFP)
	require.NoError(t, err)
	bundle, err := k.IssueAuthorization(ctx, fp, granteeKey, now.Add(30*24*time.Hour))
	require.NoError(t, err)

	key, err := gatewaykit.PublicKey(fp)
	require.NoError(t, err)
	peer, err := granteeKit.ImportPrivateThirdParty(ctx, key, bundle)
	require.NoError(t, err)
	return peer
}

func receive(t *testing.T, ch <-chan *gatewaykit.IncomingMessage) *gatewaykit.IncomingMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "tape"
	_, err := gatewaykit.New(context.Background(), cfg)
	require.ErrorIs(t, err, gatewaykit.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Log.Format = "xml"
	_, err = gatewaykit.New(context.Background(), cfg)
	require.ErrorIs(t, err, gatewaykit.ErrInvalidConfig)
}

func TestRegisterAndLoad(t *testing.T) {
	h := newHarness(t)
	k := h.newKit(t)
	ctx := context.Background()

	fp := register(t, k)
	assert.True(t, fp.GatewayCertificate.Equal(h.relay.Certificate()))

	loaded, err := k.LoadFirstParty(ctx, fp.ID())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.IdentityCertificate.Equal(fp.IdentityCertificate))

	all, err := k.ListFirstParties(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, gatewaykit.StateBound, k.State(ctx))
}

func TestRegister_ClockBehindWallTime(t *testing.T) {
	h := newHarnessAt(t, time.Date(2001, 3, 1, 12, 0, 0, 0, time.UTC))
	k := h.newKit(t)

	fp := register(t, k)
	assert.Equal(t, h.clock.Now().Year(), fp.IdentityCertificate.NotBefore().Year())
	assert.Equal(t, 1, h.relay.Registrations())
}

func TestPrivateExchange(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.newKit(t), h.newKit(t)
	ctx := context.Background()

	a, b := register(t, alice), register(t, bob)
	bobForAlice := authorize(t, bob, b, alice, a, h.clock.Now())
	authorize(t, alice, a, bob, b, h.clock.Now())
	assert.Equal(t, a.ID(), bobForAlice.FirstPartyID)

	linked, err := alice.LinkedEndpoints(ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID()}, linked)

	require.NoError(t, alice.Unbind(ctx))
	_, err = alice.Send(ctx, "text/plain", []byte("hi"), a, bobForAlice)
	require.ErrorIs(t, err, gatewaykit.ErrBinding)

	require.NoError(t, alice.Bind(ctx))
	out, err := alice.Send(ctx, "text/plain", []byte("hi bob"), a, bobForAlice)
	require.NoError(t, err)
	assert.NotEmpty(t, out.SenderChain)

	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	messages := bob.Messages(sub)
	require.Equal(t, 1, bob.CheckForNewMessages(ctx))

	msg := receive(t, messages)
	assert.Equal(t, out.ID, msg.ID)
	assert.Equal(t, []byte("hi bob"), msg.Content)
	assert.Equal(t, a.ID(), msg.Sender.ID())
	require.NoError(t, msg.Ack(ctx))
	assert.Empty(t, h.relay.Pending(b.ID()))
}

func TestPublicExchange(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.newKit(t), h.newKit(t)
	ctx := context.Background()
	a, b := register(t, alice), register(t, bob)

	params, err := bob.IssueConnectionParams(ctx, b, "example.org")
	require.NoError(t, err)
	bobPublic, err := alice.ImportPublicThirdParty(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "example.org", bobPublic.Address)

	_, err = alice.ImportPublicThirdParty(ctx, []byte("junk"))
	require.ErrorIs(t, err, gatewaykit.ErrInvalidConnectionParams)

	out, err := alice.Send(ctx, "text/plain", []byte("hello"), a, bobPublic)
	require.NoError(t, err)
	assert.Empty(t, out.SenderChain)
	assert.True(t, out.SenderCertificate.IsSelfIssued())

	// Bob does not know alice yet: the parcel is disregarded and acked.
	assert.Zero(t, bob.CheckForNewMessages(ctx))
	assert.Empty(t, h.relay.Pending(b.ID()))

	aliceParams, err := alice.IssueConnectionParams(ctx, a, "alice.example.org")
	require.NoError(t, err)
	_, err = bob.ImportPublicThirdParty(ctx, aliceParams)
	require.NoError(t, err)

	_, err = alice.Send(ctx, "text/plain", []byte("hello again"), a, bobPublic)
	require.NoError(t, err)
	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	messages := bob.Messages(sub)
	require.Equal(t, 1, bob.CheckForNewMessages(ctx))
	msg := receive(t, messages)
	assert.Equal(t, []byte("hello again"), msg.Content)
	_, public := msg.Sender.(*gatewaykit.PublicThirdPartyEndpoint)
	assert.True(t, public)
}

func TestImportPrivateThirdParty_Invalid(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.newKit(t), h.newKit(t)
	ctx := context.Background()
	a, b := register(t, alice), register(t, bob)

	key, err := gatewaykit.PublicKey(b)
	require.NoError(t, err)
	_, err = alice.ImportPrivateThirdParty(ctx, key, []byte("junk"))
	require.ErrorIs(t, err, gatewaykit.ErrInvalidAuthorization)

	// A bundle for somebody else's first party.
	other := register(t, bob)
	otherKey, err := gatewaykit.PublicKey(other)
	require.NoError(t, err)
	bundle, err := bob.IssueAuthorization(ctx, b, otherKey, h.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = alice.ImportPrivateThirdParty(ctx, key, bundle)
	require.ErrorIs(t, err, gatewaykit.ErrUnknownFirstParty)

	peer, err := alice.LoadPrivateThirdParty(ctx, a.ID(), b.ID())
	require.NoError(t, err)
	assert.Nil(t, peer)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.newKit(t), h.newKit(t)
	ctx := context.Background()
	a1, a2, b := register(t, alice), register(t, alice), register(t, bob)

	authorize(t, alice, a1, bob, b, h.clock.Now())
	authorize(t, alice, a2, bob, b, h.clock.Now())

	require.NoError(t, alice.Delete(ctx, a1))

	gone, err := alice.LoadFirstParty(ctx, a1.ID())
	require.NoError(t, err)
	assert.Nil(t, gone)
	linked, err := alice.LinkedEndpoints(ctx, a1.ID())
	require.NoError(t, err)
	assert.Empty(t, linked)

	linked, err = alice.LinkedEndpoints(ctx, a2.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID()}, linked)
}
