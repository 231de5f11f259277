package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints/endpointstest"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

var epoch = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

func TestBuild_PublicRecipient(t *testing.T) {
	clk := endpointstest.NewMockClock(epoch)
	alice, server := endpointstest.NewEnv(t, clk), endpointstest.NewEnv(t, clk)
	a := alice.Register(t)
	s := server.Register(t)
	pub := server.Publish(t, s, alice, "example.org")

	out, err := NewBuilder(clk).Build("text/plain", []byte("hi"), a, pub)
	require.NoError(t, err)

	parcel, err := wire.ParseParcel(out.Parcel)
	require.NoError(t, err)
	assert.Equal(t, "example.org", parcel.RecipientAddress)
	assert.Equal(t, pub.ID(), parcel.RecipientID)
	assert.Empty(t, parcel.SenderChain)
	assert.Empty(t, out.SenderChain)

	cert, err := pki.ParseCertificate(parcel.SenderCertificate)
	require.NoError(t, err)
	assert.True(t, cert.IsSelfIssued())
	assert.Equal(t, a.ID(), cert.SubjectID())
	assert.WithinDuration(t, out.Created, cert.NotBefore(), 0)
	assert.WithinDuration(t, out.Expiry, cert.Expiry(), 0)
	assert.False(t, cert.Equal(a.IdentityCertificate))
}

func TestBuild_PrivateRecipient(t *testing.T) {
	clk := endpointstest.NewMockClock(epoch)
	alice, bob := endpointstest.NewEnv(t, clk), endpointstest.NewEnv(t, clk)
	a, b := alice.Register(t), bob.Register(t)
	bobForAlice := bob.Authorize(t, b, alice, a)

	out, err := NewBuilder(clk).Build("text/plain", []byte("hi"), a, bobForAlice)
	require.NoError(t, err)

	parcel, err := wire.ParseParcel(out.Parcel)
	require.NoError(t, err)
	assert.Empty(t, parcel.RecipientAddress)
	assert.Equal(t, bobForAlice.PDA.Serialize(), parcel.SenderCertificate)
	require.Len(t, parcel.SenderChain, 2)
	assert.Equal(t, b.IdentityCertificate.Serialize(), parcel.SenderChain[0])
	assert.False(t, out.Expiry.After(bobForAlice.PDA.Expiry()))
}

func TestBuild_DefaultsAndTTL(t *testing.T) {
	clk := endpointstest.NewMockClock(epoch)
	alice, server := endpointstest.NewEnv(t, clk), endpointstest.NewEnv(t, clk)
	a := alice.Register(t)
	pub := server.Publish(t, server.Register(t), alice, "example.org")
	b := NewBuilder(clk)

	out, err := b.Build("t", nil, a, pub)
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.WithinDuration(t, epoch.Add(-pki.ClockDriftTolerance), out.Created, 0)
	assert.WithinDuration(t, epoch.Add(MaxTTL-pki.ClockDriftTolerance), out.Expiry, 0)
	assert.LessOrEqual(t, out.TTL(), MaxTTL)

	out, err = b.Build("t", nil, a, pub, WithID("fixed"), WithExpiry(epoch.AddDate(2, 0, 0)))
	require.NoError(t, err)
	assert.Equal(t, "fixed", out.ID)
	assert.Equal(t, MaxTTL, out.TTL())

	out, err = b.Build("t", nil, a, pub, WithExpiry(epoch.Add(time.Hour)))
	require.NoError(t, err)
	assert.WithinDuration(t, epoch.Add(time.Hour), out.Expiry, 0)

	_, err = b.Build("t", nil, a, pub, WithExpiry(epoch.Add(-time.Hour)))
	require.ErrorIs(t, err, ErrInvalidExpiry)
}

func TestBuild_ContentTooLarge(t *testing.T) {
	clk := endpointstest.NewMockClock(epoch)
	alice, server := endpointstest.NewEnv(t, clk), endpointstest.NewEnv(t, clk)
	a := alice.Register(t)
	pub := server.Publish(t, server.Register(t), alice, "example.org")

	_, err := NewBuilder(clk).Build("t", make([]byte, MaxContentSize+1), a, pub)
	require.ErrorIs(t, err, ErrContentTooLarge)
}

func TestBuild_PrivateRecipientOfAnotherFirstParty(t *testing.T) {
	clk := endpointstest.NewMockClock(epoch)
	alice, bob := endpointstest.NewEnv(t, clk), endpointstest.NewEnv(t, clk)
	a, other, b := alice.Register(t), alice.Register(t), bob.Register(t)
	bobForAlice := bob.Authorize(t, b, alice, a)

	_, err := NewBuilder(clk).Build("t", nil, other, bobForAlice)
	require.ErrorIs(t, err, common.ErrInvalidAuthorization)
}

func TestBuild_ExpiredDelegation(t *testing.T) {
	clk := endpointstest.NewMockClock(epoch)
	alice, bob := endpointstest.NewEnv(t, clk), endpointstest.NewEnv(t, clk)
	a, b := alice.Register(t), bob.Register(t)
	bobForAlice := bob.Authorize(t, b, alice, a)

	clk.Add(31 * 24 * time.Hour)
	_, err := NewBuilder(clk).Build("t", nil, a, bobForAlice)
	require.ErrorIs(t, err, common.ErrInvalidAuthorization)
}

func TestBuild_FirstPartyRecipient(t *testing.T) {
	clk := endpointstest.NewMockClock(epoch)
	alice := endpointstest.NewEnv(t, clk)
	a := alice.Register(t)
	var recipient endpoints.Endpoint = alice.Register(t)

	_, err := NewBuilder(clk).Build("t", nil, a, recipient)
	require.ErrorIs(t, err, common.ErrUnknownEndpoint)
}
