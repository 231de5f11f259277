package ca

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gatewaykit/internal/pki"
)

func TestAuthority_Issue(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := New(now)
	require.NoError(t, err)
	assert.True(t, a.Certificate.IsSelfIssued())

	key, err := pki.GenerateIdentityKey()
	require.NoError(t, err)
	cert, err := a.Issue(key.Public().(ed25519.PublicKey), now, 24*time.Hour)
	require.NoError(t, err)

	assert.True(t, cert.IsIssuedBy(a.Certificate.PublicKey()))
	assert.WithinDuration(t, now.Add(24*time.Hour), cert.Expiry(), time.Second)
	require.NoError(t, cert.ValidateAt(now))
	require.NoError(t, pki.ValidateChain(cert, []*pki.Certificate{a.Certificate}, now))
}
