// Package pkitest provides key and certificate authority helpers for tests.
package pkitest

import (
	"crypto/ed25519"
	"time"

	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/pki/ca"
)

// CA stands in for a gateway.
type CA = ca.Authority

// NewCA creates an authority valid from now. It panics on failure.
func NewCA(now time.Time) *CA {
	return ca.MustNew(now)
}

// MustKey returns a fresh identity key, panicking on failure.
func MustKey() ed25519.PrivateKey {
	k, err := pki.GenerateIdentityKey()
	if err != nil {
		panic(err)
	}
	return k
}

// PublicDER returns the PKIX encoding of the public half of k.
func PublicDER(k ed25519.PrivateKey) []byte {
	der, err := pki.MarshalPublicKey(k.Public().(ed25519.PublicKey))
	if err != nil {
		panic(err)
	}
	return der
}
