// Package endpoints models first-party and third-party endpoints and the
// authorization material linking them, and persists all of it.
package endpoints

import (
	"crypto/ed25519"

	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

// Endpoint is one of *FirstPartyEndpoint, *PrivateThirdPartyEndpoint or
// *PublicThirdPartyEndpoint. The set is closed; switches over it should be
// exhaustive.
type Endpoint interface {
	// ID is the node identifier derived from the identity public key.
	ID() string
	sealed()
}

// FirstPartyEndpoint is an identity owned by this process.
type FirstPartyEndpoint struct {
	IdentityKey         ed25519.PrivateKey
	IdentityCertificate *pki.Certificate
	GatewayCertificate  *pki.Certificate
}

func (e *FirstPartyEndpoint) ID() string {
	return pki.NodeID(e.PublicKey())
}

func (e *FirstPartyEndpoint) PublicKey() ed25519.PublicKey {
	return e.IdentityKey.Public().(ed25519.PublicKey)
}

// Signer returns the signer for the current identity certificate.
func (e *FirstPartyEndpoint) Signer() *pki.Signer {
	return &pki.Signer{Certificate: e.IdentityCertificate, PrivateKey: e.IdentityKey}
}

func (*FirstPartyEndpoint) sealed() {}

// PrivateThirdPartyEndpoint is a peer behind the same gateway which has
// authorized FirstPartyID to message it.
type PrivateThirdPartyEndpoint struct {
	IdentityKey ed25519.PublicKey
	// PDA is the delegation issued by the peer to the first party.
	PDA          *pki.Certificate
	PDAChain     []*pki.Certificate
	SessionKey   wire.SessionKey
	FirstPartyID string
}

func (e *PrivateThirdPartyEndpoint) ID() string {
	return pki.NodeID(e.IdentityKey)
}

func (*PrivateThirdPartyEndpoint) sealed() {}

// PublicThirdPartyEndpoint is a peer reachable on the internet at Address.
type PublicThirdPartyEndpoint struct {
	Address     string
	IdentityKey ed25519.PublicKey
	SessionKey  wire.SessionKey
}

func (e *PublicThirdPartyEndpoint) ID() string {
	return pki.NodeID(e.IdentityKey)
}

func (*PublicThirdPartyEndpoint) sealed() {}
