package endpoints

import (
	"fmt"

	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

// PrivateThirdPartyEndpointData is the stored form of a
// PrivateThirdPartyEndpoint.
type PrivateThirdPartyEndpointData struct {
	IdentityKey  []byte          `cbor:"1,keyasint"`
	PDA          []byte          `cbor:"2,keyasint"`
	PDAChain     [][]byte        `cbor:"3,keyasint"`
	SessionKey   wire.SessionKey `cbor:"4,keyasint"`
	FirstPartyID string          `cbor:"5,keyasint"`
}

// PublicThirdPartyEndpointData is the stored form of a
// PublicThirdPartyEndpoint.
type PublicThirdPartyEndpointData struct {
	Address     string          `cbor:"1,keyasint"`
	IdentityKey []byte          `cbor:"2,keyasint"`
	SessionKey  wire.SessionKey `cbor:"3,keyasint"`
}

func (e *PrivateThirdPartyEndpoint) data() (PrivateThirdPartyEndpointData, error) {
	key, err := pki.MarshalPublicKey(e.IdentityKey)
	if err != nil {
		return PrivateThirdPartyEndpointData{}, err
	}
	chain := make([][]byte, 0, len(e.PDAChain))
	for _, c := range e.PDAChain {
		chain = append(chain, c.Serialize())
	}
	return PrivateThirdPartyEndpointData{
		IdentityKey:  key,
		PDA:          e.PDA.Serialize(),
		PDAChain:     chain,
		SessionKey:   e.SessionKey,
		FirstPartyID: e.FirstPartyID,
	}, nil
}

func (d PrivateThirdPartyEndpointData) endpoint() (*PrivateThirdPartyEndpoint, error) {
	key, err := pki.ParsePublicKey(d.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: stored private endpoint key: %w", persistence.ErrMalformedValue, err)
	}
	pda, err := pki.ParseCertificate(d.PDA)
	if err != nil {
		return nil, fmt.Errorf("%w: stored private endpoint delegation: %w", persistence.ErrMalformedValue, err)
	}
	chain, err := pki.ParseCertificates(d.PDAChain)
	if err != nil {
		return nil, fmt.Errorf("%w: stored private endpoint chain: %w", persistence.ErrMalformedValue, err)
	}
	return &PrivateThirdPartyEndpoint{
		IdentityKey:  key,
		PDA:          pda,
		PDAChain:     chain,
		SessionKey:   d.SessionKey,
		FirstPartyID: d.FirstPartyID,
	}, nil
}

func (e *PublicThirdPartyEndpoint) data() (PublicThirdPartyEndpointData, error) {
	key, err := pki.MarshalPublicKey(e.IdentityKey)
	if err != nil {
		return PublicThirdPartyEndpointData{}, err
	}
	return PublicThirdPartyEndpointData{Address: e.Address, IdentityKey: key, SessionKey: e.SessionKey}, nil
}

func (d PublicThirdPartyEndpointData) endpoint() (*PublicThirdPartyEndpoint, error) {
	key, err := pki.ParsePublicKey(d.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: stored public endpoint key: %w", persistence.ErrMalformedValue, err)
	}
	return &PublicThirdPartyEndpoint{Address: d.Address, IdentityKey: key, SessionKey: d.SessionKey}, nil
}
