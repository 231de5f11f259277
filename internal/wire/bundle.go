package wire

import "fmt"

// SessionKey is the public half of a session key pair and its id.
type SessionKey struct {
	ID        []byte `cbor:"1,keyasint"`
	PublicKey []byte `cbor:"2,keyasint"`
}

func (k SessionKey) validate() error {
	if len(k.ID) == 0 || len(k.PublicKey) == 0 {
		return fmt.Errorf("%w: incomplete session key", ErrMalformed)
	}
	return nil
}

// AuthorizationBundle is what a first party hands to a third party so the
// latter can reach it: the delegation (PDA), the chain up to the gateway and
// the session key to encrypt for.
type AuthorizationBundle struct {
	PDA        []byte     `cbor:"1,keyasint"`
	Chain      [][]byte   `cbor:"2,keyasint"`
	SessionKey SessionKey `cbor:"3,keyasint"`
}

func ParseAuthorizationBundle(data []byte) (*AuthorizationBundle, error) {
	var b AuthorizationBundle
	if err := Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if len(b.PDA) == 0 {
		return nil, fmt.Errorf("%w: bundle has no delegation", ErrMalformed)
	}
	if err := b.SessionKey.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// PublicEndpointParams are the connection parameters a public endpoint
// publishes.
type PublicEndpointParams struct {
	Address     string     `cbor:"1,keyasint"`
	IdentityKey []byte     `cbor:"2,keyasint"`
	SessionKey  SessionKey `cbor:"3,keyasint"`
}

func ParsePublicEndpointParams(data []byte) (*PublicEndpointParams, error) {
	var p PublicEndpointParams
	if err := Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Address == "" || len(p.IdentityKey) == 0 {
		return nil, fmt.Errorf("%w: incomplete connection params", ErrMalformed)
	}
	if err := p.SessionKey.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
