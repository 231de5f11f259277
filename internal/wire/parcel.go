package wire

import (
	"fmt"
	"time"
)

// Parcel is the end-to-end envelope carried by the relay.
type Parcel struct {
	ID                string   `cbor:"1,keyasint"`
	RecipientID       string   `cbor:"2,keyasint"`
	RecipientAddress  string   `cbor:"3,keyasint,omitempty"`
	CreationDate      int64    `cbor:"4,keyasint"`
	TTL               uint32   `cbor:"5,keyasint"`
	SenderCertificate []byte   `cbor:"6,keyasint"`
	SenderChain       [][]byte `cbor:"7,keyasint,omitempty"`
	Payload           []byte   `cbor:"8,keyasint"`
	Signature         []byte   `cbor:"9,keyasint,omitempty"`
}

// Created returns the creation date.
func (p *Parcel) Created() time.Time {
	return time.Unix(p.CreationDate, 0).UTC()
}

// Expiry returns the creation date plus the TTL.
func (p *Parcel) Expiry() time.Time {
	return p.Created().Add(time.Duration(p.TTL) * time.Second)
}

// SigningInput returns the bytes the sender signs: the parcel encoded
// without its signature.
func (p *Parcel) SigningInput() ([]byte, error) {
	unsigned := *p
	unsigned.Signature = nil
	return Marshal(&unsigned)
}

// ParseParcel decodes a parcel and checks that every mandatory field is
// present. Cryptographic checks are up to the caller.
func ParseParcel(data []byte) (*Parcel, error) {
	var p Parcel
	if err := Unmarshal(data, &p); err != nil {
		return nil, err
	}
	switch {
	case p.ID == "":
		return nil, fmt.Errorf("%w: parcel id is empty", ErrMalformed)
	case p.RecipientID == "":
		return nil, fmt.Errorf("%w: parcel recipient is empty", ErrMalformed)
	case p.TTL == 0:
		return nil, fmt.Errorf("%w: parcel ttl is zero", ErrMalformed)
	case len(p.SenderCertificate) == 0:
		return nil, fmt.Errorf("%w: parcel sender certificate is empty", ErrMalformed)
	case len(p.Payload) == 0:
		return nil, fmt.Errorf("%w: parcel payload is empty", ErrMalformed)
	case len(p.Signature) == 0:
		return nil, fmt.Errorf("%w: parcel is unsigned", ErrMalformed)
	}
	return &p, nil
}

// ServiceMessage is the plaintext inside a parcel payload.
type ServiceMessage struct {
	Type    string `cbor:"1,keyasint"`
	Content []byte `cbor:"2,keyasint"`
}

// ParseServiceMessage decodes a service message; the type is mandatory.
func ParseServiceMessage(data []byte) (*ServiceMessage, error) {
	var m ServiceMessage
	if err := Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: service message type is empty", ErrMalformed)
	}
	return &m, nil
}
