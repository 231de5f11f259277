package wire

// DeliveryRequest hands a parcel to the relay, countersigned by one of the
// sender's registered identities.
type DeliveryRequest struct {
	Parcel      []byte `cbor:"1,keyasint"`
	Certificate []byte `cbor:"2,keyasint"`
	Signature   []byte `cbor:"3,keyasint"`
}

// CollectionChallenge opens a collection: the client proves control of its
// identities by signing Nonce with each of them.
type CollectionChallenge struct {
	Nonce []byte `cbor:"1,keyasint"`
}

// NonceSignature is one identity's answer to a CollectionChallenge.
type NonceSignature struct {
	Certificate []byte `cbor:"1,keyasint"`
	Signature   []byte `cbor:"2,keyasint"`
}

type CollectionResponse struct {
	Signatures []NonceSignature `cbor:"1,keyasint"`
}

// CollectedItem is one parcel pulled from the relay, acknowledged with AckID.
type CollectedItem struct {
	AckID  string `cbor:"1,keyasint"`
	Parcel []byte `cbor:"2,keyasint"`
}
