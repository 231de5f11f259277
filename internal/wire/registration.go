package wire

// Reply kinds sent back on the registration entry point.
const (
	ReplyRegistrationAuthorization = "registration-authorization"
	ReplyError                     = "error"
)

// PreRegistrationRequest asks the gateway to authorize the registration of
// a node holding PublicKey (PKIX DER).
type PreRegistrationRequest struct {
	PublicKey []byte `cbor:"1,keyasint"`
}

// ReplyEnvelope is any reply received over a gateway connection.
type ReplyEnvelope struct {
	Kind    string `cbor:"1,keyasint"`
	Payload []byte `cbor:"2,keyasint,omitempty"`
}

// RegistrationRequest completes registration. Signature is made with the
// node's private key over SigningInput.
type RegistrationRequest struct {
	PublicKey     []byte `cbor:"1,keyasint"`
	Authorization []byte `cbor:"2,keyasint"`
	Signature     []byte `cbor:"3,keyasint,omitempty"`
}

func (r *RegistrationRequest) SigningInput() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return Marshal(&unsigned)
}

// RegistrationResult carries the certificates issued on registration.
type RegistrationResult struct {
	IdentityCertificate []byte `cbor:"1,keyasint"`
	GatewayCertificate  []byte `cbor:"2,keyasint"`
}
