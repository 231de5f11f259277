package pki

import (
	"crypto/ed25519"
	"fmt"
)

// Signer pairs an identity private key with one certificate for it.
type Signer struct {
	Certificate *Certificate
	PrivateKey  ed25519.PrivateKey
}

func NewSigner(cert *Certificate, key ed25519.PrivateKey) (*Signer, error) {
	if !cert.PublicKey().Equal(key.Public()) {
		return nil, ErrCertificateMismatch
	}
	return &Signer{Certificate: cert, PrivateKey: key}, nil
}

// ID is the node id of the signer.
func (s *Signer) ID() string {
	return s.Certificate.SubjectID()
}

func (s *Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.PrivateKey, data)
}

// Verify checks an ed25519 signature made by the key certified in cert.
func Verify(cert *Certificate, data, sig []byte) error {
	if !ed25519.Verify(cert.PublicKey(), data, sig) {
		return fmt.Errorf("%w: bad signature", ErrInvalidCertificate)
	}
	return nil
}
