// Package pki provides the identity and session cryptography gatewaykit
// relies on: ed25519 identity keys, X.509 certificates and delegations
// issued with them, node identifiers, and X25519 session-key sealing of
// parcel payloads.
package pki

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ClockDriftTolerance is how far in the past certificates and parcels are
// back-dated so that peers with slightly slow clocks accept them.
const ClockDriftTolerance = 5 * time.Minute

var (
	ErrMalformedKey        = errors.New("malformed key")
	ErrInvalidCertificate  = errors.New("invalid certificate")
	ErrInvalidChain        = errors.New("invalid certificate chain")
	ErrDecryption          = errors.New("payload decryption failed")
	ErrUnsupportedKeyType  = errors.New("unsupported key type")
	ErrCertificateMismatch = errors.New("certificate does not match key")
)

// GenerateIdentityKey returns a fresh ed25519 identity key pair.
func GenerateIdentityKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return priv, nil
}

// MarshalPublicKey encodes pub as PKIX DER.
func MarshalPublicKey(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	return der, nil
}

// ParsePublicKey decodes a PKIX DER ed25519 public key.
func ParsePublicKey(der []byte) (ed25519.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	pub, ok := k.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %T", ErrMalformedKey, ErrUnsupportedKeyType, k)
	}
	return pub, nil
}

// MarshalPrivateKey encodes priv as PKCS#8 DER.
func MarshalPrivateKey(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	return der, nil
}

func ParsePrivateKey(der []byte) (ed25519.PrivateKey, error) {
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %T", ErrMalformedKey, ErrUnsupportedKeyType, k)
	}
	return priv, nil
}

// NodeID derives the node identifier of a public key: "0" followed by the
// hex SHA-256 digest of its PKIX encoding.
func NodeID(pub ed25519.PublicKey) string {
	// Marshalling a well-formed ed25519 key cannot fail.
	der, _ := x509.MarshalPKIXPublicKey(pub)
	return NodeIDFromDER(der)
}

// NodeIDFromDER is NodeID for an already PKIX-encoded key.
func NodeIDFromDER(der []byte) string {
	sum := sha256.Sum256(der)
	return "0" + hex.EncodeToString(sum[:])
}
