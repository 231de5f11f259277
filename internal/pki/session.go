package pki

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

const (
	sessionKeyIDSize = 8
	sessionInfo      = "gatewaykit session payload v1"
)

// SessionKeyPair is an X25519 key pair used to encrypt parcel payloads to
// an endpoint. KeyID tells the recipient which private key to use.
type SessionKeyPair struct {
	KeyID      []byte `cbor:"1,keyasint"`
	PrivateKey []byte `cbor:"2,keyasint"`
	PublicKey  []byte `cbor:"3,keyasint"`
}

func GenerateSessionKeyPair() (*SessionKeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session public key: %w", err)
	}
	id := make([]byte, sessionKeyIDSize)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("failed to generate session key id: %w", err)
	}
	return &SessionKeyPair{KeyID: id, PrivateKey: priv, PublicKey: pub}, nil
}

// Public returns the shareable half of the pair.
func (k *SessionKeyPair) Public() wire.SessionKey {
	return wire.SessionKey{ID: bytes.Clone(k.KeyID), PublicKey: bytes.Clone(k.PublicKey)}
}

// SealedPayload is a payload encrypted to a session key.
type SealedPayload struct {
	KeyID              []byte `cbor:"1,keyasint"`
	EphemeralPublicKey []byte `cbor:"2,keyasint"`
	Nonce              []byte `cbor:"3,keyasint"`
	Ciphertext         []byte `cbor:"4,keyasint"`
}

// Seal encrypts plaintext to recipient using an ephemeral X25519 key, HKDF
// and ChaCha20-Poly1305. The key id is authenticated as associated data.
func Seal(recipient wire.SessionKey, plaintext []byte) ([]byte, error) {
	eph := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(eph); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(eph, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(eph, recipient.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient session key: %w", ErrMalformedKey, err)
	}
	aead, err := newAEAD(shared, ephPub, recipient.PublicKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return wire.Marshal(SealedPayload{
		KeyID:              recipient.ID,
		EphemeralPublicKey: ephPub,
		Nonce:              nonce,
		Ciphertext:         aead.Seal(nil, nonce, plaintext, recipient.ID),
	})
}

// SealedKeyID returns the session key id a sealed payload is addressed to.
func SealedKeyID(data []byte) ([]byte, error) {
	var sp SealedPayload
	if err := wire.Unmarshal(data, &sp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if len(sp.KeyID) == 0 {
		return nil, fmt.Errorf("%w: no key id", ErrDecryption)
	}
	return sp.KeyID, nil
}

// Open decrypts a payload sealed with Seal for key.
func Open(key *SessionKeyPair, data []byte) ([]byte, error) {
	var sp SealedPayload
	if err := wire.Unmarshal(data, &sp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if !bytes.Equal(sp.KeyID, key.KeyID) {
		return nil, fmt.Errorf("%w: payload is for another session key", ErrDecryption)
	}
	shared, err := curve25519.X25519(key.PrivateKey, sp.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	aead, err := newAEAD(shared, sp.EphemeralPublicKey, key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if len(sp.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size", ErrDecryption)
	}
	plaintext, err := aead.Open(nil, sp.Nonce, sp.Ciphertext, sp.KeyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return plaintext, nil
}

func newAEAD(shared, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	salt := append(bytes.Clone(ephPub), recipientPub...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sessionInfo)), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
