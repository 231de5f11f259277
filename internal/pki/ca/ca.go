// Package ca is a minimal certificate authority issuing identity
// certificates the way a gateway does on registration. The development
// relay uses it as its gateway.
package ca

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gatewaykit/internal/pki"
)

// Validity of an authority's own certificate.
const Validity = 10 * 365 * 24 * time.Hour

type Authority struct {
	Key         ed25519.PrivateKey
	Certificate *pki.Certificate
}

// New creates a self-signed authority valid from an hour before now.
func New(now time.Time) (*Authority, error) {
	key, err := pki.GenerateIdentityKey()
	if err != nil {
		return nil, err
	}
	cert, err := pki.IssueCertificate(pki.IssueOptions{
		SubjectKey: key.Public().(ed25519.PublicKey),
		IssuerKey:  key,
		NotBefore:  now.Add(-time.Hour),
		NotAfter:   now.Add(Validity),
		IsCA:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("self-signing authority: %w", err)
	}
	return &Authority{Key: key, Certificate: cert}, nil
}

// MustNew is New for callers that cannot go on without an authority. It
// panics when key generation fails.
func MustNew(now time.Time) *Authority {
	a, err := New(now)
	if err != nil {
		panic(err)
	}
	return a
}

// Issue certifies pub from now for validity. Issued certificates may
// delegate further, as endpoints issue delegations below them.
func (a *Authority) Issue(pub ed25519.PublicKey, now time.Time, validity time.Duration) (*pki.Certificate, error) {
	return pki.IssueCertificate(pki.IssueOptions{
		SubjectKey: pub,
		IssuerKey:  a.Key,
		Issuer:     a.Certificate,
		NotBefore:  now.Add(-pki.ClockDriftTolerance),
		NotAfter:   now.Add(validity),
		IsCA:       true,
	})
}
