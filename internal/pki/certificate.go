package pki

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// Certificate is an X.509 certificate binding an ed25519 key to its node id.
type Certificate struct {
	x *x509.Certificate
}

// IssueOptions describe a certificate to issue.
type IssueOptions struct {
	SubjectKey ed25519.PublicKey
	IssuerKey  ed25519.PrivateKey
	// Issuer is the issuer's certificate; nil issues a self-signed
	// certificate, which requires IssuerKey to match SubjectKey.
	Issuer    *Certificate
	NotBefore time.Time
	NotAfter  time.Time
	IsCA      bool
}

func IssueCertificate(opts IssueOptions) (*Certificate, error) {
	if len(opts.SubjectKey) != ed25519.PublicKeySize || len(opts.IssuerKey) != ed25519.PrivateKeySize {
		return nil, ErrMalformedKey
	}
	if !opts.NotAfter.After(opts.NotBefore) {
		return nil, fmt.Errorf("%w: expiry %s not after start %s", ErrInvalidCertificate, opts.NotAfter, opts.NotBefore)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	keyUsage := x509.KeyUsageDigitalSignature
	if opts.IsCA {
		keyUsage |= x509.KeyUsageCertSign
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: NodeID(opts.SubjectKey)},
		NotBefore:             opts.NotBefore.UTC().Truncate(time.Second),
		NotAfter:              opts.NotAfter.UTC().Truncate(time.Second),
		KeyUsage:              keyUsage,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
	}

	parent := tmpl
	if opts.Issuer != nil {
		if !opts.Issuer.PublicKey().Equal(opts.IssuerKey.Public()) {
			return nil, fmt.Errorf("%w: issuer key", ErrCertificateMismatch)
		}
		parent = opts.Issuer.x
	} else if !opts.SubjectKey.Equal(opts.IssuerKey.Public()) {
		return nil, fmt.Errorf("%w: self-signed certificate needs the subject key", ErrCertificateMismatch)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, opts.SubjectKey, opts.IssuerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to issue certificate: %w", err)
	}
	return ParseCertificate(der)
}

// ParseCertificate decodes a DER certificate carrying an ed25519 key.
func ParseCertificate(der []byte) (*Certificate, error) {
	x, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	if _, ok := x.PublicKey.(ed25519.PublicKey); !ok {
		return nil, fmt.Errorf("%w: %w: %T", ErrInvalidCertificate, ErrUnsupportedKeyType, x.PublicKey)
	}
	return &Certificate{x: x}, nil
}

// ParseCertificates decodes a list of DER certificates in order.
func ParseCertificates(ders [][]byte) ([]*Certificate, error) {
	certs := make([]*Certificate, 0, len(ders))
	for i, der := range ders {
		c, err := ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", i, err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// Serialize returns the DER encoding.
func (c *Certificate) Serialize() []byte {
	return c.x.Raw
}

func (c *Certificate) PublicKey() ed25519.PublicKey {
	return c.x.PublicKey.(ed25519.PublicKey)
}

// SubjectID is the node id of the certified key.
func (c *Certificate) SubjectID() string {
	return NodeID(c.PublicKey())
}

func (c *Certificate) NotBefore() time.Time { return c.x.NotBefore }

func (c *Certificate) Expiry() time.Time { return c.x.NotAfter }

// ValidateAt fails unless t falls within the validity period.
func (c *Certificate) ValidateAt(t time.Time) error {
	if t.Before(c.x.NotBefore) {
		return fmt.Errorf("%w: not valid before %s", ErrInvalidCertificate, c.x.NotBefore)
	}
	if t.After(c.x.NotAfter) {
		return fmt.Errorf("%w: expired at %s", ErrInvalidCertificate, c.x.NotAfter)
	}
	return nil
}

// IsIssuedBy reports whether c carries a valid signature by key.
func (c *Certificate) IsIssuedBy(key ed25519.PublicKey) bool {
	if c.x.SignatureAlgorithm != x509.PureEd25519 || len(key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(key, c.x.RawTBSCertificate, c.x.Signature)
}

// IsSelfIssued reports whether c is signed by its own key.
func (c *Certificate) IsSelfIssued() bool {
	return c.IsIssuedBy(c.PublicKey())
}

func (c *Certificate) Equal(o *Certificate) bool {
	if c == nil || o == nil {
		return c == o
	}
	return bytes.Equal(c.x.Raw, o.x.Raw)
}

// ValidateChain checks that leaf is issued by chain[0], each chain[i] by
// chain[i+1], and that every certificate is valid at t. The last chain
// element is not checked against anything.
func ValidateChain(leaf *Certificate, chain []*Certificate, t time.Time) error {
	cur := leaf
	if err := cur.ValidateAt(t); err != nil {
		return fmt.Errorf("%w: leaf: %w", ErrInvalidChain, err)
	}
	for i, next := range chain {
		if err := next.ValidateAt(t); err != nil {
			return fmt.Errorf("%w: link %d: %w", ErrInvalidChain, i, err)
		}
		if !cur.IsIssuedBy(next.PublicKey()) {
			return fmt.Errorf("%w: link %d does not issue its predecessor", ErrInvalidChain, i)
		}
		cur = next
	}
	return nil
}
