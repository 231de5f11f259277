package endpoints

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
	"golang.org/x/crypto/curve25519"
)

// IssueAuthorization grants the holder of subjectKeyDER (PKIX) the right to
// message fp until expiry, capped at the expiry of fp's certificate. A fresh
// session key is generated for the grantee to encrypt with, and the grantee
// is linked to fp.
func (r *Repository) IssueAuthorization(ctx context.Context, fp *FirstPartyEndpoint, subjectKeyDER []byte, expiry time.Time) (*wire.AuthorizationBundle, error) {
	subject, err := pki.ParsePublicKey(subjectKeyDER)
	if err != nil {
		return nil, err
	}

	if certExpiry := fp.IdentityCertificate.Expiry(); expiry.After(certExpiry) {
		expiry = certExpiry
	}
	pda, err := pki.IssueCertificate(pki.IssueOptions{
		SubjectKey: subject,
		IssuerKey:  fp.IdentityKey,
		Issuer:     fp.IdentityCertificate,
		NotBefore:  r.clock.Now().Add(-pki.ClockDriftTolerance),
		NotAfter:   expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue delegation: %w", err)
	}

	sessionKey, err := pki.GenerateSessionKeyPair()
	if err != nil {
		return nil, err
	}
	err = r.exec.Do(ctx, func(ctx context.Context) error {
		return persistence.Atomic(ctx, r.store, func(ctx context.Context, tx persistence.Store) error {
			if err := r.channels.On(tx).Create(ctx, fp.ID(), pki.NodeID(subject)); err != nil {
				return err
			}
			return r.sessionKeys.On(tx).Set(ctx, sessionKeyName(fp.ID(), sessionKey.KeyID), *sessionKey)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist authorization: %w", err)
	}

	r.logger.Info(ctx, "authorization issued", "endpoint_id", fp.ID(),
		"grantee_id", pki.NodeID(subject), "expiry", pda.Expiry())
	return &wire.AuthorizationBundle{
		PDA:        pda.Serialize(),
		Chain:      [][]byte{fp.IdentityCertificate.Serialize(), fp.GatewayCertificate.Serialize()},
		SessionKey: sessionKey.Public(),
	}, nil
}

// IssueAuthorizationFor is IssueAuthorization for a known third party.
func (r *Repository) IssueAuthorizationFor(ctx context.Context, fp *FirstPartyEndpoint, grantee Endpoint, expiry time.Time) (*wire.AuthorizationBundle, error) {
	var key ed25519.PublicKey
	switch e := grantee.(type) {
	case *PrivateThirdPartyEndpoint:
		key = e.IdentityKey
	case *PublicThirdPartyEndpoint:
		key = e.IdentityKey
	case *FirstPartyEndpoint:
		key = e.PublicKey()
	default:
		return nil, fmt.Errorf("unsupported endpoint type %T", grantee)
	}
	der, err := pki.MarshalPublicKey(key)
	if err != nil {
		return nil, err
	}
	return r.IssueAuthorization(ctx, fp, der, expiry)
}

// ImportPrivateThirdParty stores a peer that authorized one of our first
// parties through bundle. The delegation must name a registered first
// party, be issued by identityKeyDER, and chain from it through valid
// certificates. Nothing is stored unless every check passes.
func (r *Repository) ImportPrivateThirdParty(ctx context.Context, identityKeyDER []byte, bundle *wire.AuthorizationBundle) (*PrivateThirdPartyEndpoint, error) {
	identityKey, err := pki.ParsePublicKey(identityKeyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidAuthorization, err)
	}
	pda, err := pki.ParseCertificate(bundle.PDA)
	if err != nil {
		return nil, fmt.Errorf("%w: delegation: %w", common.ErrInvalidAuthorization, err)
	}

	firstPartyID := pda.SubjectID()
	registered, err := r.IsRegistered(ctx, firstPartyID)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownFirstParty, firstPartyID)
	}

	chain, err := pki.ParseCertificates(bundle.Chain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidAuthorization, err)
	}
	if err := verifyDelegation(identityKey, pda, chain, r.clock.Now()); err != nil {
		return nil, err
	}
	if err := validSessionKey(bundle.SessionKey); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidAuthorization, err)
	}

	ep := &PrivateThirdPartyEndpoint{
		IdentityKey:  identityKey,
		PDA:          pda,
		PDAChain:     chain,
		SessionKey:   bundle.SessionKey,
		FirstPartyID: firstPartyID,
	}
	data, err := ep.data()
	if err != nil {
		return nil, err
	}
	err = r.exec.Do(ctx, func(ctx context.Context) error {
		return persistence.Atomic(ctx, r.store, func(ctx context.Context, tx persistence.Store) error {
			if err := r.channels.On(tx).Create(ctx, firstPartyID, ep.ID()); err != nil {
				return err
			}
			return r.privateThirdParty.On(tx).Set(ctx, privateKeyName(firstPartyID, ep.ID()), data)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist private endpoint %s: %w", ep.ID(), err)
	}

	r.logger.Info(ctx, "private third-party endpoint imported", "endpoint_id", ep.ID(),
		"first_party_id", firstPartyID, "expiry", pda.Expiry())
	return ep, nil
}

func verifyDelegation(identityKey ed25519.PublicKey, pda *pki.Certificate, chain []*pki.Certificate, now time.Time) error {
	if !pda.IsIssuedBy(identityKey) {
		return fmt.Errorf("%w: delegation not issued by the supplied identity key", common.ErrInvalidAuthorization)
	}
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty certificate chain", common.ErrInvalidAuthorization)
	}
	if !chain[0].PublicKey().Equal(identityKey) {
		return fmt.Errorf("%w: chain does not start at the issuer identity", common.ErrInvalidAuthorization)
	}
	if err := pki.ValidateChain(pda, chain, now); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidAuthorization, err)
	}
	return nil
}

func validSessionKey(k wire.SessionKey) error {
	if len(k.ID) == 0 {
		return fmt.Errorf("%w: session key has no id", pki.ErrMalformedKey)
	}
	if len(k.PublicKey) != curve25519.PointSize {
		return fmt.Errorf("%w: session key has %d bytes", pki.ErrMalformedKey, len(k.PublicKey))
	}
	return nil
}

// IssueConnectionParams publishes fp as a public endpoint reachable at
// address: a fresh session key is stored and its public half returned along
// with fp's identity key.
func (r *Repository) IssueConnectionParams(ctx context.Context, fp *FirstPartyEndpoint, address string) (*wire.PublicEndpointParams, error) {
	keyDER, err := pki.MarshalPublicKey(fp.PublicKey())
	if err != nil {
		return nil, err
	}
	sessionKey, err := pki.GenerateSessionKeyPair()
	if err != nil {
		return nil, err
	}
	err = r.exec.Do(ctx, func(ctx context.Context) error {
		return r.saveSessionKey(ctx, fp.ID(), sessionKey)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist session key: %w", err)
	}
	return &wire.PublicEndpointParams{Address: address, IdentityKey: keyDER, SessionKey: sessionKey.Public()}, nil
}

// ImportPublicThirdParty validates and stores the connection parameters of
// a public endpoint.
func (r *Repository) ImportPublicThirdParty(ctx context.Context, params *wire.PublicEndpointParams) (*PublicThirdPartyEndpoint, error) {
	if params.Address == "" || strings.ContainsAny(params.Address, " \t\r\n/") {
		return nil, fmt.Errorf("%w: address %q", common.ErrInvalidConnectionParams, params.Address)
	}
	key, err := pki.ParsePublicKey(params.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConnectionParams, err)
	}
	if err := validSessionKey(params.SessionKey); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConnectionParams, err)
	}

	ep := &PublicThirdPartyEndpoint{Address: params.Address, IdentityKey: key, SessionKey: params.SessionKey}
	data, err := ep.data()
	if err != nil {
		return nil, err
	}
	err = r.exec.Do(ctx, func(ctx context.Context) error {
		return r.publicThirdParty.Set(ctx, ep.ID(), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist public endpoint %s: %w", ep.ID(), err)
	}

	r.logger.Info(ctx, "public third-party endpoint imported", "endpoint_id", ep.ID(), "address", ep.Address)
	return ep, nil
}

func privateKeyName(firstPartyID, thirdPartyID string) string {
	return firstPartyID + "_" + thirdPartyID
}

// LoadPrivateThirdParty returns the peer thirdPartyID as authorized for
// firstPartyID, or nil.
func (r *Repository) LoadPrivateThirdParty(ctx context.Context, firstPartyID, thirdPartyID string) (*PrivateThirdPartyEndpoint, error) {
	d, ok, err := r.privateThirdParty.Get(ctx, privateKeyName(firstPartyID, thirdPartyID))
	if err != nil || !ok {
		return nil, err
	}
	return d.endpoint()
}

// ListPrivateThirdParties returns the peers that authorized firstPartyID.
func (r *Repository) ListPrivateThirdParties(ctx context.Context, firstPartyID string) ([]*PrivateThirdPartyEndpoint, error) {
	keys, err := r.privateThirdParty.ListWithPrefix(ctx, firstPartyID+"_")
	if err != nil {
		return nil, err
	}
	eps := make([]*PrivateThirdPartyEndpoint, 0, len(keys))
	for _, k := range keys {
		d, ok, err := r.privateThirdParty.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ep, err := d.endpoint()
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// LoadPublicThirdParty returns the public peer id, or nil.
func (r *Repository) LoadPublicThirdParty(ctx context.Context, id string) (*PublicThirdPartyEndpoint, error) {
	d, ok, err := r.publicThirdParty.Get(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return d.endpoint()
}

// Delete removes e and everything that only exists because of it.
//
// A first party takes its key, certificates, session keys, the peers that
// authorized it and its channel links with it. A private peer loses its
// record and its link to the first party; a public peer its record and
// every link to it.
func (r *Repository) Delete(ctx context.Context, e Endpoint) error {
	return r.exec.Do(ctx, func(ctx context.Context) error {
		switch e := e.(type) {
		case *FirstPartyEndpoint:
			return r.deleteFirstParty(ctx, e.ID())
		case *PrivateThirdPartyEndpoint:
			err := r.privateThirdParty.Delete(ctx, privateKeyName(e.FirstPartyID, e.ID()))
			if err := persistence.IgnoreNotFound(err); err != nil {
				return err
			}
			return r.channels.DeleteLink(ctx, e.FirstPartyID, e.ID())
		case *PublicThirdPartyEndpoint:
			if err := persistence.IgnoreNotFound(r.publicThirdParty.Delete(ctx, e.ID())); err != nil {
				return err
			}
			return r.channels.DeleteThirdParty(ctx, e.ID())
		default:
			return fmt.Errorf("unsupported endpoint type %T", e)
		}
	})
}

func (r *Repository) deleteFirstParty(ctx context.Context, id string) error {
	err := persistence.Atomic(ctx, r.store, func(ctx context.Context, tx persistence.Store) error {
		err := r.identityKeys.On(tx).Delete(ctx, id)
		if errors.Is(err, persistence.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", common.ErrUnknownFirstParty, id)
		}
		if err != nil {
			return err
		}
		if err := persistence.IgnoreNotFound(r.identityCerts.On(tx).Delete(ctx, id)); err != nil {
			return err
		}
		if err := r.sessionKeys.On(tx).DeleteWithPrefix(ctx, id+"_"); err != nil {
			return err
		}
		return r.privateThirdParty.On(tx).DeleteWithPrefix(ctx, id+"_")
	})
	if err != nil {
		return err
	}
	if err := r.channels.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info(ctx, "first-party endpoint deleted", "endpoint_id", id)
	return nil
}
