package endpoints

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mr-tron/base58"

	"github.com/dmitrijs2005/gatewaykit/internal/channel"
	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/serial"
)

// Persistence namespaces.
const (
	PrefixIdentityKey         = "identity_key_"
	PrefixIdentityCertificate = "identity_certificate_"
	PrefixGatewayCertificate  = "gateway_certificate_"
	PrefixSessionKey          = "session_key_"
	PrefixPrivateThirdParty   = "private_third_party_"
	PrefixPublicThirdParty    = "public_third_party_"
)

// Registration is what the gateway hands back for a newly registered key.
type Registration struct {
	IdentityCertificate *pki.Certificate
	GatewayCertificate  *pki.Certificate
}

// Registrar registers identity keys with the gateway.
type Registrar interface {
	RegisterEndpoint(ctx context.Context, key ed25519.PrivateKey) (*Registration, error)
}

// Repository creates, loads and deletes endpoints. Every mutation runs on
// the serial executor.
type Repository struct {
	store    persistence.Store
	exec     *serial.Executor
	channels *channel.Manager
	clock    clock.Clock
	logger   logging.Logger

	identityKeys      *persistence.Module[[]byte]
	identityCerts     *persistence.Module[[][]byte]
	gatewayCert       *persistence.SingleValueModule[[]byte]
	sessionKeys       *persistence.Module[pki.SessionKeyPair]
	privateThirdParty *persistence.Module[PrivateThirdPartyEndpointData]
	publicThirdParty  *persistence.Module[PublicThirdPartyEndpointData]
}

func NewRepository(store persistence.Store, exec *serial.Executor, channels *channel.Manager, clk clock.Clock, logger logging.Logger) *Repository {
	return &Repository{
		store:    store,
		exec:     exec,
		channels: channels,
		clock:    clk,
		logger:   logger.With("module", "endpoints"),

		identityKeys:      persistence.NewModule(store, PrefixIdentityKey, persistence.Bytes()),
		identityCerts:     persistence.NewModule(store, PrefixIdentityCertificate, persistence.CBOR[[][]byte]()),
		gatewayCert:       persistence.NewSingleValueModule(store, PrefixGatewayCertificate, persistence.Bytes()),
		sessionKeys:       persistence.NewModule(store, PrefixSessionKey, persistence.CBOR[pki.SessionKeyPair]()),
		privateThirdParty: persistence.NewModule(store, PrefixPrivateThirdParty, persistence.CBOR[PrivateThirdPartyEndpointData]()),
		publicThirdParty:  persistence.NewModule(store, PrefixPublicThirdParty, persistence.CBOR[PublicThirdPartyEndpointData]()),
	}
}

// Register creates a first-party endpoint: a fresh identity key registered
// with the gateway through registrar.
func (r *Repository) Register(ctx context.Context, registrar Registrar) (*FirstPartyEndpoint, error) {
	key, err := pki.GenerateIdentityKey()
	if err != nil {
		return nil, err
	}
	reg, err := registrar.RegisterEndpoint(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := checkRegistration(key, reg); err != nil {
		return nil, err
	}

	keyDER, err := pki.MarshalPrivateKey(key)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(keyDER)

	fp := &FirstPartyEndpoint{
		IdentityKey:         key,
		IdentityCertificate: reg.IdentityCertificate,
		GatewayCertificate:  reg.GatewayCertificate,
	}
	err = r.exec.Do(ctx, func(ctx context.Context) error {
		return persistence.Atomic(ctx, r.store, func(ctx context.Context, tx persistence.Store) error {
			if err := r.identityKeys.On(tx).Set(ctx, fp.ID(), keyDER); err != nil {
				return err
			}
			certs := [][]byte{reg.IdentityCertificate.Serialize()}
			if err := r.identityCerts.On(tx).Set(ctx, fp.ID(), certs); err != nil {
				return err
			}
			return r.gatewayCert.On(tx).Set(ctx, reg.GatewayCertificate.Serialize())
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist endpoint %s: %w", fp.ID(), err)
	}

	r.logger.Info(ctx, "first-party endpoint registered", "endpoint_id", fp.ID(),
		"certificate_expiry", fp.IdentityCertificate.Expiry())
	return fp, nil
}

func checkRegistration(key ed25519.PrivateKey, reg *Registration) error {
	if reg == nil || reg.IdentityCertificate == nil || reg.GatewayCertificate == nil {
		return fmt.Errorf("%w: incomplete registration", common.ErrProtocol)
	}
	if !reg.IdentityCertificate.PublicKey().Equal(key.Public()) {
		return fmt.Errorf("%w: gateway certified another key", common.ErrProtocol)
	}
	return nil
}

// LoadFirstParty reconstructs a first-party endpoint. It returns nil when
// no identity key is stored under id.
func (r *Repository) LoadFirstParty(ctx context.Context, id string) (*FirstPartyEndpoint, error) {
	keyDER, ok, err := r.identityKeys.Get(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	key, err := pki.ParsePrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: identity key of %s: %w", common.ErrPersistence, id, err)
	}

	certs, err := r.certificates(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no identity certificate for %s", common.ErrPersistence, id)
	}

	gwDER, ok, err := r.gatewayCert.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no gateway certificate", common.ErrPersistence)
	}
	gw, err := pki.ParseCertificate(gwDER)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway certificate: %w", common.ErrPersistence, err)
	}

	return &FirstPartyEndpoint{IdentityKey: key, IdentityCertificate: certs[0], GatewayCertificate: gw}, nil
}

func (r *Repository) certificates(ctx context.Context, id string) ([]*pki.Certificate, error) {
	ders, _, err := r.identityCerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	certs, err := pki.ParseCertificates(ders)
	if err != nil {
		return nil, fmt.Errorf("%w: identity certificates of %s: %w", common.ErrPersistence, id, err)
	}
	return certs, nil
}

// ListFirstParties loads every registered first-party endpoint.
func (r *Repository) ListFirstParties(ctx context.Context) ([]*FirstPartyEndpoint, error) {
	ids, err := r.identityKeys.List(ctx)
	if err != nil {
		return nil, err
	}
	eps := make([]*FirstPartyEndpoint, 0, len(ids))
	for _, id := range ids {
		fp, err := r.LoadFirstParty(ctx, id)
		if err != nil {
			return nil, err
		}
		if fp != nil {
			eps = append(eps, fp)
		}
	}
	return eps, nil
}

// IsRegistered reports whether an identity key is stored for id.
func (r *Repository) IsRegistered(ctx context.Context, id string) (bool, error) {
	_, ok, err := r.identityKeys.Get(ctx, id)
	return ok, err
}

// UpdateRegistration stores a renewed registration of fp: the new identity
// certificate becomes current, older ones are kept while still valid and
// issued by the same gateway, and the gateway certificate is replaced.
func (r *Repository) UpdateRegistration(ctx context.Context, fp *FirstPartyEndpoint, reg *Registration) (*FirstPartyEndpoint, error) {
	if err := checkRegistration(fp.IdentityKey, reg); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	err := r.exec.Do(ctx, func(ctx context.Context) error {
		old, err := r.certificates(ctx, fp.ID())
		if err != nil {
			return err
		}
		certs := [][]byte{reg.IdentityCertificate.Serialize()}
		for _, c := range old {
			if c.Equal(reg.IdentityCertificate) || c.ValidateAt(now) != nil ||
				!c.IsIssuedBy(reg.GatewayCertificate.PublicKey()) {
				continue
			}
			certs = append(certs, c.Serialize())
		}
		return persistence.Atomic(ctx, r.store, func(ctx context.Context, tx persistence.Store) error {
			if err := r.identityCerts.On(tx).Set(ctx, fp.ID(), certs); err != nil {
				return err
			}
			return r.gatewayCert.On(tx).Set(ctx, reg.GatewayCertificate.Serialize())
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist renewal of %s: %w", fp.ID(), err)
	}
	return &FirstPartyEndpoint{
		IdentityKey:         fp.IdentityKey,
		IdentityCertificate: reg.IdentityCertificate,
		GatewayCertificate:  reg.GatewayCertificate,
	}, nil
}

// Reregister registers the existing identity key of fp again and stores the
// result.
func (r *Repository) Reregister(ctx context.Context, fp *FirstPartyEndpoint, registrar Registrar) (*FirstPartyEndpoint, error) {
	reg, err := registrar.RegisterEndpoint(ctx, fp.IdentityKey)
	if err != nil {
		return nil, err
	}
	return r.UpdateRegistration(ctx, fp, reg)
}

// ExpiringFirstParties returns the endpoints whose current identity
// certificate expires within threshold.
func (r *Repository) ExpiringFirstParties(ctx context.Context, threshold time.Duration) ([]*FirstPartyEndpoint, error) {
	all, err := r.ListFirstParties(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := r.clock.Now().Add(threshold)
	var expiring []*FirstPartyEndpoint
	for _, fp := range all {
		if fp.IdentityCertificate.Expiry().Before(cutoff) {
			expiring = append(expiring, fp)
		}
	}
	return expiring, nil
}

// Signers returns one signer per registered identity and currently valid
// certificate of that identity.
func (r *Repository) Signers(ctx context.Context) ([]*pki.Signer, error) {
	ids, err := r.identityKeys.List(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	var signers []*pki.Signer
	for _, id := range ids {
		keyDER, ok, err := r.identityKeys.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		key, err := pki.ParsePrivateKey(keyDER)
		if err != nil {
			return nil, fmt.Errorf("%w: identity key of %s: %w", common.ErrPersistence, id, err)
		}
		certs, err := r.certificates(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, c := range certs {
			if c.ValidateAt(now) != nil {
				continue
			}
			s, err := pki.NewSigner(c, key)
			if err != nil {
				r.logger.Warn(ctx, "skipping certificate of another key", "endpoint_id", id)
				continue
			}
			signers = append(signers, s)
		}
	}
	return signers, nil
}

func sessionKeyName(firstPartyID string, keyID []byte) string {
	return firstPartyID + "_" + base58.Encode(keyID)
}

// SessionKey returns the session key pair keyID of firstPartyID, or nil.
func (r *Repository) SessionKey(ctx context.Context, firstPartyID string, keyID []byte) (*pki.SessionKeyPair, error) {
	k, ok, err := r.sessionKeys.Get(ctx, sessionKeyName(firstPartyID, keyID))
	if err != nil || !ok {
		return nil, err
	}
	return &k, nil
}

// SessionKeyIDs lists the session key names held for firstPartyID.
func (r *Repository) SessionKeyIDs(ctx context.Context, firstPartyID string) ([]string, error) {
	return r.sessionKeys.ListWithPrefix(ctx, firstPartyID+"_")
}

func (r *Repository) saveSessionKey(ctx context.Context, firstPartyID string, k *pki.SessionKeyPair) error {
	return r.sessionKeys.Set(ctx, sessionKeyName(firstPartyID, k.KeyID), *k)
}
