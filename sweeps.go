package gatewaykit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

// AuthorizationBundleType is the service message type carrying a renewed
// authorization bundle to a private peer.
const AuthorizationBundleType = "application/vnd.gatewaykit.authorization-bundle"

var ErrNotAuthorizationBundle = errors.New("not an authorization bundle")

// RenewExpiringCertificates re-registers every first party whose identity
// certificate expires within the configured threshold. Older certificates
// stay usable until they expire. Failures of single endpoints do not stop
// the sweep; they are returned together.
func (k *Kit) RenewExpiringCertificates(ctx context.Context) error {
	expiring, err := k.endpoints.ExpiringFirstParties(ctx, k.cfg.RenewalThreshold)
	if err != nil {
		return err
	}

	var errs error
	for _, fp := range expiring {
		renewed, err := k.endpoints.Reregister(ctx, fp, k.gateway)
		if err != nil {
			k.logger.Warn(ctx, "certificate renewal failed", "endpoint_id", fp.ID(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("renew %s: %w", fp.ID(), err))
			continue
		}
		k.logger.Info(ctx, "certificate renewed", "endpoint_id", fp.ID(),
			"expiry", renewed.IdentityCertificate.Expiry())
	}
	return errs
}

// HandleGatewayCertificateChange re-registers every first party with the
// current gateway and sends each of its private peers a fresh
// authorization bundle, as the chain in the bundles they hold is no longer
// valid.
func (k *Kit) HandleGatewayCertificateChange(ctx context.Context) error {
	fps, err := k.endpoints.ListFirstParties(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, fp := range fps {
		renewed, err := k.endpoints.Reregister(ctx, fp, k.gateway)
		if err != nil {
			k.logger.Warn(ctx, "re-registration failed", "endpoint_id", fp.ID(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("re-register %s: %w", fp.ID(), err))
			continue
		}
		errs = multierr.Append(errs, k.redistributeBundles(ctx, renewed))
	}
	return errs
}

func (k *Kit) redistributeBundles(ctx context.Context, fp *FirstPartyEndpoint) error {
	peers, err := k.endpoints.ListPrivateThirdParties(ctx, fp.ID())
	if err != nil {
		return fmt.Errorf("list peers of %s: %w", fp.ID(), err)
	}

	var errs error
	for _, peer := range peers {
		if err := k.sendBundle(ctx, fp, peer); err != nil {
			k.logger.Warn(ctx, "bundle redistribution failed", "endpoint_id", fp.ID(),
				"peer_id", peer.ID(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("send bundle from %s to %s: %w", fp.ID(), peer.ID(), err))
		}
	}
	return errs
}

func (k *Kit) sendBundle(ctx context.Context, fp *FirstPartyEndpoint, peer *PrivateThirdPartyEndpoint) error {
	bundle, err := k.endpoints.IssueAuthorizationFor(ctx, fp, peer, fp.IdentityCertificate.Expiry())
	if err != nil {
		return err
	}
	data, err := wire.Marshal(bundle)
	if err != nil {
		return err
	}
	msg, err := k.builder.Build(AuthorizationBundleType, data, fp, peer)
	if err != nil {
		return err
	}
	if err := k.gateway.Bind(ctx); err != nil {
		return err
	}
	return k.gateway.SendMessage(ctx, msg)
}

// AcceptAuthorizationBundle imports the bundle a private peer sent with
// AuthorizationBundleType, replacing what we held for it.
func (k *Kit) AcceptAuthorizationBundle(ctx context.Context, msg *IncomingMessage) (*PrivateThirdPartyEndpoint, error) {
	if msg.Type != AuthorizationBundleType {
		return nil, fmt.Errorf("%w: message type %q", ErrNotAuthorizationBundle, msg.Type)
	}
	peer, ok := msg.Sender.(*PrivateThirdPartyEndpoint)
	if !ok {
		return nil, fmt.Errorf("%w: sender %s is not a private peer", ErrNotAuthorizationBundle, msg.Sender.ID())
	}
	identityKey, err := PublicKeyOf(peer)
	if err != nil {
		return nil, err
	}
	return k.ImportPrivateThirdParty(ctx, identityKey, msg.Content)
}
