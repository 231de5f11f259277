// Package gatewaykit lets an application exchange end-to-end encrypted
// messages with other endpoints through a local store-and-forward relay.
//
// A Kit owns everything one application instance needs: its storage, the
// endpoint repository, the channel links between endpoints and the client
// of the relay. Create one with New and Close it when done.
package gatewaykit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dmitrijs2005/gatewaykit/internal/channel"
	"github.com/dmitrijs2005/gatewaykit/internal/config"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/gateway"
	"github.com/dmitrijs2005/gatewaykit/internal/gateway/grpcrelay"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/messaging"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/serial"
	"github.com/dmitrijs2005/gatewaykit/internal/storage"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

type Kit struct {
	cfg    *config.Config
	clock  clock.Clock
	logger logging.Logger

	store     persistence.Store
	exec      *serial.Executor
	channels  *channel.Manager
	endpoints *endpoints.Repository
	builder   *messaging.Builder
	gateway   *gateway.Client

	// Closed by Close when the Kit opened them.
	storage storage.Manager
	relay   *grpcrelay.Client
}

// New opens the configured storage, dials the relay and wires the
// components on top of them. Nothing is sent to the relay until the first
// operation that needs it.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Kit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{clock: clock.New()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		l, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		o.logger = l
	}

	k := &Kit{cfg: cfg, clock: o.clock, logger: o.logger.With("module", "kit")}

	k.store = o.store
	if k.store == nil {
		m, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		k.storage, k.store = m, m.Store()
	}

	relay := o.relay
	if relay == nil {
		c, err := grpcrelay.Dial(cfg.Relay.Target)
		if err != nil {
			_ = k.closeOwned()
			return nil, fmt.Errorf("relay client error: %w", err)
		}
		k.relay, relay = c, c
	}

	k.exec = serial.New()
	k.channels = channel.NewManager(k.store, k.exec, o.logger)
	k.endpoints = endpoints.NewRepository(k.store, k.exec, k.channels, o.clock, o.logger)
	k.builder = messaging.NewBuilder(o.clock)
	k.gateway = gateway.NewClient(relay, relay, k.endpoints,
		messaging.NewResolver(k.endpoints, o.clock, o.logger), k.exec,
		gateway.WithClock(o.clock),
		gateway.WithLogger(o.logger),
		gateway.WithMetrics(gateway.NewMetrics(o.registerer)),
		gateway.WithSettleDelay(cfg.Relay.SettleDelay),
		gateway.WithPreRegistrationTimeout(cfg.Relay.PreRegistrationTimeout),
	)

	k.logger.Info(ctx, "gatewaykit ready", "relay", cfg.Relay.Target, "storage", cfg.Storage.Backend)
	return k, nil
}

// Close unbinds from the relay, ends message subscriptions and releases the
// storage and relay connection the Kit opened.
func (k *Kit) Close(ctx context.Context) error {
	err := k.gateway.Close(ctx)
	k.exec.Halt()
	return multierr.Append(err, k.closeOwned())
}

func (k *Kit) closeOwned() error {
	var err error
	if k.relay != nil {
		err = multierr.Append(err, k.relay.Close())
	}
	if k.storage != nil {
		err = multierr.Append(err, k.storage.Close())
	}
	return err
}

// Bind connects to the relay. Sending requires a binding; collection binds
// on its own when needed.
func (k *Kit) Bind(ctx context.Context) error {
	return k.gateway.Bind(ctx)
}

func (k *Kit) Unbind(ctx context.Context) error {
	return k.gateway.Unbind(ctx)
}

func (k *Kit) State(ctx context.Context) State {
	return k.gateway.State(ctx)
}

// Register creates a first-party endpoint registered with the relay.
func (k *Kit) Register(ctx context.Context) (*FirstPartyEndpoint, error) {
	return k.endpoints.Register(ctx, k.gateway)
}

// LoadFirstParty returns the first party with id, or nil if there is none.
func (k *Kit) LoadFirstParty(ctx context.Context, id string) (*FirstPartyEndpoint, error) {
	return k.endpoints.LoadFirstParty(ctx, id)
}

func (k *Kit) ListFirstParties(ctx context.Context) ([]*FirstPartyEndpoint, error) {
	return k.endpoints.ListFirstParties(ctx)
}

// IssueAuthorization returns a serialized bundle allowing the holder of
// the PKIX encoded subjectKey to message fp until expiry.
func (k *Kit) IssueAuthorization(ctx context.Context, fp *FirstPartyEndpoint, subjectKey []byte, expiry time.Time) ([]byte, error) {
	bundle, err := k.endpoints.IssueAuthorization(ctx, fp, subjectKey, expiry)
	if err != nil {
		return nil, err
	}
	return wire.Marshal(bundle)
}

// ImportPrivateThirdParty stores the peer owning identityKey (PKIX) which
// authorized one of our first parties with the serialized bundle.
func (k *Kit) ImportPrivateThirdParty(ctx context.Context, identityKey, bundle []byte) (*PrivateThirdPartyEndpoint, error) {
	b, err := wire.ParseAuthorizationBundle(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAuthorization, err)
	}
	return k.endpoints.ImportPrivateThirdParty(ctx, identityKey, b)
}

// IssueConnectionParams returns the serialized parameters peers need to
// reach fp as a public endpoint at address.
func (k *Kit) IssueConnectionParams(ctx context.Context, fp *FirstPartyEndpoint, address string) ([]byte, error) {
	params, err := k.endpoints.IssueConnectionParams(ctx, fp, address)
	if err != nil {
		return nil, err
	}
	return wire.Marshal(params)
}

// ImportPublicThirdParty stores the public endpoint described by the
// serialized connection parameters.
func (k *Kit) ImportPublicThirdParty(ctx context.Context, params []byte) (*PublicThirdPartyEndpoint, error) {
	p, err := wire.ParsePublicEndpointParams(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConnectionParams, err)
	}
	return k.endpoints.ImportPublicThirdParty(ctx, p)
}

func (k *Kit) LoadPrivateThirdParty(ctx context.Context, firstPartyID, thirdPartyID string) (*PrivateThirdPartyEndpoint, error) {
	return k.endpoints.LoadPrivateThirdParty(ctx, firstPartyID, thirdPartyID)
}

func (k *Kit) LoadPublicThirdParty(ctx context.Context, id string) (*PublicThirdPartyEndpoint, error) {
	return k.endpoints.LoadPublicThirdParty(ctx, id)
}

// LinkedEndpoints returns the ids of the third parties fp is linked to.
func (k *Kit) LinkedEndpoints(ctx context.Context, firstPartyID string) ([]string, error) {
	return k.channels.LinkedEndpointAddresses(ctx, firstPartyID)
}

// Delete removes e with everything scoped to it.
func (k *Kit) Delete(ctx context.Context, e Endpoint) error {
	return k.endpoints.Delete(ctx, e)
}

// BuildMessage wraps content into a parcel from sender to recipient.
func (k *Kit) BuildMessage(msgType string, content []byte, sender *FirstPartyEndpoint, recipient Endpoint, opts ...BuildOption) (*OutgoingMessage, error) {
	return k.builder.Build(msgType, content, sender, recipient, opts...)
}

// SendMessage hands msg to the relay. The Kit must be bound.
func (k *Kit) SendMessage(ctx context.Context, msg *OutgoingMessage) error {
	return k.gateway.SendMessage(ctx, msg)
}

// Send builds and sends a message in one step.
func (k *Kit) Send(ctx context.Context, msgType string, content []byte, sender *FirstPartyEndpoint, recipient Endpoint, opts ...BuildOption) (*OutgoingMessage, error) {
	msg, err := k.BuildMessage(msgType, content, sender, recipient, opts...)
	if err != nil {
		return nil, err
	}
	if err := k.SendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages delivers inbound messages until ctx is done. A new subscriber
// first receives the latest message, if any.
func (k *Kit) Messages(ctx context.Context) <-chan *IncomingMessage {
	return k.gateway.Messages(ctx)
}

// CheckForNewMessages collects what the relay holds for our first parties
// and returns how many messages were delivered to subscribers.
func (k *Kit) CheckForNewMessages(ctx context.Context) int {
	return k.gateway.CheckForNewMessages(ctx)
}

// PublicKey returns the PKIX encoding of fp's identity key, the subject key
// peers issue authorizations for.
func PublicKey(fp *FirstPartyEndpoint) ([]byte, error) {
	return pki.MarshalPublicKey(fp.PublicKey())
}

// PublicKeyOf returns the PKIX encoding of a peer's identity key.
func PublicKeyOf(peer *PrivateThirdPartyEndpoint) ([]byte, error) {
	return pki.MarshalPublicKey(peer.IdentityKey)
}
