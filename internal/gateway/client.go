package gateway

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/messaging"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/serial"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

const (
	DefaultSettleDelay            = time.Second
	DefaultPreRegistrationTimeout = 30 * time.Second
)

type State int

const (
	StateUnbound State = iota
	StateBound
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	default:
		return "unbound"
	}
}

// SignerSource lists the signers inbound collection is authorized with.
type SignerSource interface {
	Signers(ctx context.Context) ([]*pki.Signer, error)
}

// Client drives the connection to the local relay. State transitions run
// on the serial executor shared with the endpoint repository.
type Client struct {
	connector Connector
	transport Transport
	signers   SignerSource
	resolver  *messaging.Resolver
	exec      *serial.Executor

	clock                  clock.Clock
	logger                 logging.Logger
	metrics                *Metrics
	settleDelay            time.Duration
	preRegistrationTimeout time.Duration

	// guarded by exec
	state      State
	conn       Connection
	generation uint64
	bindCtx    context.Context
	bindCancel context.CancelFunc

	polls singleflight.Group
	sink  *messaging.Broadcaster[*messaging.IncomingMessage]
}

type Option func(*Client)

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithSettleDelay(d time.Duration) Option {
	return func(c *Client) { c.settleDelay = d }
}

func WithPreRegistrationTimeout(d time.Duration) Option {
	return func(c *Client) { c.preRegistrationTimeout = d }
}

func NewClient(connector Connector, transport Transport, signers SignerSource, resolver *messaging.Resolver, exec *serial.Executor, opts ...Option) *Client {
	c := &Client{
		connector:              connector,
		transport:              transport,
		signers:                signers,
		resolver:               resolver,
		exec:                   exec,
		clock:                  clock.New(),
		logger:                 logging.Nop(),
		settleDelay:            DefaultSettleDelay,
		preRegistrationTimeout: DefaultPreRegistrationTimeout,
		bindCtx:                context.Background(),
		sink:                   messaging.NewBroadcaster[*messaging.IncomingMessage](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.logger = c.logger.With("module", "gateway")
	return c
}

// State returns the current binding state.
func (c *Client) State(ctx context.Context) State {
	var s State
	_ = c.exec.Do(ctx, func(context.Context) error {
		s = c.state
		return nil
	})
	return s
}

// Bind connects to the relay's sync entry point. It is a no-op when the
// client is already bound.
func (c *Client) Bind(ctx context.Context) error {
	return c.exec.Do(ctx, c.bind)
}

func (c *Client) bind(ctx context.Context) error {
	if c.state == StateBound {
		return nil
	}

	conn, err := c.connector.Connect(ctx, EntryPointSync)
	if err != nil {
		c.metrics.Binds.WithLabelValues(outcome(err)).Inc()
		return fmt.Errorf("%w: %w", common.ErrBinding, err)
	}

	if c.settleDelay > 0 {
		timer := c.clock.Timer(c.settleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			_ = conn.Close()
			c.metrics.Binds.WithLabelValues(outcome(ctx.Err())).Inc()
			return fmt.Errorf("%w: %w", common.ErrBinding, ctx.Err())
		}
	}

	c.conn = conn
	c.generation++
	c.bindCtx, c.bindCancel = context.WithCancel(context.Background())
	c.state = StateBound
	c.metrics.Binds.WithLabelValues(outcome(nil)).Inc()
	c.logger.Debug(ctx, "bound to relay", "generation", c.generation)
	return nil
}

// Unbind closes the relay connection. It is safe to call when unbound.
func (c *Client) Unbind(ctx context.Context) error {
	return c.exec.Do(ctx, func(ctx context.Context) error {
		c.unbind(ctx)
		return nil
	})
}

func (c *Client) unbind(ctx context.Context) {
	if c.bindCancel != nil {
		c.bindCancel()
		c.bindCancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn(ctx, "closing relay connection", "error", err)
		}
		c.conn = nil
	}
	if c.state == StateBound {
		c.logger.Debug(ctx, "unbound from relay", "generation", c.generation)
	}
	c.state = StateUnbound
}

// RegisterEndpoint runs the two-phase registration of key with the relay.
func (c *Client) RegisterEndpoint(ctx context.Context, key ed25519.PrivateKey) (*endpoints.Registration, error) {
	reg, err := c.register(ctx, key)
	c.metrics.Registrations.WithLabelValues(outcome(err)).Inc()
	return reg, err
}

func (c *Client) register(ctx context.Context, key ed25519.PrivateKey) (*endpoints.Registration, error) {
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key", common.ErrRegistrationFailed)
	}
	pubDER, err := pki.MarshalPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err)
	}

	authorization, err := c.preRegister(ctx, pubDER)
	if err != nil {
		return nil, err
	}

	req := wire.RegistrationRequest{PublicKey: pubDER, Authorization: authorization}
	input, err := req.SigningInput()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err)
	}
	req.Signature = ed25519.Sign(key, input)
	data, err := wire.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err)
	}

	var result *wire.RegistrationResult
	err = c.exec.Do(ctx, func(ctx context.Context) error {
		if err := c.bind(ctx); err != nil {
			return err
		}
		var err error
		result, err = c.transport.RegisterNode(ctx, data)
		return err
	})
	if err != nil {
		return nil, mapRegistrationError(err)
	}

	identity, err := pki.ParseCertificate(result.IdentityCertificate)
	if err != nil {
		return nil, fmt.Errorf("%w: identity certificate: %w", common.ErrProtocol, err)
	}
	gatewayCert, err := pki.ParseCertificate(result.GatewayCertificate)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway certificate: %w", common.ErrProtocol, err)
	}
	return &endpoints.Registration{IdentityCertificate: identity, GatewayCertificate: gatewayCert}, nil
}

func mapRegistrationError(err error) error {
	switch {
	case errors.Is(err, common.ErrBinding):
		return err
	case errors.Is(err, ErrClient):
		return fmt.Errorf("%w: %w", common.ErrProtocol, err)
	default:
		return fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err)
	}
}

type reply struct {
	data []byte
	err  error
}

// preRegister asks the relay for a registration authorization over a
// dedicated connection. The reply is awaited through a one-shot future
// bounded by the pre-registration timeout.
func (c *Client) preRegister(ctx context.Context, pubDER []byte) ([]byte, error) {
	// The network calls carry a cancel-only context: the clock may be a
	// mock, and gRPC deadlines are measured against the wall clock.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := c.connector.Connect(ctx, EntryPointRegistration)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.logger.Warn(ctx, "closing registration connection", "error", err)
		}
	}()

	request, err := wire.Marshal(wire.PreRegistrationRequest{PublicKey: pubDER})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err)
	}

	timer := c.clock.Timer(c.preRegistrationTimeout)
	defer timer.Stop()

	future := make(chan reply, 1)
	go func() {
		data, err := conn.Request(ctx, request)
		future <- reply{data: data, err: err}
	}()

	var r reply
	select {
	case r = <-future:
	case <-timer.C:
		return nil, fmt.Errorf("%w: awaiting authorization: %w", common.ErrRegistrationFailed, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: awaiting authorization: %w", common.ErrRegistrationFailed, ctx.Err())
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRegistrationFailed, r.err)
	}

	var env wire.ReplyEnvelope
	if err := wire.Unmarshal(r.data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err)
	}
	if env.Kind != wire.ReplyRegistrationAuthorization {
		return nil, fmt.Errorf("%w: unexpected reply %q", common.ErrRegistrationFailed, env.Kind)
	}
	return env.Payload, nil
}

// SendMessage hands msg to the relay. The client must be bound.
func (c *Client) SendMessage(ctx context.Context, msg *messaging.OutgoingMessage) error {
	err := c.exec.Do(ctx, func(ctx context.Context) error {
		if c.state != StateBound {
			return fmt.Errorf("%w: not bound", common.ErrBinding)
		}
		if err := c.transport.DeliverParcel(ctx, msg.Parcel, msg.Sender.Signer()); err != nil {
			return mapSendError(err)
		}
		return nil
	})
	c.metrics.ParcelsSent.WithLabelValues(outcome(err)).Inc()
	return err
}

func mapSendError(err error) error {
	switch {
	case errors.Is(err, ErrParcelRefused):
		return fmt.Errorf("%w: %w", common.ErrRejected, err)
	case errors.Is(err, ErrClient):
		return fmt.Errorf("%w: %w", common.ErrProtocol, err)
	default:
		return fmt.Errorf("%w: %w", common.ErrSendFailed, err)
	}
}

// Messages subscribes to resolved inbound messages until ctx is done.
func (c *Client) Messages(ctx context.Context) <-chan *messaging.IncomingMessage {
	return c.sink.Subscribe(ctx)
}

// CheckForNewMessages collects pending parcels for every registered first
// party and publishes the resolved messages. Errors are logged, never
// returned. Concurrent calls share one collection. It returns the number of
// messages delivered.
func (c *Client) CheckForNewMessages(ctx context.Context) int {
	// The shared collection outlives any single caller; it stops with the
	// binding it runs on.
	ch := c.polls.DoChan("collect", func() (any, error) {
		return c.collect(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		n, _ := res.Val.(int)
		return n
	case <-ctx.Done():
		return 0
	}
}

func (c *Client) collect(ctx context.Context) int {
	signers, err := c.signers.Signers(ctx)
	if err != nil {
		c.logger.Error(ctx, "loading signers", "error", err)
		return 0
	}
	if len(signers) == 0 {
		c.logger.Debug(ctx, "no registered endpoints, skipping collection")
		return 0
	}

	var (
		transient  bool
		generation uint64
		bindCtx    context.Context
	)
	err = c.exec.Do(ctx, func(ctx context.Context) error {
		if c.state == StateUnbound {
			if err := c.bind(ctx); err != nil {
				return err
			}
			transient = true
		}
		generation, bindCtx = c.generation, c.bindCtx
		return nil
	})
	if err != nil {
		c.logger.Warn(ctx, "binding for collection", "error", err)
		return 0
	}
	if transient {
		defer c.releaseTransient(context.WithoutCancel(ctx), generation)
	}

	// The pull stops when the binding it runs on goes away.
	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(bindCtx, cancel)
	defer stop()

	stream, err := c.transport.CollectInbound(pullCtx, signers)
	if err != nil {
		c.logger.Warn(ctx, "opening collection", "error", err)
		return 0
	}
	defer func() {
		if err := stream.Close(); err != nil {
			c.logger.Debug(ctx, "closing collection", "error", err)
		}
	}()

	trusted := make([]*pki.Certificate, 0, len(signers))
	for _, s := range signers {
		trusted = append(trusted, s.Certificate)
	}

	delivered := 0
	for {
		item, err := stream.Next(pullCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if pullCtx.Err() == nil {
				c.logger.Warn(ctx, "collecting parcels", "error", err)
			}
			break
		}
		if len(item.TrustedCertificates) == 0 {
			item.TrustedCertificates = trusted
		}

		msg, err := c.resolver.Resolve(pullCtx, *item)
		if err != nil {
			if messaging.IsDisregarded(err) {
				c.metrics.ParcelsDisregarded.WithLabelValues(disregardReason(err)).Inc()
			} else {
				c.logger.Error(ctx, "resolving parcel", "error", err)
			}
			continue
		}
		c.sink.Publish(msg)
		c.metrics.ParcelsDelivered.Inc()
		delivered++
	}
	return delivered
}

// releaseTransient unbinds a binding opened for a single collection unless
// it has since been replaced.
func (c *Client) releaseTransient(ctx context.Context, generation uint64) {
	_ = c.exec.Do(ctx, func(ctx context.Context) error {
		if c.state == StateBound && c.generation == generation {
			c.unbind(ctx)
		}
		return nil
	})
}

// Close unbinds and ends every subscription.
func (c *Client) Close(ctx context.Context) error {
	err := c.Unbind(ctx)
	c.sink.Close()
	return err
}
