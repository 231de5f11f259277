// Package relaytest is an in-process relay speaking the gatewaykit relay
// protocol. It backs integration tests and the development relay binary.
package relaytest

import (
	"context"
	"crypto/ed25519"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/gateway"
	"github.com/dmitrijs2005/gatewaykit/internal/gateway/grpcrelay"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/pki/ca"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

// DefaultValidity is how long issued identity certificates last.
const DefaultValidity = 180 * 24 * time.Hour

type queued struct {
	ackID     string
	recipient string
	parcel    []byte
}

// Relay holds parcels per recipient until they are acknowledged. Collected
// but unacknowledged parcels are handed out again on the next collection.
type Relay struct {
	ca       *ca.Authority
	clock    clock.Clock
	logger   logging.Logger
	validity time.Duration

	mu             sync.Mutex
	authorizations map[string]string
	queue          []queued
	acked          []string
	entryPoints    []string
	registrations  int

	// Failure knobs.
	unavailable    bool
	refuseParcels  bool
	failRegistrant bool
}

type Option func(*Relay)

func WithClock(clk clock.Clock) Option {
	return func(r *Relay) { r.clock = clk }
}

func WithLogger(l logging.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

func WithValidity(d time.Duration) Option {
	return func(r *Relay) { r.validity = d }
}

// WithCA makes the relay issue certificates with authority.
func WithCA(authority *ca.Authority) Option {
	return func(r *Relay) { r.ca = authority }
}

func New(opts ...Option) *Relay {
	r := &Relay{
		clock:          clock.New(),
		logger:         logging.Nop(),
		validity:       DefaultValidity,
		authorizations: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ca == nil {
		r.ca = ca.MustNew(r.clock.Now())
	}
	r.logger = r.logger.With("module", "relay")
	return r
}

// Certificate is the relay's own certificate, the gateway certificate of
// every endpoint it registers.
func (r *Relay) Certificate() *pki.Certificate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ca.Certificate
}

// RotateCertificate replaces the relay's certificate authority, as happens
// when the gateway changes.
func (r *Relay) RotateCertificate() *pki.Certificate {
	next := ca.MustNew(r.clock.Now())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ca = next
	return next.Certificate
}

// SetUnavailable makes every call fail with codes.Unavailable.
func (r *Relay) SetUnavailable(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = v
}

// SetRefuseParcels makes DeliverParcel refuse everything.
func (r *Relay) SetRefuseParcels(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refuseParcels = v
}

// SetFailRegistration makes RegisterNode fail with an internal error.
func (r *Relay) SetFailRegistration(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failRegistrant = v
}

// Enqueue stores parcel for recipientID as if another node had sent it.
func (r *Relay) Enqueue(recipientID string, parcel []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueue(recipientID, parcel)
}

func (r *Relay) enqueue(recipientID string, parcel []byte) string {
	id := uuid.NewString()
	r.queue = append(r.queue, queued{ackID: id, recipient: recipientID, parcel: parcel})
	return id
}

// Pending returns the parcels held for recipientID.
func (r *Relay) Pending(recipientID string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, q := range r.queue {
		if q.recipient == recipientID {
			out = append(out, q.parcel)
		}
	}
	return out
}

// Acked returns the acknowledged ids in order.
func (r *Relay) Acked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.acked...)
}

// EntryPoints returns the entry points connected to so far.
func (r *Relay) EntryPoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entryPoints...)
}

// Registrations counts completed registrations.
func (r *Relay) Registrations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registrations
}

func (r *Relay) checkAvailable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return status.Error(codes.Unavailable, "relay unavailable")
	}
	return nil
}

func (r *Relay) Ping(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := r.checkAvailable(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entryPoints = append(r.entryPoints, entryPointFrom(ctx))
	r.mu.Unlock()
	return &emptypb.Empty{}, nil
}

// Request serves pre-registration on the registration entry point.
func (r *Relay) Request(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := r.checkAvailable(); err != nil {
		return nil, err
	}
	if ep := entryPointFrom(ctx); ep != gateway.EntryPointRegistration {
		return reply(wire.ReplyError, []byte("unsupported entry point "+ep))
	}

	var req wire.PreRegistrationRequest
	if err := wire.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, err := pki.ParsePublicKey(req.PublicKey); err != nil {
		return reply(wire.ReplyError, []byte(err.Error()))
	}

	token, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	r.mu.Lock()
	r.authorizations[token] = string(req.PublicKey)
	r.mu.Unlock()
	return reply(wire.ReplyRegistrationAuthorization, []byte(token))
}

func reply(kind string, payload []byte) (*wrapperspb.BytesValue, error) {
	data, err := wire.Marshal(wire.ReplyEnvelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}

func (r *Relay) RegisterNode(_ context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := r.checkAvailable(); err != nil {
		return nil, err
	}

	var req wire.RegistrationRequest
	if err := wire.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	pub, err := pki.ParsePublicKey(req.PublicKey)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	input, err := req.SigningInput()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !ed25519.Verify(pub, input, req.Signature) {
		return nil, status.Error(codes.Unauthenticated, "bad registration signature")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRegistrant {
		return nil, status.Error(codes.Internal, "registration failed")
	}
	token := string(req.Authorization)
	if r.authorizations[token] != string(req.PublicKey) {
		return nil, status.Error(codes.InvalidArgument, "unknown registration authorization")
	}
	delete(r.authorizations, token)

	cert, err := r.ca.Issue(pub, r.clock.Now(), r.validity)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	data, err := wire.Marshal(wire.RegistrationResult{
		IdentityCertificate: cert.Serialize(),
		GatewayCertificate:  r.ca.Certificate.Serialize(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	r.registrations++
	r.logger.Info(context.Background(), "node registered", "node_id", cert.SubjectID())
	return wrapperspb.Bytes(data), nil
}

func (r *Relay) DeliverParcel(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if err := r.checkAvailable(); err != nil {
		return nil, err
	}

	var req wire.DeliveryRequest
	if err := wire.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	cert, err := pki.ParseCertificate(req.Certificate)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := pki.Verify(cert, req.Parcel, req.Signature); err != nil {
		return nil, status.Error(codes.Unauthenticated, "bad delivery signature")
	}
	parcel, err := wire.ParseParcel(req.Parcel)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuseParcels {
		return nil, status.Error(codes.PermissionDenied, "parcel refused")
	}
	if !r.trusted(cert) {
		return nil, status.Error(codes.Unauthenticated, "sender is not registered here")
	}
	id := r.enqueue(parcel.RecipientID, req.Parcel)
	r.logger.Debug(ctx, "parcel queued", "recipient", parcel.RecipientID, "ack_id", id)
	return &emptypb.Empty{}, nil
}

// trusted reports whether cert was issued by this relay and is valid now.
// The caller holds r.mu.
func (r *Relay) trusted(cert *pki.Certificate) bool {
	return cert.IsIssuedBy(r.ca.Certificate.PublicKey()) && cert.ValidateAt(r.clock.Now()) == nil
}

// CollectParcels challenges the collector to sign a nonce with every
// identity it collects for, then streams what is held for them.
func (r *Relay) CollectParcels(stream grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]) error {
	if err := r.checkAvailable(); err != nil {
		return err
	}

	nonce := common.GenerateRandByteArray(32)
	challenge, err := wire.Marshal(wire.CollectionChallenge{Nonce: nonce})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := stream.Send(wrapperspb.Bytes(challenge)); err != nil {
		return err
	}

	in, err := stream.Recv()
	if err != nil {
		return err
	}
	var resp wire.CollectionResponse
	if err := wire.Unmarshal(in.GetValue(), &resp); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if len(resp.Signatures) == 0 {
		return status.Error(codes.InvalidArgument, "no nonce signatures")
	}

	recipients := make(map[string]bool, len(resp.Signatures))
	r.mu.Lock()
	for _, s := range resp.Signatures {
		cert, err := pki.ParseCertificate(s.Certificate)
		if err != nil {
			r.mu.Unlock()
			return status.Error(codes.InvalidArgument, err.Error())
		}
		if !r.trusted(cert) || pki.Verify(cert, nonce, s.Signature) != nil {
			r.mu.Unlock()
			return status.Error(codes.Unauthenticated, "bad nonce signature")
		}
		recipients[cert.SubjectID()] = true
	}
	var items []queued
	for _, q := range r.queue {
		if recipients[q.recipient] {
			items = append(items, q)
		}
	}
	r.mu.Unlock()

	ctx := stream.Context()
	r.logger.Debug(ctx, "collection", "recipients", sortedKeys(recipients), "parcels", len(items))
	for _, q := range items {
		data, err := wire.Marshal(wire.CollectedItem{AckID: q.ackID, Parcel: q.parcel})
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(wrapperspb.Bytes(data)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) AckParcel(_ context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.queue {
		if q.ackID == in.GetValue() {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			r.acked = append(r.acked, q.ackID)
			return &emptypb.Empty{}, nil
		}
	}
	return nil, status.Error(codes.NotFound, "unknown parcel")
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ grpcrelay.RelayServer = (*Relay)(nil)
