// Package grpcrelay talks to the local relay over gRPC. Client implements
// both gateway.Connector and gateway.Transport on one client connection.
package grpcrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dmitrijs2005/gatewaykit/internal/gateway"
	"github.com/dmitrijs2005/gatewaykit/internal/messaging"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

type Client struct {
	conn   *grpc.ClientConn
	client RelayClient
}

var (
	_ gateway.Connector = (*Client)(nil)
	_ gateway.Transport = (*Client)(nil)
)

// Dial creates a client for the relay at target. The relay is local, so
// the connection is not encrypted unless opts say otherwise.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: NewRelayClient(conn)}, nil
}

// NewClient wraps an existing relay client, mostly for tests.
func NewClient(client RelayClient) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func withEntryPoint(ctx context.Context, entryPoint string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, EntryPointHeader, entryPoint)
}

// Connect checks that entryPoint answers and returns a connection to it.
func (c *Client) Connect(ctx context.Context, entryPoint string) (gateway.Connection, error) {
	if _, err := c.client.Ping(withEntryPoint(ctx, entryPoint), &emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrBindFailed, mapError(err))
	}
	return &connection{client: c.client, entryPoint: entryPoint}, nil
}

type connection struct {
	client     RelayClient
	entryPoint string

	mu     sync.Mutex
	closed bool
}

func (c *connection) Request(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: connection closed", gateway.ErrBindFailed)
	}

	resp, err := c.client.Request(withEntryPoint(ctx, c.entryPoint), wrapperspb.Bytes(payload))
	if err != nil {
		return nil, mapError(err)
	}
	return resp.GetValue(), nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) RegisterNode(ctx context.Context, request []byte) (*wire.RegistrationResult, error) {
	resp, err := c.client.RegisterNode(ctx, wrapperspb.Bytes(request))
	if err != nil {
		return nil, mapError(err)
	}
	var result wire.RegistrationResult
	if err := wire.Unmarshal(resp.GetValue(), &result); err != nil {
		return nil, fmt.Errorf("%w: registration result: %w", gateway.ErrServer, err)
	}
	return &result, nil
}

func (c *Client) DeliverParcel(ctx context.Context, parcel []byte, signer *pki.Signer) error {
	req, err := wire.Marshal(wire.DeliveryRequest{
		Parcel:      parcel,
		Certificate: signer.Certificate.Serialize(),
		Signature:   signer.Sign(parcel),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrClient, err)
	}
	if _, err := c.client.DeliverParcel(ctx, wrapperspb.Bytes(req)); err != nil {
		return mapError(err)
	}
	return nil
}

// CollectInbound answers the relay's nonce challenge with a signature from
// every signer, then streams the parcels the relay holds for them.
func (c *Client) CollectInbound(ctx context.Context, signers []*pki.Signer) (gateway.InboundStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.client.CollectParcels(ctx)
	if err != nil {
		cancel()
		return nil, mapError(err)
	}

	first, err := stream.Recv()
	if err != nil {
		cancel()
		return nil, mapError(err)
	}
	var challenge wire.CollectionChallenge
	if err := wire.Unmarshal(first.GetValue(), &challenge); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: challenge: %w", gateway.ErrServer, err)
	}

	resp := wire.CollectionResponse{Signatures: make([]wire.NonceSignature, 0, len(signers))}
	for _, s := range signers {
		resp.Signatures = append(resp.Signatures, wire.NonceSignature{
			Certificate: s.Certificate.Serialize(),
			Signature:   s.Sign(challenge.Nonce),
		})
	}
	data, err := wire.Marshal(resp)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", gateway.ErrClient, err)
	}
	if err := stream.Send(wrapperspb.Bytes(data)); err != nil {
		cancel()
		return nil, mapError(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, mapError(err)
	}

	// A rejected response surfaces on the first receive.
	s := &inboundStream{client: c.client, stream: stream, cancel: cancel}
	s.head, s.headErr = stream.Recv()
	if s.headErr != nil && !errors.Is(s.headErr, io.EOF) {
		cancel()
		return nil, mapError(s.headErr)
	}
	s.peeked = true
	return s, nil
}

type inboundStream struct {
	client RelayClient
	stream grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue]
	cancel context.CancelFunc

	peeked  bool
	head    *wrapperspb.BytesValue
	headErr error
}

func (s *inboundStream) recv() (*wrapperspb.BytesValue, error) {
	if s.peeked {
		s.peeked = false
		return s.head, s.headErr
	}
	return s.stream.Recv()
}

func (s *inboundStream) Next(ctx context.Context) (*messaging.InboundItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := s.recv()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, mapError(err)
	}

	var item wire.CollectedItem
	if err := wire.Unmarshal(msg.GetValue(), &item); err != nil {
		return nil, fmt.Errorf("%w: collected item: %w", gateway.ErrServer, err)
	}
	ackID := item.AckID
	return &messaging.InboundItem{
		Data: item.Parcel,
		Ack: func(ctx context.Context) error {
			if _, err := s.client.AckParcel(ctx, wrapperspb.String(ackID)); err != nil {
				return mapError(err)
			}
			return nil
		},
	}, nil
}

func (s *inboundStream) Close() error {
	s.cancel()
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", gateway.ErrClient, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", gateway.ErrParcelRefused, st.Message())
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", gateway.ErrSigning, st.Message())
	case codes.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("%w: %w", gateway.ErrServer, err)
	}
}
