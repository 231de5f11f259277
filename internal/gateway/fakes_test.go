package gateway

import (
	"context"
	"io"
	"sync"

	"github.com/dmitrijs2005/gatewaykit/internal/messaging"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

type fakeConn struct {
	entryPoint string
	request    func(ctx context.Context, payload []byte) ([]byte, error)

	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Request(ctx context.Context, payload []byte) ([]byte, error) {
	if c.request == nil {
		return nil, ErrServer
	}
	return c.request(ctx, payload)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeConnector struct {
	err     error
	request func(ctx context.Context, payload []byte) ([]byte, error)

	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeConnector) Connect(_ context.Context, entryPoint string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{entryPoint: entryPoint, request: f.request}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) connections() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func (f *fakeConnector) entryPoints() []string {
	var out []string
	for _, c := range f.connections() {
		out = append(out, c.entryPoint)
	}
	return out
}

type delivery struct {
	parcel []byte
	signer *pki.Signer
}

type fakeTransport struct {
	register   func(ctx context.Context, request []byte) (*wire.RegistrationResult, error)
	deliverErr error
	collectErr error
	stream     *fakeStream

	mu         sync.Mutex
	deliveries []delivery
	collects   [][]*pki.Signer
}

func (f *fakeTransport) RegisterNode(ctx context.Context, request []byte) (*wire.RegistrationResult, error) {
	if f.register == nil {
		return nil, ErrServer
	}
	return f.register(ctx, request)
}

func (f *fakeTransport) DeliverParcel(_ context.Context, parcel []byte, signer *pki.Signer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.deliveries = append(f.deliveries, delivery{parcel: parcel, signer: signer})
	return nil
}

func (f *fakeTransport) CollectInbound(_ context.Context, signers []*pki.Signer) (InboundStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collects = append(f.collects, signers)
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	if f.stream == nil {
		return &fakeStream{}, nil
	}
	return f.stream, nil
}

func (f *fakeTransport) collectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.collects)
}

// fakeStream yields items, then either ends or, with hold set, blocks
// until its context is done.
type fakeStream struct {
	items []*messaging.InboundItem
	hold  bool
	// waiting is closed once the stream blocks.
	waiting chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Next(ctx context.Context) (*messaging.InboundItem, error) {
	s.mu.Lock()
	if len(s.items) > 0 {
		item := s.items[0]
		s.items = s.items[1:]
		s.mu.Unlock()
		return item, nil
	}
	s.mu.Unlock()
	if !s.hold {
		return nil, io.EOF
	}
	close(s.waiting)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type ackLog struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *ackLog) item(name string, data []byte) *messaging.InboundItem {
	return &messaging.InboundItem{
		Data: data,
		Ack: func(context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.counts == nil {
				l.counts = make(map[string]int)
			}
			l.counts[name]++
			return nil
		},
	}
}

func (l *ackLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[name]
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
