package relaytest

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dmitrijs2005/gatewaykit/internal/gateway/grpcrelay"
)

type ctxKey string

const entryPointKey ctxKey = "entryPoint"

func entryPointFrom(ctx context.Context) string {
	ep, _ := ctx.Value(entryPointKey).(string)
	return ep
}

// entryPointInterceptor moves the entry point header into the context.
func entryPointInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(grpcrelay.EntryPointHeader); len(values) > 0 {
			ctx = context.WithValue(ctx, entryPointKey, values[0])
		}
	}
	return handler(ctx, req)
}

func (r *Relay) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(entryPointInterceptor))
	grpcrelay.RegisterRelayServer(srv, r)
	return srv
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (r *Relay) Serve(ctx context.Context, lis net.Listener) error {
	srv := r.newServer()

	go func() {
		<-ctx.Done()
		r.logger.Info(ctx, "Stopping relay...")
		srv.GracefulStop()
	}()

	r.logger.Info(ctx, "Starting relay", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Run listens on address and serves until ctx is done.
func (r *Relay) Run(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return r.Serve(ctx, lis)
}

const bufSize = 1 << 20

// Pipe serves r over an in-memory listener and returns a client connected
// to it. stop closes the client and the server.
func Pipe(r *Relay) (client *grpcrelay.Client, stop func(), err error) {
	lis := bufconn.Listen(bufSize)
	srv := r.newServer()
	go func() { _ = srv.Serve(lis) }()

	client, err = grpcrelay.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		srv.Stop()
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		srv.Stop()
	}, nil
}
