package grpcrelay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/gatewaykit/internal/gateway"
)

func TestMapError(t *testing.T) {
	plain := errors.New("plain")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"invalid argument", status.Error(codes.InvalidArgument, "bad"), gateway.ErrClient},
		{"permission denied", status.Error(codes.PermissionDenied, "no"), gateway.ErrParcelRefused},
		{"unauthenticated", status.Error(codes.Unauthenticated, "sig"), gateway.ErrSigning},
		{"unavailable", status.Error(codes.Unavailable, "down"), gateway.ErrServer},
		{"internal", status.Error(codes.Internal, "boom"), gateway.ErrServer},
		{"canceled", status.Error(codes.Canceled, "bye"), context.Canceled},
		{"not a status", plain, plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}
	require.NoError(t, mapError(nil))
}
