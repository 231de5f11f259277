package gateway

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gatewaykit/internal/messaging"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

// Relay entry points.
const (
	EntryPointSync         = "sync"
	EntryPointRegistration = "registration"
)

// Errors reported by relay collaborators. The client maps them onto the
// common taxonomy.
var (
	ErrBindFailed    = errors.New("relay connection failed")
	ErrServer        = errors.New("relay server error")
	ErrClient        = errors.New("relay rejected request as malformed")
	ErrParcelRefused = errors.New("relay refused parcel")
	ErrSigning       = errors.New("relay rejected signature")
)

// Connection is a request/reply channel to one relay entry point.
type Connection interface {
	Request(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// Connector opens connections to relay entry points. Failures wrap
// ErrBindFailed.
type Connector interface {
	Connect(ctx context.Context, entryPoint string) (Connection, error)
}

// InboundStream yields collected parcels until io.EOF.
type InboundStream interface {
	Next(ctx context.Context) (*messaging.InboundItem, error)
	Close() error
}

// Transport is the store-and-forward delivery client.
type Transport interface {
	// RegisterNode submits a signed registration request.
	RegisterNode(ctx context.Context, request []byte) (*wire.RegistrationResult, error)

	// DeliverParcel hands a parcel to the relay, countersigned by signer.
	DeliverParcel(ctx context.Context, parcel []byte, signer *pki.Signer) error

	// CollectInbound opens a collection for the identities of signers. It
	// fails eagerly with ErrServer, ErrClient or ErrSigning.
	CollectInbound(ctx context.Context, signers []*pki.Signer) (InboundStream, error)
}
