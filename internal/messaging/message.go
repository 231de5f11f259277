// Package messaging builds outgoing parcels and turns inbound parcels into
// messages, disregarding (but always acknowledging) the ones that cannot be
// attributed or decrypted.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
)

const (
	// MaxTTL bounds the validity window of a parcel.
	MaxTTL = 180 * 24 * time.Hour

	// MaxParcelSize is the largest parcel the relay accepts.
	MaxParcelSize = 8 << 20

	// EnvelopeOverhead is reserved for parcel framing, certificates and
	// payload encryption.
	EnvelopeOverhead = 64 << 10

	// MaxContentSize is the largest service message content Build accepts.
	MaxContentSize = MaxParcelSize - EnvelopeOverhead
)

// OutgoingMessage is a built parcel ready to be handed to the gateway.
type OutgoingMessage struct {
	ID        string
	Created   time.Time
	Expiry    time.Time
	Sender    *endpoints.FirstPartyEndpoint
	Recipient endpoints.Endpoint

	Type    string
	Content []byte

	// Parcel is the serialized, signed envelope.
	Parcel            []byte
	SenderCertificate *pki.Certificate
	SenderChain       []*pki.Certificate
}

func (m *OutgoingMessage) TTL() time.Duration {
	return m.Expiry.Sub(m.Created)
}

// IncomingMessage is a parcel that passed every resolution step.
type IncomingMessage struct {
	ID        string
	Created   time.Time
	Expiry    time.Time
	Sender    endpoints.Endpoint
	Recipient *endpoints.FirstPartyEndpoint

	Type    string
	Content []byte

	ack    func(ctx context.Context) error
	once   sync.Once
	ackErr error
}

// Ack tells the relay it may discard the parcel. Only the first call reaches
// the relay; later calls return its result.
func (m *IncomingMessage) Ack(ctx context.Context) error {
	m.once.Do(func() {
		if m.ack != nil {
			m.ackErr = m.ack(ctx)
		}
	})
	return m.ackErr
}
