package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

var (
	ErrContentTooLarge = errors.New("message content too large")
	ErrInvalidExpiry   = errors.New("message expiry precedes its creation")
)

type buildOptions struct {
	expiry time.Time
	id     string
}

type BuildOption func(*buildOptions)

// WithExpiry sets the expiry date. It is capped at MaxTTL after creation.
func WithExpiry(t time.Time) BuildOption {
	return func(o *buildOptions) { o.expiry = t }
}

// WithID sets the parcel id instead of a random UUID.
func WithID(id string) BuildOption {
	return func(o *buildOptions) { o.id = id }
}

// Builder builds outgoing parcels.
type Builder struct {
	clock clock.Clock
}

func NewBuilder(clk clock.Clock) *Builder {
	return &Builder{clock: clk}
}

// Build seals a service message from sender to recipient.
//
// A public recipient gets a self-signed sender certificate minted for the
// message's validity window and no chain. A private recipient gets the
// delegation it issued to sender along with its chain.
func (b *Builder) Build(msgType string, content []byte, sender *endpoints.FirstPartyEndpoint, recipient endpoints.Endpoint, opts ...BuildOption) (*OutgoingMessage, error) {
	if len(content) > MaxContentSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrContentTooLarge, len(content), MaxContentSize)
	}

	now := b.clock.Now()
	o := buildOptions{
		expiry: now.Add(MaxTTL - pki.ClockDriftTolerance),
		id:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	created := now.Add(-pki.ClockDriftTolerance).Truncate(time.Second)
	expiry := o.expiry.Truncate(time.Second)
	if limit := created.Add(MaxTTL); expiry.After(limit) {
		expiry = limit
	}

	var (
		senderCert *pki.Certificate
		chain      []*pki.Certificate
		address    string
		sessionKey wire.SessionKey
	)
	switch r := recipient.(type) {
	case *endpoints.PublicThirdPartyEndpoint:
		if !expiry.After(created) {
			return nil, ErrInvalidExpiry
		}
		cert, err := pki.IssueCertificate(pki.IssueOptions{
			SubjectKey: sender.PublicKey(),
			IssuerKey:  sender.IdentityKey,
			NotBefore:  created,
			NotAfter:   expiry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to mint sender certificate: %w", err)
		}
		senderCert, address, sessionKey = cert, r.Address, r.SessionKey
	case *endpoints.PrivateThirdPartyEndpoint:
		if r.FirstPartyID != sender.ID() {
			return nil, fmt.Errorf("%w: %s did not authorize %s", common.ErrInvalidAuthorization, r.ID(), sender.ID())
		}
		if pdaExpiry := r.PDA.Expiry(); expiry.After(pdaExpiry) {
			expiry = pdaExpiry
		}
		if !expiry.After(now) {
			return nil, fmt.Errorf("%w: delegation from %s expired", common.ErrInvalidAuthorization, r.ID())
		}
		senderCert, chain, sessionKey = r.PDA, r.PDAChain, r.SessionKey
	case *endpoints.FirstPartyEndpoint:
		return nil, fmt.Errorf("%w: cannot send to first-party endpoint %s", common.ErrUnknownEndpoint, r.ID())
	default:
		return nil, fmt.Errorf("unsupported endpoint type %T", recipient)
	}
	if !expiry.After(created) {
		return nil, ErrInvalidExpiry
	}

	plaintext, err := wire.Marshal(wire.ServiceMessage{Type: msgType, Content: content})
	if err != nil {
		return nil, err
	}
	payload, err := pki.Seal(sessionKey, plaintext)
	if err != nil {
		return nil, err
	}

	chainDER := make([][]byte, 0, len(chain))
	for _, c := range chain {
		chainDER = append(chainDER, c.Serialize())
	}
	parcel := &wire.Parcel{
		ID:                o.id,
		RecipientID:       recipient.ID(),
		RecipientAddress:  address,
		CreationDate:      created.Unix(),
		TTL:               uint32(expiry.Sub(created) / time.Second),
		SenderCertificate: senderCert.Serialize(),
		SenderChain:       chainDER,
		Payload:           payload,
	}
	input, err := parcel.SigningInput()
	if err != nil {
		return nil, err
	}
	parcel.Signature = sender.Signer().Sign(input)
	data, err := wire.Marshal(parcel)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxParcelSize {
		return nil, fmt.Errorf("%w: parcel is %d bytes", ErrContentTooLarge, len(data))
	}

	return &OutgoingMessage{
		ID:                o.id,
		Created:           created,
		Expiry:            expiry,
		Sender:            sender,
		Recipient:         recipient,
		Type:              msgType,
		Content:           content,
		Parcel:            data,
		SenderCertificate: senderCert,
		SenderChain:       chain,
	}, nil
}
