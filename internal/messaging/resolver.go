package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dmitrijs2005/gatewaykit/internal/common"
	"github.com/dmitrijs2005/gatewaykit/internal/endpoints"
	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

// Reasons an inbound item is disregarded.
var (
	ErrMalformedParcel  = errors.New("malformed or invalid parcel")
	ErrUnknownRecipient = fmt.Errorf("%w: recipient", common.ErrUnknownEndpoint)
	ErrUnknownSender    = fmt.Errorf("%w: sender", common.ErrUnknownEndpoint)
	ErrUndecryptable    = errors.New("undecryptable payload")
	ErrInvalidPayload   = errors.New("invalid service message")
)

// IsDisregarded reports whether err means Resolve dropped the item.
func IsDisregarded(err error) bool {
	for _, reason := range []error{ErrMalformedParcel, common.ErrUnknownEndpoint, ErrUndecryptable, ErrInvalidPayload} {
		if errors.Is(err, reason) {
			return true
		}
	}
	return false
}

// InboundItem is one raw parcel collected from the relay.
type InboundItem struct {
	Data []byte
	// TrustedCertificates are the certificates a delegated sender
	// certificate must be issued by.
	TrustedCertificates []*pki.Certificate
	Ack                 func(ctx context.Context) error
}

// EndpointSource is the part of the endpoint repository Resolve needs.
type EndpointSource interface {
	LoadFirstParty(ctx context.Context, id string) (*endpoints.FirstPartyEndpoint, error)
	LoadPrivateThirdParty(ctx context.Context, firstPartyID, thirdPartyID string) (*endpoints.PrivateThirdPartyEndpoint, error)
	LoadPublicThirdParty(ctx context.Context, id string) (*endpoints.PublicThirdPartyEndpoint, error)
	SessionKey(ctx context.Context, firstPartyID string, keyID []byte) (*pki.SessionKeyPair, error)
}

// Resolver turns inbound items into messages.
type Resolver struct {
	endpoints EndpointSource
	clock     clock.Clock
	logger    logging.Logger
}

func NewResolver(src EndpointSource, clk clock.Clock, logger logging.Logger) *Resolver {
	return &Resolver{endpoints: src, clock: clk, logger: logger.With("module", "messaging")}
}

// Resolve decodes, attributes, decrypts and parses item. When any of those
// steps rejects the item, it is acknowledged and a disregard error (see
// IsDisregarded) is returned. Local storage failures are returned without
// acknowledging so that the relay redelivers the item. On success the
// item's acknowledgment is bound to the returned message.
func (r *Resolver) Resolve(ctx context.Context, item InboundItem) (*IncomingMessage, error) {
	msg, err := r.resolve(ctx, item)
	if err == nil {
		return msg, nil
	}
	if !IsDisregarded(err) {
		return nil, err
	}
	r.logger.Debug(ctx, "disregarding incoming parcel", "reason", err)
	if item.Ack != nil {
		if ackErr := item.Ack(ctx); ackErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to acknowledge disregarded parcel: %w", ackErr))
		}
	}
	return nil, err
}

func (r *Resolver) resolve(ctx context.Context, item InboundItem) (*IncomingMessage, error) {
	parcel, senderCert, err := r.validate(item)
	if err != nil {
		return nil, err
	}

	recipient, err := r.endpoints.LoadFirstParty(ctx, parcel.RecipientID)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, fmt.Errorf("%w %s", ErrUnknownRecipient, parcel.RecipientID)
	}

	sender, err := r.sender(ctx, recipient, senderCert)
	if err != nil {
		return nil, err
	}

	keyID, err := pki.SealedKeyID(parcel.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecryptable, err)
	}
	sessionKey, err := r.endpoints.SessionKey(ctx, recipient.ID(), keyID)
	if err != nil {
		return nil, err
	}
	if sessionKey == nil {
		return nil, fmt.Errorf("%w: no session key for %s", ErrUndecryptable, recipient.ID())
	}
	plaintext, err := pki.Open(sessionKey, parcel.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecryptable, err)
	}

	sm, err := wire.ParseServiceMessage(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return &IncomingMessage{
		ID:        parcel.ID,
		Created:   parcel.Created(),
		Expiry:    parcel.Expiry(),
		Sender:    sender,
		Recipient: recipient,
		Type:      sm.Type,
		Content:   sm.Content,
		ack:       item.Ack,
	}, nil
}

// validate checks the parcel structure, signature, validity window and, for
// delegated senders, the certificate path.
func (r *Resolver) validate(item InboundItem) (*wire.Parcel, *pki.Certificate, error) {
	parcel, err := wire.ParseParcel(item.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedParcel, err)
	}
	senderCert, err := pki.ParseCertificate(parcel.SenderCertificate)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sender certificate: %w", ErrMalformedParcel, err)
	}
	chain, err := pki.ParseCertificates(parcel.SenderChain)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sender chain: %w", ErrMalformedParcel, err)
	}

	input, err := parcel.SigningInput()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedParcel, err)
	}
	if err := pki.Verify(senderCert, input, parcel.Signature); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedParcel, err)
	}

	now := r.clock.Now()
	if now.Before(parcel.Created().Add(-pki.ClockDriftTolerance)) {
		return nil, nil, fmt.Errorf("%w: created in the future", ErrMalformedParcel)
	}
	if now.After(parcel.Expiry()) {
		return nil, nil, fmt.Errorf("%w: expired at %s", ErrMalformedParcel, parcel.Expiry())
	}
	if ttl := parcel.Expiry().Sub(parcel.Created()); ttl > MaxTTL {
		return nil, nil, fmt.Errorf("%w: ttl %s exceeds %s", ErrMalformedParcel, ttl, MaxTTL)
	}

	if senderCert.IsSelfIssued() {
		if err := senderCert.ValidateAt(now); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrMalformedParcel, err)
		}
		return parcel, senderCert, nil
	}
	if err := pki.ValidateChain(senderCert, chain, now); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedParcel, err)
	}
	if len(item.TrustedCertificates) > 0 && !issuedByAny(senderCert, item.TrustedCertificates) {
		return nil, nil, fmt.Errorf("%w: sender certificate not issued by a trusted identity", ErrMalformedParcel)
	}
	return parcel, senderCert, nil
}

func issuedByAny(c *pki.Certificate, trusted []*pki.Certificate) bool {
	for _, t := range trusted {
		if c.IsIssuedBy(t.PublicKey()) {
			return true
		}
	}
	return false
}

// sender resolves the sender certificate to a private peer scoped to the
// recipient, falling back to a public peer. A stored peer record that no
// longer decodes counts as unknown: redelivery could never fix it.
func (r *Resolver) sender(ctx context.Context, recipient *endpoints.FirstPartyEndpoint, cert *pki.Certificate) (endpoints.Endpoint, error) {
	ep, err := r.lookupSender(ctx, recipient, cert)
	if errors.Is(err, persistence.ErrMalformedValue) {
		r.logger.Warn(ctx, "unreadable sender record", "sender_id", cert.SubjectID(), "error", err)
		return nil, fmt.Errorf("%w %s: %w", ErrUnknownSender, cert.SubjectID(), err)
	}
	return ep, err
}

func (r *Resolver) lookupSender(ctx context.Context, recipient *endpoints.FirstPartyEndpoint, cert *pki.Certificate) (endpoints.Endpoint, error) {
	recipientID, senderID := recipient.ID(), cert.SubjectID()
	if !cert.IsSelfIssued() {
		// A delegated certificate must have been issued by the recipient.
		if !cert.IsIssuedBy(recipient.PublicKey()) {
			return nil, fmt.Errorf("%w %s: delegation not issued by %s", ErrUnknownSender, senderID, recipientID)
		}
		priv, err := r.endpoints.LoadPrivateThirdParty(ctx, recipientID, senderID)
		if err != nil {
			return nil, err
		}
		if priv == nil {
			return nil, fmt.Errorf("%w %s", ErrUnknownSender, senderID)
		}
		return priv, nil
	}

	priv, err := r.endpoints.LoadPrivateThirdParty(ctx, recipientID, senderID)
	if err != nil {
		return nil, err
	}
	if priv != nil {
		return priv, nil
	}
	pub, err := r.endpoints.LoadPublicThirdParty(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, fmt.Errorf("%w %s", ErrUnknownSender, senderID)
	}
	return pub, nil
}
