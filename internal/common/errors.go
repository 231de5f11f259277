// Package common defines the sentinel errors shared by every gatewaykit
// component. Callers should use errors.Is to match these values; components
// wrap them with fmt.Errorf("%w: ...") to add detail.
package common

import (
	"errors"
	"fmt"
)

var (
	// Gateway errors.
	ErrBinding            = errors.New("gateway binding failed")
	ErrProtocol           = errors.New("gateway protocol violation")
	ErrRegistrationFailed = errors.New("endpoint registration failed")
	ErrSendFailed         = errors.New("message delivery failed")
	ErrRejected           = errors.New("message rejected by gateway")

	// Endpoint errors.
	ErrUnknownEndpoint         = errors.New("unknown endpoint")
	ErrUnknownFirstParty       = fmt.Errorf("%w: first party", ErrUnknownEndpoint)
	ErrInvalidAuthorization    = errors.New("invalid authorization")
	ErrInvalidConnectionParams = errors.New("invalid connection params")

	// Storage errors.
	ErrPersistence = errors.New("persistence failure")
)
