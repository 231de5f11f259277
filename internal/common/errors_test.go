package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrUnknownFirstParty_IsUnknownEndpoint(t *testing.T) {
	assert.ErrorIs(t, ErrUnknownFirstParty, ErrUnknownEndpoint)
	assert.False(t, errors.Is(ErrUnknownEndpoint, ErrUnknownFirstParty))
}

func TestSentinels_Distinct(t *testing.T) {
	all := []error{
		ErrBinding, ErrProtocol, ErrRegistrationFailed, ErrSendFailed, ErrRejected,
		ErrUnknownEndpoint, ErrInvalidAuthorization, ErrInvalidConnectionParams, ErrPersistence,
	}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v must not match %v", a, b)
		}
	}
}

func TestWrapped_StillMatches(t *testing.T) {
	err := fmt.Errorf("%w: relay said no", ErrRejected)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "relay said no")
}
