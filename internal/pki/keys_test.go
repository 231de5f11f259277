package pki

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys_RoundTrip(t *testing.T) {
	k := mustKey(t)

	der, err := MarshalPrivateKey(k)
	require.NoError(t, err)
	back, err := ParsePrivateKey(der)
	require.NoError(t, err)
	assert.True(t, back.Equal(k))

	pubDER, err := MarshalPublicKey(pub(k))
	require.NoError(t, err)
	p, err := ParsePublicKey(pubDER)
	require.NoError(t, err)
	assert.True(t, p.Equal(pub(k)))

	assert.Equal(t, NodeID(pub(k)), NodeIDFromDER(pubDER))
}

func TestNodeID_Format(t *testing.T) {
	id := NodeID(pub(mustKey(t)))
	assert.True(t, strings.HasPrefix(id, "0"))
	assert.Len(t, id, 65)
	assert.NotEqual(t, id, NodeID(pub(mustKey(t))))
}

func TestParseKeys_Malformed(t *testing.T) {
	_, err := ParsePublicKey([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedKey)
	_, err = ParsePrivateKey([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedKey)
}
