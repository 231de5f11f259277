// Package wire defines the CBOR encoding of everything gatewaykit puts on
// the wire or on disk: parcels, service messages, authorization bundles,
// registration messages and relay envelopes.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformed is returned when data does not decode into the expected
// message or fails structural validation.
var ErrMalformed = errors.New("malformed message")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 65536,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v in canonical CBOR so equal values always encode to the
// same bytes, which signatures rely on.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a single CBOR item into v. Trailing bytes are an error.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}
