package persistence

import (
	"fmt"

	"github.com/dmitrijs2005/gatewaykit/internal/wire"
)

// Serializer converts values of T to and from their stored form.
type Serializer[T any] interface {
	Serialize(v T) ([]byte, error)
	Deserialize(data []byte) (T, error)
}

type cborSerializer[T any] struct{}

// CBOR returns a Serializer encoding T with the wire codec.
func CBOR[T any]() Serializer[T] {
	return cborSerializer[T]{}
}

func (cborSerializer[T]) Serialize(v T) ([]byte, error) {
	return wire.Marshal(v)
}

func (cborSerializer[T]) Deserialize(data []byte) (T, error) {
	var v T
	if err := wire.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrMalformedValue, err)
	}
	return v, nil
}

type bytesSerializer struct{}

// Bytes stores values verbatim.
func Bytes() Serializer[[]byte] {
	return bytesSerializer{}
}

func (bytesSerializer) Serialize(v []byte) ([]byte, error) { return v, nil }

func (bytesSerializer) Deserialize(data []byte) ([]byte, error) { return data, nil }
