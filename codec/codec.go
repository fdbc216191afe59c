// Package codec turns cached entry values into bytes and back.
package codec

import (
	"fmt"
	"strings"
)

// Codec turns an entry into the bytes a provider stores and back. Decode
// errors mark the cached copy as unusable; the cache drops it.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName returns the codec registered under name: json, msgpack or cbor
// (deterministic). maxDecode > 0 wraps it in a Limit.
func ByName[V any](name string, maxDecode int) (Codec[V], error) {
	var c Codec[V]
	switch strings.ToLower(name) {
	case "", "json":
		c = JSON[V]{}
	case "msgpack":
		c = Msgpack[V]{}
	case "cbor":
		cb, err := NewCBOR[V](true)
		if err != nil {
			return nil, err
		}
		c = cb
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if maxDecode > 0 {
		c = Limit[V]{Inner: c, MaxDecode: maxDecode}
	}
	return c, nil
}
