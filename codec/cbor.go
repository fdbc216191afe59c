package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR stores entries in CBOR keyed by their cbor tags. Build it with
// NewCBOR; the zero value has no modes and fails.
//
// With deterministic set, encoding follows the RFC 8949 core deterministic
// rules, so equal entries (checksum maps included) encode to equal bytes.
// Timestamps are RFC3339Nano text. Payloads repeating a map key are
// rejected as corrupt.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec cbor: %w", err)
	}
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec cbor: %w", err)
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) {
	if c.enc == nil {
		return nil, fmt.Errorf("codec cbor: not initialized, use NewCBOR")
	}
	b, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec cbor: encode entry: %w", err)
	}
	return b, nil
}

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if c.dec == nil {
		return v, fmt.Errorf("codec cbor: not initialized, use NewCBOR")
	}
	if err := c.dec.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("codec cbor: decode entry: %w", err)
	}
	return v, nil
}
