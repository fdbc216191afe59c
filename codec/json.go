package codec

import (
	"encoding/json"
	"fmt"
)

// JSON stores entries as their json tags describe them. It is what ByName
// picks when no codec is configured, and the zero value is usable.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec json: encode entry: %w", err)
	}
	return b, nil
}

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("codec json: decode entry: %w", err)
	}
	return v, nil
}
