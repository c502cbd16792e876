package codec

import (
	"encoding/json"
)

// NewJSONCodec creates a codec using the JSON encoding from the standard
// library. Slow but human-readable; intended for debugging payloads.
func NewJSONCodec[T any]() ICodec[T] {
	return &jsonCodecImpl[T]{}
}

// jsonCodecImpl implements ICodec using encoding/json
type jsonCodecImpl[T any] struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *jsonCodecImpl[T]) Encode(items []T) ([]byte, error) {
	return json.Marshal(items)
}

func (c *jsonCodecImpl[T]) Decode(data []byte) ([]T, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
