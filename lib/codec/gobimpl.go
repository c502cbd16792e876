package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGobCodec creates a codec using the gob encoding from the standard
// library. Works for arbitrary record types without a put/get pair.
func NewGobCodec[T any]() ICodec[T] {
	return &gobCodecImpl[T]{}
}

// gobCodecImpl implements ICodec using encoding/gob
type gobCodecImpl[T any] struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *gobCodecImpl[T]) Encode(items []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *gobCodecImpl[T]) Decode(data []byte) ([]T, error) {
	var items []T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}
