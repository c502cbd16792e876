package codec

import (
	"encoding/binary"
	"fmt"
)

// NewBinaryCodec creates a codec using a custom fixed-width binary format
// optimized for speed and efficiency. Every record occupies exactly width
// bytes; put writes a record into its slot, get reads one back.
func NewBinaryCodec[T any](width int, put func(b []byte, v T), get func(b []byte) T) ICodec[T] {
	return &binaryCodecImpl[T]{width: width, put: put, get: get}
}

// binaryCodecImpl implements ICodec using a fixed-width binary format
type binaryCodecImpl[T any] struct {
	width int
	put   func(b []byte, v T)
	get   func(b []byte) T
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *binaryCodecImpl[T]) Encode(items []T) ([]byte, error) {
	result := make([]byte, 4+len(items)*c.width)
	binary.BigEndian.PutUint32(result[0:4], uint32(len(items)))

	pos := 4
	for i := range items {
		c.put(result[pos:pos+c.width], items[i])
		pos += c.width
	}
	return result, nil
}

func (c *binaryCodecImpl[T]) Decode(data []byte) ([]T, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for record count")
	}
	count := int(binary.BigEndian.Uint32(data[0:4]))
	if len(data) < 4+count*c.width {
		return nil, fmt.Errorf("data too short for %d records of width %d", count, c.width)
	}

	items := make([]T, count)
	pos := 4
	for i := 0; i < count; i++ {
		items[i] = c.get(data[pos : pos+c.width])
		pos += c.width
	}
	return items, nil
}
