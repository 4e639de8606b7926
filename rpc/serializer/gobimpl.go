package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/cockroachdb/errors"
)

// NewGOBCodec creates a new codec using Go's binary gob format
func NewGOBCodec[T any]() ICodec[T] {
	return gobCodecImpl[T]{}
}

// gobCodecImpl implements the ICodec interface using gob encoding
type gobCodecImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ICodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl[T]) Name() string {
	return "gob"
}

func (g gobCodecImpl[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "gob encode")
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl[T]) Decode(b []byte, v *T) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "gob decode")
	}
	return nil
}
