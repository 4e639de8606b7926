package serializer

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// NewJSONCodec creates a new codec using json encoding
func NewJSONCodec[T any]() ICodec[T] {
	return jsonCodecImpl[T]{}
}

// jsonCodecImpl implements the ICodec interface using json encoding
type jsonCodecImpl[T any] struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ICodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl[T]) Name() string {
	return "json"
}

func (j jsonCodecImpl[T]) Encode(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "json encode")
	}
	return b, nil
}

func (j jsonCodecImpl[T]) Decode(b []byte, v *T) error {
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, "json decode")
	}
	return nil
}
