package serializer

// NewRawCodec creates a codec that passes payloads through unchanged
func NewRawCodec() ICodec[[]byte] {
	return rawCodecImpl{}
}

// NewStringCodec creates a codec for plain text payloads
func NewStringCodec() ICodec[string] {
	return stringCodecImpl{}
}

// rawCodecImpl implements the ICodec interface for opaque byte payloads
type rawCodecImpl struct {
}

// stringCodecImpl implements the ICodec interface for text payloads
type stringCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.ICodec)
// --------------------------------------------------------------------------

func (rawCodecImpl) Name() string {
	return "raw"
}

func (rawCodecImpl) Encode(v []byte) ([]byte, error) {
	return v, nil
}

func (rawCodecImpl) Decode(b []byte, v *[]byte) error {
	*v = b
	return nil
}

func (stringCodecImpl) Name() string {
	return "string"
}

func (stringCodecImpl) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

func (stringCodecImpl) Decode(b []byte, v *string) error {
	*v = string(b)
	return nil
}
