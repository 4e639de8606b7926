package serializer

// ICodec is the interface for all payload codecs used by the typed clients
type ICodec[T any] interface {
	// Name returns the name of the codec (e.g., "json", "gob")
	Name() string
	// Encode serializes a value into a byte array
	// It returns the serialized byte array and an error if any
	Encode(v T) ([]byte, error)
	// Decode deserializes a byte array into a value
	// It takes a byte array and a pointer to the value as parameters
	// It returns an error if any
	Decode(b []byte, v *T) error
}
