package codec

// IValueCodec is the interface for all value codecs used by the stores.
type IValueCodec interface {
	// Encode converts a raw byte payload into its canonical textual form.
	// The encoding must be deterministic and reversible.
	Encode(value []byte) (string, error)
	// Decode converts the canonical textual form back into the original
	// byte payload. It returns an error for any malformed input.
	Decode(s string) ([]byte, error)
}
