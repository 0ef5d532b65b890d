// Package codec converts values to and from bytes. The root package uses the
// deterministic CBOR codec for cache keys; the source package uses any Codec
// to store query values in a byte provider.
package codec

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
