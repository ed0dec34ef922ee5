// Package codec serializes the persisted session value. Pick the one that
// matches how the value type is tagged; JSON is the usual choice for API
// models that already carry json tags.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
