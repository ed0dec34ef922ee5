package qcache

import (
	"fmt"

	"github.com/unkn0wn-root/qcache/internal/util"
)

// Key identifies a cached resource. The first element is the resource-class
// tag ("appointments", "user", "staff"); the rest are parameters such as year,
// month or user id. Elements must be strings, bools or numbers.
//
// Numbers compare by value regardless of Go type, so K("appointments", 2024)
// and K("appointments", int64(2024)) are the same key. "2024" and 2024 are not.
type Key []any

// K builds a Key from its parts.
func K(parts ...any) Key { return Key(parts) }

// Class returns the resource-class tag or "" for an empty key.
func (k Key) Class() string {
	if len(k) == 0 {
		return ""
	}
	if s, ok := k[0].(string); ok {
		return s
	}
	return fmt.Sprint(k[0])
}

// Validate reports ErrInvalidKey for empty keys and unsupported element types.
func (k Key) Validate() error {
	_, err := k.parts()
	return err
}

// Equal reports element-wise equality.
func (k Key) Equal(o Key) bool {
	a, err := k.parts()
	if err != nil {
		return false
	}
	b, err := o.parts()
	if err != nil {
		return false
	}
	return len(a) == len(b) && util.HasPrefixParts(a, b)
}

// HasPrefix reports whether prefix is a leading subsequence of k.
// Every key is a prefix of itself.
func (k Key) HasPrefix(prefix Key) bool {
	a, err := k.parts()
	if err != nil {
		return false
	}
	p, err := prefix.parts()
	if err != nil {
		return false
	}
	return util.HasPrefixParts(a, p)
}

// String returns the canonical encoding used to index the cache.
func (k Key) String() string {
	p, err := k.parts()
	if err != nil {
		return fmt.Sprintf("invalid%v", []any(k))
	}
	return util.JoinParts(p)
}

// Clone returns a copy that does not share the backing array.
func (k Key) Clone() Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

func (k Key) parts() ([]string, error) {
	if len(k) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	p, err := util.CanonicalParts(k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return p, nil
}
