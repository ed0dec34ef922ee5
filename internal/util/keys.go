package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CanonicalPart encodes one key element. Every encoding is self-delimiting:
// strings are quoted, numbers and bools never contain a comma.
// All numeric kinds share the "n" tag and integral floats are written in
// integer form, so int(3), int64(3), 3.0 and -0.0 vs 0 compare equal.
func CanonicalPart(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return "s" + strconv.Quote(x), nil
	case bool:
		if x {
			return "b1", nil
		}
		return "b0", nil
	case int:
		return "n" + strconv.FormatInt(int64(x), 10), nil
	case int8:
		return "n" + strconv.FormatInt(int64(x), 10), nil
	case int16:
		return "n" + strconv.FormatInt(int64(x), 10), nil
	case int32:
		return "n" + strconv.FormatInt(int64(x), 10), nil
	case int64:
		return "n" + strconv.FormatInt(x, 10), nil
	case uint:
		return "n" + strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return "n" + strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return "n" + strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return "n" + strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return "n" + strconv.FormatUint(x, 10), nil
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	default:
		return "", fmt.Errorf("unsupported key part %T", v)
	}
}

// 2^63 and 2^64 as float64; both are exact.
const (
	twoTo63 = 9223372036854775808.0
	twoTo64 = 18446744073709551616.0
)

func formatFloat(f float64) (string, error) {
	switch {
	case math.IsNaN(f):
		return "", fmt.Errorf("NaN key part")
	case math.IsInf(f, 0):
		return "n" + strconv.FormatFloat(f, 'g', -1, 64), nil
	case f != math.Trunc(f):
		return "n" + strconv.FormatFloat(f, 'g', -1, 64), nil
	case f == 0:
		return "n0", nil
	case f >= -twoTo63 && f < twoTo63:
		return "n" + strconv.FormatInt(int64(f), 10), nil
	case f >= twoTo63 && f < twoTo64:
		return "n" + strconv.FormatUint(uint64(f), 10), nil
	default:
		return "n" + strconv.FormatFloat(f, 'f', -1, 64), nil
	}
}

// CanonicalParts encodes every element of a key.
func CanonicalParts(parts []any) ([]string, error) {
	out := make([]string, len(parts))
	for i, p := range parts {
		enc, err := CanonicalPart(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// JoinParts returns the map index for already-encoded parts.
func JoinParts(parts []string) string {
	return strings.Join(parts, ",")
}

// HasPrefixParts reports whether prefix is a leading subsequence of parts.
func HasPrefixParts(parts, prefix []string) bool {
	if len(prefix) > len(parts) {
		return false
	}
	for i := range prefix {
		if parts[i] != prefix[i] {
			return false
		}
	}
	return true
}
