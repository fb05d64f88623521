// Package canon implements byte-deterministic canonical JSON encoding and
// the manifest self-hash protocol used across the artifact tree: sorted
// keys, minimal separators, NFC-normalized strings, fixed float
// quantization, and SHA-256 digesting over the resulting bytes.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MaxFloatDecimals is the quantization applied to floats before encoding.
const MaxFloatDecimals = 12

// Marshal encodes v as canonical JSON bytes. v may be any JSON-shaped
// Go value (structs with json tags, maps, slices, scalars); it is first
// round-tripped through encoding/json to obtain a generic tree, then
// re-encoded deterministically.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal input: %w", err)
	}
	var generic any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode to generic tree: %w", err)
	}
	var buf strings.Builder
	if err := encodeValue(&buf, generic); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// MustMarshal panics on encoding failure; intended for values whose
// shape is controlled by this codebase and therefore always encodable.
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encodeValue(buf *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, val)
	case string:
		return encodeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canon: unsupported value type %T", v)
	}
}

func encodeString(buf *strings.Builder, s string) error {
	normalized := norm.NFC.String(s)
	b, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("canon: encode string: %w", err)
	}
	buf.Write(b)
	return nil
}

// encodeNumber quantizes floating-point numbers to MaxFloatDecimals
// decimal places and emits integers without a decimal point, yielding a
// round-trippable, deterministic representation regardless of how the
// number arrived (float64, json.Number from a prior decode, etc).
func encodeNumber(buf *strings.Builder, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canon: encode number %q: %w", n.String(), err)
	}
	buf.WriteString(formatFloat(f))
	return nil
}

// formatFloat quantizes f to MaxFloatDecimals decimals and renders it
// with the minimal decimal representation that round-trips.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		// Not representable in JSON; canonical form uses null so that
		// downstream consumers treat it the same as any other NaN-bearing
		// field rather than producing invalid JSON bytes.
		return "null"
	}
	scale := math.Pow(10, MaxFloatDecimals)
	quantized := math.Round(f*scale) / scale
	return strconv.FormatFloat(quantized, 'f', -1, 64)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashValue canonically encodes v and returns its SHA-256 hex digest.
func HashValue(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// Stamp computes the manifest self-hash protocol: it marshals body to a
// map, deletes the hashField key (if present), hashes the canonical
// remainder, and returns a new map with hashField set to that digest.
// The map has no key order; Marshal emits its keys sorted, hashField
// included. body must canonically decode into a JSON object.
func Stamp(body any, hashField string) (map[string]any, error) {
	m, err := toMap(body)
	if err != nil {
		return nil, err
	}
	delete(m, hashField)
	hash, err := HashValue(m)
	if err != nil {
		return nil, err
	}
	m[hashField] = hash
	return m, nil
}

// Verify reverses the Stamp protocol: it checks that m[hashField] equals
// the canonical hash of m with that field omitted.
func Verify(body any, hashField string) (bool, error) {
	m, err := toMap(body)
	if err != nil {
		return false, err
	}
	recorded, _ := m[hashField].(string)
	if recorded == "" {
		return false, fmt.Errorf("canon: missing %s field", hashField)
	}
	delete(m, hashField)
	hash, err := HashValue(m)
	if err != nil {
		return false, err
	}
	return hash == recorded, nil
}

func toMap(body any) (map[string]any, error) {
	if m, ok := body.(map[string]any); ok {
		cloned := make(map[string]any, len(m))
		for k, v := range m {
			cloned[k] = v
		}
		return cloned, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal body: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("canon: body is not a JSON object: %w", err)
	}
	return m, nil
}
