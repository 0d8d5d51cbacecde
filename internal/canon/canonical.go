// Package canon turns a record's semantic fields into one reproducible
// byte payload and hashes it. Everything here is pure: same inputs,
// same bytes, no side effects.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/haulmark/haulmark/internal/entity"
)

// marshalCanonical produces RFC 8785 canonical JSON for an entity value.
//
// Key differences from standard json.Marshal:
// 1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
// 2. No HTML escaping (< > & are NOT escaped)
// 3. Strings are NFC normalized
// 4. Decimals render as exact plain-notation numbers (no exponent)
// 5. No floats, no null (both return an error)
func marshalCanonical(v entity.Value) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case entity.String:
		return marshalCanonicalString(string(val))
	case entity.Int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case entity.Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case entity.Decimal:
		// Already canonical plain-notation text, a valid JSON number.
		return []byte(val), nil
	case entity.Time:
		return marshalCanonicalString(val.Canonical())
	case entity.Array:
		return marshalCanonicalArray(val)
	case entity.Object:
		return marshalCanonicalObject(val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString produces a canonical JSON string with NFC
// normalization. RFC 8785 compliance:
// - No HTML escaping (<, >, & are NOT escaped)
// - U+2028 and U+2029 are NOT escaped
// - Only control characters (U+0000-U+001F), backslash, and quote are escaped
func marshalCanonicalString(s string) ([]byte, error) {
	// NFC normalize at the serialization boundary
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline, remove it
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	// Go's json.Encoder escapes U+2028/U+2029 for JavaScript
	// compatibility, which violates RFC 8785. Unescape them, but leave
	// \\u2028 (escaped backslash followed by literal "u2028") alone.
	result = unescapeU2028U2029(result)

	return result, nil
}

// unescapeU2028U2029 converts \u2028 and \u2029 escape sequences to
// literal characters per RFC 8785, preserving sequences whose leading
// backslash is itself escaped.
func unescapeU2028U2029(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	var result []byte
	i := 0
	for i < len(data) {
		if i+6 <= len(data) && data[i] == '\\' && data[i+1] == 'u' && data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			// Count backslashes immediately before this position in
			// the output built so far. An even count means this \u202x
			// is a real escape sequence to unescape; odd means the
			// backslash belongs to a preceding \\ pair.
			backslashes := 0
			if result == nil {
				for j := i - 1; j >= 0 && data[j] == '\\'; j-- {
					backslashes++
				}
			} else {
				for j := len(result) - 1; j >= 0 && result[j] == '\\'; j-- {
					backslashes++
				}
			}

			if backslashes%2 == 0 {
				if result == nil {
					result = make([]byte, 0, len(data))
					result = append(result, data[:i]...)
				}
				if data[i+5] == '8' {
					result = append(result, "\u2028"...)
				} else {
					result = append(result, "\u2029"...)
				}
				i += 6
				continue
			}
		}

		if result != nil {
			result = append(result, data[i])
		}
		i++
	}

	if result == nil {
		return data
	}
	return result
}

func marshalCanonicalArray(arr entity.Array) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj entity.Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	// RFC 8785 UTF-16 code unit key ordering
	keys := obj.SortedKeys()

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
