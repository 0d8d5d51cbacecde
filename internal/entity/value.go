package entity

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
	"unicode/utf16"

	"github.com/cockroachdb/apd/v3"
)

// Value is a sealed interface over the types a semantic field may hold.
// Only String, Int, Bool, Decimal, Time, Array, and Object implement it.
// There is deliberately no float type - binary floats have no canonical
// textual form and would break hash determinism.
type Value interface {
	value() // Sealed - only these types implement it
}

// String is a string field value.
type String string

func (String) value() {}

// Int is an integer field value. Always int64, never float64.
type Int int64

func (Int) value() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// Decimal is an exact decimal field value held in canonical form:
// plain notation (no exponent), no trailing fractional zeros, and a
// leading zero before the decimal point ("0.5", never ".5" or "5e-1").
// Construct via NewDecimal so every Decimal carries the canonical text.
type Decimal string

func (Decimal) value() {}

// Time is a timestamp field value. Canonical rendering is RFC 3339 in
// UTC, truncated to whole seconds.
type Time time.Time

func (Time) value() {}

// Array is an ordered list of values. Element order is semantically
// meaningful (e.g. shipment leg sequence) and is preserved as-is.
type Array []Value

func (Array) value() {}

// Object maps field names to values. Use SortedKeys for deterministic
// iteration.
type Object map[string]Value

func (Object) value() {}

// NewDecimal parses s as an exact decimal and returns it in canonical
// form. Scientific notation and trailing zeros in the input are
// accepted and collapsed: "1.50", "1.5", and "15e-1" all canonicalize
// to "1.5".
func NewDecimal(s string) (Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	d.Reduce(d)
	// Text('f') renders plain notation with no exponent.
	return Decimal(d.Text('f')), nil
}

// MustDecimal is like NewDecimal but panics on error. Use only in tests
// or with literal inputs known to be valid.
func MustDecimal(s string) Decimal {
	d, err := NewDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewTime returns t normalized to its canonical form: UTC, truncated to
// whole seconds.
func NewTime(t time.Time) Time {
	return Time(t.UTC().Truncate(time.Second))
}

// Canonical returns the canonical textual rendering of the timestamp.
func (t Time) Canonical() string {
	return time.Time(t).UTC().Truncate(time.Second).Format(time.RFC3339)
}

// MarshalJSON renders the timestamp in canonical form so storage
// serialization round-trips losslessly through schema coercion.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Canonical())
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code
// units). Go's sort.Strings uses UTF-8 byte order, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as required
// by RFC 8785. utf16.Encode handles surrogate pairs correctly.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// Clone returns a deep copy of the object. Records handed to the write
// path are cloned so later caller mutation cannot corrupt hashing.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		// String, Int, Bool, Decimal, Time are value types.
		return v
	}
}
