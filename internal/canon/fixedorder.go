package canon

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/haulmark/haulmark/internal/entity"
)

// encodeFixedOrder builds the payload body for StrategyFixedOrder
// entities: every declared field, in declaration order, encoded as a
// uvarint byte length followed by the field's canonical text. Absent
// fields encode as length zero.
//
// Length prefixes are what make this encoding collision-free. A naive
// separator join ("a|b") lets a field value containing the separator
// ("a|b" vs fields "a","b") produce identical bytes; with explicit
// lengths no two distinct field sequences share an encoding.
func encodeFixedOrder(spec *entity.Spec, id string, fields entity.Object) ([]byte, error) {
	var buf []byte
	buf = appendSegment(buf, []byte(id))

	for _, f := range spec.Fields {
		v, ok := fields[f.Name]
		if !ok {
			buf = appendSegment(buf, nil)
			continue
		}

		if f.Type == entity.FieldList {
			arr, ok := v.(entity.Array)
			if !ok {
				return nil, fmt.Errorf("field %q: expected list, got %T", f.Name, v)
			}
			enc, err := encodeList(f, arr)
			if err != nil {
				return nil, err
			}
			buf = appendSegment(buf, enc)
			continue
		}

		text, err := scalarText(f, v)
		if err != nil {
			return nil, err
		}
		buf = appendSegment(buf, []byte(text))
	}

	return buf, nil
}

// encodeList encodes an ordered collection: element count, then each
// element's declared fields in order, each length-prefixed. Element
// order is preserved - it is semantically meaningful.
func encodeList(f entity.FieldSpec, arr entity.Array) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(len(arr)))

	for i, elem := range arr {
		obj, ok := elem.(entity.Object)
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: expected object element, got %T", f.Name, i, elem)
		}
		for _, ef := range f.Elem {
			v, ok := obj[ef.Name]
			if !ok {
				buf = appendSegment(buf, nil)
				continue
			}
			text, err := scalarText(ef, v)
			if err != nil {
				return nil, fmt.Errorf("field %q[%d]: %w", f.Name, i, err)
			}
			buf = appendSegment(buf, []byte(text))
		}
	}

	return buf, nil
}

// scalarText renders a scalar value in its canonical textual form.
func scalarText(f entity.FieldSpec, v entity.Value) (string, error) {
	switch val := v.(type) {
	case entity.String:
		return norm.NFC.String(string(val)), nil
	case entity.Int:
		return fmt.Sprintf("%d", val), nil
	case entity.Bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case entity.Decimal:
		return string(val), nil
	case entity.Time:
		return val.Canonical(), nil
	default:
		return "", fmt.Errorf("field %q: unsupported scalar type %T", f.Name, v)
	}
}

func appendSegment(buf, seg []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(seg)))
	return append(buf, seg...)
}
