package canon

import (
	"fmt"

	"github.com/haulmark/haulmark/internal/entity"
)

// Payload version suffix. Bumping it invalidates every previously
// anchored hash, so it changes only with the encoding rules themselves.
const payloadVersion = "v1"

// Payload builds the canonical byte payload for one record.
//
// Format: "haulmark/<entityType>/v1" + 0x00 + body. The null byte
// prevents domain/body boundary ambiguity, and the domain prefix keeps
// equal field sets under different entity types from hashing equal.
// The entity id is part of the body, so two entities with identical
// fields hash apart.
//
// The body encoding is the strategy the entity type committed to:
// RFC 8785 canonical JSON of the sorted field object, or the declared
// fixed-order length-prefixed form. Either way the result is a pure
// function of (entityType, id, semantic fields): permuting input key
// order, representing a missing field as JSON null, or writing "1.50"
// for "1.5" all yield byte-identical payloads.
func Payload(spec *entity.Spec, id string, fields entity.Object) ([]byte, error) {
	if spec == nil {
		return nil, fmt.Errorf("canonicalize: nil entity spec")
	}
	if id == "" {
		return nil, fmt.Errorf("canonicalize %s: empty entity id", spec.Name)
	}

	normalized, err := normalizeFields(spec, fields)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s/%s: %w", spec.Name, id, err)
	}

	var body []byte
	switch spec.Strategy {
	case entity.StrategySortedJSON:
		obj := make(entity.Object, len(normalized)+1)
		for k, v := range normalized {
			obj[k] = v
		}
		obj["id"] = entity.String(id)
		body, err = marshalCanonicalObject(obj)
	case entity.StrategyFixedOrder:
		body, err = encodeFixedOrder(spec, id, normalized)
	default:
		return nil, fmt.Errorf("canonicalize %s: unknown strategy %q", spec.Name, spec.Strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s/%s: %w", spec.Name, id, err)
	}

	domain := "haulmark/" + spec.Name + "/" + payloadVersion
	payload := make([]byte, 0, len(domain)+1+len(body))
	payload = append(payload, domain...)
	payload = append(payload, 0x00)
	payload = append(payload, body...)
	return payload, nil
}

// normalizeFields collapses equivalent representations of emptiness
// before encoding: a nil value, an absent key, and an empty string all
// normalize to "absent". Values must already be schema-typed (the
// schema validator coerces raw input); unknown fields are rejected here
// as a backstop.
func normalizeFields(spec *entity.Spec, fields entity.Object) (entity.Object, error) {
	out := make(entity.Object, len(fields))
	for name, v := range fields {
		f, ok := spec.Field(name)
		if !ok {
			return nil, fmt.Errorf("undeclared field %q", name)
		}
		if isEmpty(v) {
			continue
		}
		if f.Type == entity.FieldList {
			arr, ok := v.(entity.Array)
			if !ok {
				return nil, fmt.Errorf("field %q: expected list, got %T", name, v)
			}
			norm, err := normalizeList(f, arr)
			if err != nil {
				return nil, err
			}
			out[name] = norm
			continue
		}
		out[name] = v
	}
	return out, nil
}

// normalizeList drops empty values inside each element but preserves
// element order exactly as given.
func normalizeList(f entity.FieldSpec, arr entity.Array) (entity.Array, error) {
	out := make(entity.Array, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(entity.Object)
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: expected object element, got %T", f.Name, i, elem)
		}
		norm := make(entity.Object, len(obj))
		for k, v := range obj {
			if _, ok := elemField(f, k); !ok {
				return nil, fmt.Errorf("field %q[%d]: undeclared element field %q", f.Name, i, k)
			}
			if isEmpty(v) {
				continue
			}
			norm[k] = v
		}
		out[i] = norm
	}
	return out, nil
}

func elemField(f entity.FieldSpec, name string) (entity.FieldSpec, bool) {
	for _, ef := range f.Elem {
		if ef.Name == name {
			return ef, true
		}
	}
	return entity.FieldSpec{}, false
}

func isEmpty(v entity.Value) bool {
	switch val := v.(type) {
	case nil:
		return true
	case entity.String:
		return val == ""
	default:
		return false
	}
}
