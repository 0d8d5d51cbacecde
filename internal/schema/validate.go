package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haulmark/haulmark/internal/entity"
)

// ValidationError reports client-caused bad input. It is local: when a
// write fails validation, no ledger call has been made and nothing was
// mutated. The caller can fix the input and retry freely.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s.%s: %s", e.Entity, e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Entity, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Coerce converts JSON-decoded input into a typed field object for the
// given entity spec. Input must be decoded with json.Decoder.UseNumber
// so numerics arrive as json.Number and keep exact precision.
//
// Unknown fields are rejected - there is no alias coalescing. A JSON
// null is treated as absent. Malformed values (a float where an int is
// declared, an unparseable timestamp) return a ValidationError.
func Coerce(spec *entity.Spec, raw map[string]any) (entity.Object, error) {
	out := make(entity.Object, len(raw))
	for name, rv := range raw {
		f, ok := spec.Field(name)
		if !ok {
			return nil, &ValidationError{
				Entity:  spec.Name,
				Field:   name,
				Message: "unknown field",
			}
		}
		if rv == nil {
			continue // null is absent
		}
		v, err := coerceValue(spec.Name, f, rv)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func coerceValue(entityName string, f entity.FieldSpec, rv any) (entity.Value, error) {
	fail := func(msg string) error {
		return &ValidationError{Entity: entityName, Field: f.Name, Message: msg}
	}

	switch f.Type {
	case entity.FieldString:
		s, ok := rv.(string)
		if !ok {
			return nil, fail(fmt.Sprintf("expected string, got %T", rv))
		}
		return entity.String(s), nil

	case entity.FieldInt:
		n, ok := rv.(json.Number)
		if !ok {
			return nil, fail(fmt.Sprintf("expected integer, got %T", rv))
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fail(fmt.Sprintf("expected integer, got %q", n.String()))
		}
		return entity.Int(i), nil

	case entity.FieldBool:
		b, ok := rv.(bool)
		if !ok {
			return nil, fail(fmt.Sprintf("expected bool, got %T", rv))
		}
		return entity.Bool(b), nil

	case entity.FieldDecimal:
		var text string
		switch tv := rv.(type) {
		case json.Number:
			text = tv.String()
		case string:
			text = tv
		default:
			return nil, fail(fmt.Sprintf("expected decimal, got %T", rv))
		}
		d, err := entity.NewDecimal(text)
		if err != nil {
			return nil, fail(fmt.Sprintf("invalid decimal %q", text))
		}
		return d, nil

	case entity.FieldTime:
		s, ok := rv.(string)
		if !ok {
			return nil, fail(fmt.Sprintf("expected RFC 3339 timestamp, got %T", rv))
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fail(fmt.Sprintf("invalid timestamp %q", s))
		}
		return entity.NewTime(t), nil

	case entity.FieldList:
		items, ok := rv.([]any)
		if !ok {
			return nil, fail(fmt.Sprintf("expected list, got %T", rv))
		}
		arr := make(entity.Array, 0, len(items))
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fail(fmt.Sprintf("element %d: expected object, got %T", i, item))
			}
			elem := make(entity.Object, len(obj))
			for k, ev := range obj {
				ef, ok := elemField(f, k)
				if !ok {
					return nil, fail(fmt.Sprintf("element %d: unknown field %q", i, k))
				}
				if ev == nil {
					continue
				}
				v, err := coerceValue(entityName, ef, ev)
				if err != nil {
					return nil, err
				}
				elem[k] = v
			}
			for _, ef := range f.Elem {
				if ef.Required {
					if _, present := elem[ef.Name]; !present {
						return nil, fail(fmt.Sprintf("element %d: missing required field %q", i, ef.Name))
					}
				}
			}
			arr = append(arr, elem)
		}
		return arr, nil

	default:
		return nil, fail(fmt.Sprintf("undeclarable field type %q", f.Type))
	}
}

func elemField(f entity.FieldSpec, name string) (entity.FieldSpec, bool) {
	for _, ef := range f.Elem {
		if ef.Name == name {
			return ef, true
		}
	}
	return entity.FieldSpec{}, false
}

// Validate checks a typed field object against the spec's required
// fields. An empty string counts as absent - the canonicalizer
// collapses them, so a required field cannot be satisfied by "".
func Validate(spec *entity.Spec, fields entity.Object) error {
	for _, f := range spec.Fields {
		if !f.Required {
			continue
		}
		v, present := fields[f.Name]
		if !present {
			return &ValidationError{
				Entity:  spec.Name,
				Field:   f.Name,
				Message: "missing required field",
			}
		}
		if s, ok := v.(entity.String); ok && s == "" {
			return &ValidationError{
				Entity:  spec.Name,
				Field:   f.Name,
				Message: "required field is empty",
			}
		}
	}
	return nil
}

// MergeForUpdate merges incoming fields over the existing record's
// fields for an update. Fields omitted from the update carry over -
// in particular immutable identity fields are never silently dropped.
// Changing the value of an immutable field is rejected.
func MergeForUpdate(spec *entity.Spec, existing, incoming entity.Object) (entity.Object, error) {
	merged := existing.Clone()
	if merged == nil {
		merged = make(entity.Object, len(incoming))
	}

	for name, v := range incoming {
		f, ok := spec.Field(name)
		if !ok {
			return nil, &ValidationError{
				Entity:  spec.Name,
				Field:   name,
				Message: "unknown field",
			}
		}
		if f.Immutable {
			if old, had := merged[name]; had && !valueEqual(old, v) {
				return nil, &ValidationError{
					Entity:  spec.Name,
					Field:   name,
					Message: "immutable field cannot change",
				}
			}
		}
		merged[name] = v
	}

	if err := Validate(spec, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// valueEqual compares two field values structurally.
func valueEqual(a, b entity.Value) bool {
	switch av := a.(type) {
	case entity.Array:
		bv, ok := b.(entity.Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case entity.Object:
		bv, ok := b.(entity.Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, present := bv[k]
			if !present || !valueEqual(v, ov) {
				return false
			}
		}
		return true
	case entity.Time:
		bv, ok := b.(entity.Time)
		return ok && av.Canonical() == bv.Canonical()
	default:
		return a == b
	}
}
