package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/haulmark/haulmark/internal/entity"
	"github.com/haulmark/haulmark/internal/schema"
)

// marshalFields serializes semantic fields to JSON for storage.
// This is storage serialization, not canonicalization - hashing never
// reads these bytes. Decimals and timestamps store as their canonical
// strings, so the round trip through Coerce is lossless.
func marshalFields(fields entity.Object) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(raw), nil
}

// unmarshalFields re-types stored field JSON against the entity spec.
func unmarshalFields(spec *entity.Spec, data string) (entity.Object, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}

	fields, err := schema.Coerce(spec, raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}
