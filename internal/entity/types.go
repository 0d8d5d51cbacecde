package entity

import "time"

// Entity type names. Each has a declared schema in schema/entities.cue.
const (
	TypeProduct    = "product"
	TypeShipment   = "shipment"
	TypeSegment    = "segment"
	TypeAcceptance = "acceptance"
	TypeCheckpoint = "checkpoint"
)

// Strategy selects how an entity type's semantic fields are encoded
// into a canonical payload. Each entity type commits to exactly one
// strategy for its lifetime - switching invalidates every hash already
// anchored for that type.
type Strategy string

const (
	// StrategySortedJSON serializes the full field object as RFC 8785
	// canonical JSON (keys sorted by UTF-16 code units, NFC strings,
	// no floats, no null).
	StrategySortedJSON Strategy = "sorted-json"

	// StrategyFixedOrder encodes the declared field list in declaration
	// order, each value length-prefixed. Length prefixes make the
	// encoding unambiguous: no field value can masquerade as a
	// separator or as part of an adjacent field.
	StrategyFixedOrder Strategy = "fixed-order"
)

// FieldType is the declared type of a semantic field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInt     FieldType = "int"
	FieldBool    FieldType = "bool"
	FieldDecimal FieldType = "decimal"
	FieldTime    FieldType = "time"
	FieldList    FieldType = "list"
)

// Spec is a compiled entity schema: the ordered semantic field list and
// the canonicalization strategy the entity type committed to.
// Everything outside Fields (timestamps, cached hash, anchor receipt)
// is store metadata and never participates in hashing.
type Spec struct {
	Name     string      `json:"name"`
	Strategy Strategy    `json:"strategy"`
	Fields   []FieldSpec `json:"fields"` // Declaration order is significant
}

// FieldSpec declares one semantic field.
type FieldSpec struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	// Immutable fields define the record's identity (e.g. owning
	// party). Updates that omit them carry the existing value over
	// instead of dropping it.
	Immutable bool `json:"immutable,omitempty"`
	// Elem declares the fields of each element for FieldList fields.
	// Element order within the list is semantic and preserved.
	Elem []FieldSpec `json:"elem,omitempty"`
}

// Field returns the field spec with the given name, or false.
func (s *Spec) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// AnchorReceipt is the ledger's authoritative confirmation that it has
// committed a specific content hash for an entity id.
type AnchorReceipt struct {
	TxRef         string    `json:"tx_ref"`
	ConfirmedHash string    `json:"confirmed_hash"`
	AnchoredAt    time.Time `json:"anchored_at"`
}

// Record is one entity instance: its semantic fields plus store
// metadata. Only Fields feeds canonicalization; StoredHash and Receipt
// are cached write-path results that the reconciliation engine treats
// as claims to verify, never as ground truth.
type Record struct {
	EntityType string         `json:"entity_type"`
	ID         string         `json:"id"`
	Fields     Object         `json:"fields"`
	StoredHash string         `json:"stored_hash,omitempty"`
	Receipt    *AnchorReceipt `json:"receipt,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
