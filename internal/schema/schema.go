// Package schema compiles the embedded CUE entity declarations and
// validates incoming writes against them before anything is hashed.
// It is the boundary that turns loosely-shaped client input into the
// typed field objects the canonicalizer consumes.
package schema

import (
	_ "embed"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/haulmark/haulmark/internal/entity"
)

//go:embed entities.cue
var entitiesCUE string

// Registry holds the compiled entity specs, keyed by entity type name.
// Load it once at process start and share it; it is immutable afterward
// and safe for concurrent use.
type Registry struct {
	specs map[string]*entity.Spec
}

// Load compiles the embedded entity declarations.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func Load() (*Registry, error) {
	ctx := cuecontext.New()

	v := ctx.CompileString(entitiesCUE, cue.Filename("entities.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile entity schema: %w", err)
	}

	ents := v.LookupPath(cue.ParsePath("entities"))
	if err := ents.Err(); err != nil {
		return nil, fmt.Errorf("entity schema: missing entities: %w", err)
	}

	iter, err := ents.Fields()
	if err != nil {
		return nil, fmt.Errorf("entity schema: %w", err)
	}

	specs := make(map[string]*entity.Spec)
	for iter.Next() {
		name := iter.Selector().Unquoted()
		spec, err := compileEntity(name, iter.Value())
		if err != nil {
			return nil, err
		}
		specs[name] = spec
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("entity schema: no entities declared")
	}

	return &Registry{specs: specs}, nil
}

// MustLoad is like Load but panics on error. The schema is embedded at
// build time, so a failure here is a programming error.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(err)
	}
	return r
}

// Spec returns the compiled spec for an entity type.
func (r *Registry) Spec(entityType string) (*entity.Spec, error) {
	spec, ok := r.specs[entityType]
	if !ok {
		return nil, &ValidationError{
			Entity:  entityType,
			Message: fmt.Sprintf("unknown entity type %q", entityType),
		}
	}
	return spec, nil
}

// Names returns the declared entity type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// compileEntity decodes one entity declaration into an entity.Spec and
// runs the structural checks CUE cannot express.
func compileEntity(name string, v cue.Value) (*entity.Spec, error) {
	var decoded struct {
		Strategy string `json:"strategy"`
		Fields   []struct {
			Name      string `json:"name"`
			Type      string `json:"type"`
			Required  bool   `json:"required"`
			Immutable bool   `json:"immutable"`
			Elem      []struct {
				Name     string `json:"name"`
				Type     string `json:"type"`
				Required bool   `json:"required"`
			} `json:"elem"`
		} `json:"fields"`
	}
	if err := v.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("entity %q: %w", name, err)
	}

	spec := &entity.Spec{
		Name:     name,
		Strategy: entity.Strategy(decoded.Strategy),
	}

	seen := make(map[string]bool, len(decoded.Fields))
	for _, f := range decoded.Fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("entity %q: duplicate field %q", name, f.Name)
		}
		seen[f.Name] = true

		fs := entity.FieldSpec{
			Name:      f.Name,
			Type:      entity.FieldType(f.Type),
			Required:  f.Required,
			Immutable: f.Immutable,
		}
		if fs.Type == entity.FieldList && len(f.Elem) == 0 {
			return nil, fmt.Errorf("entity %q: list field %q declares no element fields", name, f.Name)
		}
		elemSeen := make(map[string]bool, len(f.Elem))
		for _, ef := range f.Elem {
			if elemSeen[ef.Name] {
				return nil, fmt.Errorf("entity %q: field %q: duplicate element field %q", name, f.Name, ef.Name)
			}
			elemSeen[ef.Name] = true
			if entity.FieldType(ef.Type) == entity.FieldList {
				return nil, fmt.Errorf("entity %q: field %q: nested lists are not supported", name, f.Name)
			}
			fs.Elem = append(fs.Elem, entity.FieldSpec{
				Name:     ef.Name,
				Type:     entity.FieldType(ef.Type),
				Required: ef.Required,
			})
		}
		spec.Fields = append(spec.Fields, fs)
	}

	if len(spec.Fields) == 0 {
		return nil, fmt.Errorf("entity %q: no fields declared", name)
	}

	return spec, nil
}
