package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulmark/haulmark/internal/entity"
)

func TestMarshalCanonicalScalars(t *testing.T) {
	tests := []struct {
		name     string
		value    entity.Value
		expected string
	}{
		{"string", entity.String("hello"), `"hello"`},
		{"empty string", entity.String(""), `""`},
		{"int", entity.Int(42), "42"},
		{"negative int", entity.Int(-7), "-7"},
		{"bool true", entity.Bool(true), "true"},
		{"bool false", entity.Bool(false), "false"},
		{"decimal", entity.MustDecimal("1.50"), "1.5"},
		{"decimal integer", entity.MustDecimal("10.00"), "10"},
		{"quote escaped", entity.String(`say "hi"`), `"say \"hi\""`},
		{"backslash escaped", entity.String(`a\b`), `"a\\b"`},
		{"newline escaped", entity.String("a\nb"), `"a\nb"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := marshalCanonical(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalRejectsNull(t *testing.T) {
	_, err := marshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	out, err := marshalCanonical(entity.String("<a> & </a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a> & </a>"`, string(out))
}

func TestMarshalCanonicalObjectKeyOrder(t *testing.T) {
	obj := entity.Object{
		"zeta":  entity.Int(1),
		"alpha": entity.Int(2),
		"mid":   entity.Int(3),
	}

	out, err := marshalCanonicalObject(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(out))
}

func TestMarshalCanonicalNestedStructure(t *testing.T) {
	obj := entity.Object{
		"items": entity.Array{
			entity.Object{"b": entity.Int(2), "a": entity.Int(1)},
		},
		"name": entity.String("x"),
	}

	out, err := marshalCanonicalObject(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[{"a":1,"b":2}],"name":"x"}`, string(out))
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// Precomposed U+00E9 and decomposed U+0065 U+0301 are the same
	// character; both must serialize to the precomposed form.
	precomposed := entity.String("caf\u00e9")
	decomposed := entity.String("cafe\u0301")

	a, err := marshalCanonical(precomposed)
	require.NoError(t, err)
	b, err := marshalCanonical(decomposed)
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, "\"caf\u00e9\"", string(a))
}

func TestMarshalCanonicalLineSeparatorsUnescaped(t *testing.T) {
	out, err := marshalCanonical(entity.String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(out))
}

func TestUnescapeU2028U2029PreservesEscapedBackslash(t *testing.T) {
	// `\\u2028` in the JSON text is a literal backslash followed by the
	// characters "u2028", not an escape sequence. It must survive.
	in := []byte(`"\\u2028"`)
	assert.Equal(t, `"\\u2028"`, string(unescapeU2028U2029(in)))

	// A lone `\u2028` is a real escape and converts to the literal char.
	in = []byte(`"\u2028"`)
	assert.Equal(t, "\"\u2028\"", string(unescapeU2028U2029(in)))
}

func TestMarshalCanonicalTimeRendersCanonicalUTC(t *testing.T) {
	tv := entity.NewTime(mustTime(t, "2026-03-14T10:30:45+01:00"))
	out, err := marshalCanonical(tv)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-14T09:30:45Z"`, string(out))
}
