package schema_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/calcmcp/util/schema"
)

type addArgs struct {
	A json.Number `json:"a" description:"The first number to add"`
	B json.Number `json:"b" description:"The second number to add"`
}

func TestFromStruct(t *testing.T) {
	s := schema.FromStruct(addArgs{})

	assert.Equal(t, "object", s.Type)
	require.Len(t, s.Properties, 2)

	a, ok := s.Properties["a"]
	require.True(t, ok, "schema should have an 'a' property")
	assert.Equal(t, "number", a.Type)
	assert.Equal(t, "The first number to add", a.Description)

	assert.ElementsMatch(t, []string{"a", "b"}, s.Required)
}

func TestFromStructOptionalPointerField(t *testing.T) {
	type args struct {
		Name  string  `json:"name"`
		Limit *int    `json:"limit"`
		Skip  float64 `json:"-"`
	}
	s := schema.FromStruct(args{})

	assert.Equal(t, []string{"name"}, s.Required)
	assert.Contains(t, s.Properties, "limit")
	assert.Equal(t, "integer", s.Properties["limit"].Type)
	assert.NotContains(t, s.Properties, "-")
	assert.Len(t, s.Properties, 2)
}

func TestDecodePreservesNumberKind(t *testing.T) {
	var got addArgs
	err := schema.Decode(map[string]interface{}{
		"a": json.Number("145"),
		"b": json.Number("87"),
	}, &got)
	require.NoError(t, err)

	ai, err := got.A.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(145), ai)
}

func TestDecodeFloat64Input(t *testing.T) {
	// Transports without UseNumber hand us float64 values.
	var got addArgs
	err := schema.Decode(map[string]interface{}{
		"a": float64(2.5),
		"b": float64(0.5),
	}, &got)
	require.NoError(t, err)

	af, err := got.A.Float64()
	require.NoError(t, err)
	assert.InDelta(t, 2.5, af, 1e-9)
}

func TestDecodeRejectsNonNumeric(t *testing.T) {
	var got addArgs
	err := schema.Decode(map[string]interface{}{
		"a": "twelve",
		"b": json.Number("1"),
	}, &got)
	assert.Error(t, err)
}
