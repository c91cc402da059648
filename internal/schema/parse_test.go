package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/value"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		name  string
		typ   FieldType
		input string
		want  value.Value
	}{
		{"string", TypeString, "hello", value.String("hello")},
		{"string null stays literal", TypeString, "null", value.String("null")},
		{"number", TypeNumber, "2.5", value.Number(2.5)},
		{"number null", TypeNumber, "null", value.Null{}},
		{"boolean", TypeBoolean, "true", value.Bool(true)},
		{"date", TypeDate, "2024-03-01T12:00:00Z", value.NewDate(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))},
		{"geopoint", TypeGeoPoint, "40.0, -30.0", value.GeoPoint{Latitude: 40, Longitude: -30}},
		{"pointer", TypePointer, "Post:abc", value.Pointer{ClassName: "Post", ObjectID: "abc"}},
		{"file", TypeFile, "a.png", value.File{Name: "a.png"}},
		{"array", TypeArray, `[1,"a"]`, value.Array{value.Number(1), value.String("a")}},
		{"object", TypeObject, `{"k":true}`, value.Object{"k": value.Bool(true)}},
		{"any json", TypeAny, `3`, value.Number(3)},
		{"any raw", TypeAny, `just text`, value.String("just text")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInput(Field{Name: "f", Type: tt.typ}, tt.input)
			require.NoError(t, err)
			assert.True(t, value.Equal(tt.want, got), "got %#v", got)
		})
	}
}

func TestParseInput_Errors(t *testing.T) {
	tests := []struct {
		name  string
		typ   FieldType
		input string
	}{
		{"number", TypeNumber, "abc"},
		{"boolean", TypeBoolean, "maybe"},
		{"date", TypeDate, "yesterday"},
		{"geopoint format", TypeGeoPoint, "40"},
		{"geopoint range", TypeGeoPoint, "91,0"},
		{"pointer", TypePointer, "Post"},
		{"array wrong json", TypeArray, `{"a":1}`},
		{"object wrong json", TypeObject, `[1]`},
		{"object invalid", TypeObject, `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInput(Field{Name: "f", Type: tt.typ}, tt.input)
			assert.Error(t, err)
		})
	}
}
