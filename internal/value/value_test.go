package value

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null{}},
		{"string", "hello", String("hello")},
		{"bool", true, Bool(true)},
		{"int", 42, Number(42)},
		{"int64", int64(-7), Number(-7)},
		{"float", 1.5, Number(1.5)},
		{"value passthrough", String("x"), String("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Of(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOf_Nested(t *testing.T) {
	got, err := Of(map[string]any{
		"tags":  []any{"a", 1},
		"inner": map[string]any{"ok": true},
	})
	require.NoError(t, err)

	assert.Equal(t, Object{
		"tags":  Array{String("a"), Number(1)},
		"inner": Object{"ok": Bool(true)},
	}, got)
}

func TestOf_TaggedMap(t *testing.T) {
	got, err := Of(map[string]any{
		"__type":    "GeoPoint",
		"latitude":  40.0,
		"longitude": -30.0,
	})
	require.NoError(t, err)
	assert.Equal(t, GeoPoint{Latitude: 40, Longitude: -30}, got)
}

func TestOf_RejectsUnsupported(t *testing.T) {
	_, err := Of(struct{}{})
	assert.Error(t, err)
}

func TestNewDate_TruncatesToMillis(t *testing.T) {
	in := time.Date(2011, 8, 21, 18, 2, 52, 249_999_999, time.FixedZone("X", 3600))
	d := NewDate(in)

	assert.Equal(t, time.UTC, d.Time().Location())
	assert.Equal(t, 249_000_000, d.Time().Nanosecond())
	assert.Equal(t, 17, d.Time().Hour())
}

func TestEqual(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil equals null", nil, Null{}, true},
		{"null vs string", Null{}, String(""), false},
		{"strings", String("a"), String("a"), true},
		{"number vs string", Number(1), String("1"), false},
		{"dates by instant", NewDate(t1), Date(t1.In(time.FixedZone("Y", 7200))), true},
		{"geo points", GeoPoint{1, 2}, GeoPoint{1, 2}, true},
		{"arrays", Array{Number(1), String("x")}, Array{Number(1), String("x")}, true},
		{"arrays differ in length", Array{Number(1)}, Array{}, false},
		{"objects", Object{"a": Bool(true)}, Object{"a": Bool(true)}, true},
		{"objects differ", Object{"a": Bool(true)}, Object{"b": Bool(true)}, false},
		{"pointers", Pointer{"Post", "x"}, Pointer{"Post", "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF61 in UTF-16 but after it in UTF-8.
	obj := Object{
		"｡":     Null{},
		"\U0001F600": Null{},
		"a":          Null{},
	}

	assert.Equal(t, []string{"a", "\U0001F600", "｡"}, obj.SortedKeys())
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "null", TypeName(nil))
	assert.Equal(t, "string", TypeName(String("")))
	assert.Equal(t, "geopoint", TypeName(GeoPoint{}))
	assert.Equal(t, "pointer", TypeName(Pointer{}))
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{
		"title":    String("Hello"),
		"score":    Number(3),
		"location": GeoPoint{Latitude: 37.77, Longitude: -122.41},
		"author":   Pointer{ClassName: "_User", ObjectID: "abc123"},
		"when":     NewDate(time.Date(2011, 8, 21, 18, 2, 52, 249_000_000, time.UTC)),
		"photo":    File{Name: "a.png", URL: "http://files/a.png"},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)

	var decoded Object
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, Equal(obj, decoded), "decoded: %#v", decoded)
}
