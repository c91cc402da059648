package query

import (
	"maps"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/value"
)

// renderParams prints one unescaped key=value line per parameter, sorted.
func renderParams(params url.Values) []byte {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(params)) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func TestEncode_Golden(t *testing.T) {
	sw := value.GeoPoint{Latitude: 37.7, Longitude: -122.5}
	ne := value.GeoPoint{Latitude: 37.8, Longitude: -122.3}
	published := value.NewDate(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name     string
		criteria Criteria
	}{
		{
			name:     "equals",
			criteria: New("Post").Where("author", value.String("Arrington")),
		},
		{
			name: "near_miles",
			criteria: New("Place").
				WhereNear("location", value.GeoPoint{Latitude: 40, Longitude: -30}, 10, value.Miles).
				Limit(10),
		},
		{
			name: "paged",
			criteria: New("Post").
				Where("published", value.Bool(true)).
				Order("-createdAt", "title").
				Page(3).Per(20).
				Include("author").
				Keys("title", "author"),
		},
		{
			name: "count_box",
			criteria: New("Place").
				WhereExists("image", true).
				WhereWithinBox("location", sw, ne).
				CountOnly(),
		},
		{
			name: "tagged_values",
			criteria: New("Post").
				Where("author", value.Pointer{ClassName: "_User", ObjectID: "u1"}).
				Where("publishedAt", published),
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := Encode(tt.criteria)
			require.NoError(t, err)
			g.Assert(t, tt.name, renderParams(params))
		})
	}
}

func TestEncode_Empty(t *testing.T) {
	params, err := Encode(New("Post"))
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestEncode_NearWithoutMaxDistance(t *testing.T) {
	c := New("Place").WhereNear("location", value.GeoPoint{Latitude: 1, Longitude: 2}, 0, value.Kilometers)
	where, err := WhereJSON(c)
	require.NoError(t, err)
	assert.Equal(t, `{"location":{"$nearSphere":{"__type":"GeoPoint","latitude":1,"longitude":2}}}`, string(where))
}

func TestEncode_RejectsNonFiniteNumbers(t *testing.T) {
	c := New("Post").Where("score", value.Number(nan()))
	_, err := Encode(c)
	assert.Error(t, err)
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func TestDecode_InverseOfEncode(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
	}{
		{"equality", New("Post").Where("author", value.String("Arrington")).Where("views", value.Number(3))},
		{"exists", New("Post").WhereExists("image", false)},
		{"near", New("Place").WhereNear("location", value.GeoPoint{Latitude: 40, Longitude: -30}, 5, value.Kilometers)},
		{"box", New("Place").WhereWithinBox("location", value.GeoPoint{Latitude: 1, Longitude: 2}, value.GeoPoint{Latitude: 3, Longitude: 4})},
		{"pointer", New("Comment").Where("post", value.Pointer{ClassName: "Post", ObjectID: "p1"})},
		{"window", New("Post").Order("-createdAt").Limit(10).Skip(20).Include("author").Keys("title")},
		{"count", New("Post").Where("a", value.Bool(true)).CountOnly()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := Encode(tt.criteria)
			require.NoError(t, err)

			decoded, err := Decode(tt.criteria.ClassName(), params)
			require.NoError(t, err)

			reencoded, err := Encode(decoded)
			require.NoError(t, err)
			assert.Equal(t, params.Encode(), reencoded.Encode())

			if diff := cmp.Diff(tt.criteria.Constraints(), decoded.Constraints()); diff != "" {
				t.Errorf("constraints differ (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
	}{
		{"bad where json", url.Values{"where": {`{`}}},
		{"unknown operator", url.Values{"where": {`{"score":{"$gt":3}}`}}},
		{"exists not bool", url.Values{"where": {`{"a":{"$exists":"yes"}}`}}},
		{"near not geopoint", url.Values{"where": {`{"loc":{"$nearSphere":"here"}}`}}},
		{"box with one point", url.Values{"where": {`{"loc":{"$within":{"$box":[{"__type":"GeoPoint","latitude":1,"longitude":1}]}}}`}}},
		{"bad limit", url.Values{"limit": {"ten"}}},
		{"bad skip", url.Values{"skip": {"-x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("Post", tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_PlainObjectIsEquality(t *testing.T) {
	c, err := Decode("Post", url.Values{"where": {`{"meta":{"k":"v"}}`}})
	require.NoError(t, err)

	con, ok := c.Constraint("meta")
	require.True(t, ok)
	assert.Equal(t, Equals{Value: value.Object{"k": value.String("v")}}, con)
}
