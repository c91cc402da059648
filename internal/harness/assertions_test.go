package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/devserver"
	"github.com/roach88/parsekit/internal/value"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Phase: "steps", Step: 0, Method: "POST", Path: "/classes/Post",
			Body: map[string]any{"title": "Hello", "rating": float64(3)}, Status: "ok"},
		{Seq: 2, Phase: "steps", Step: 1, Method: "GET", Path: "/classes/Post",
			Query: map[string]string{"where": `{"title":"Hello"}`, "limit": "1"}, Status: "ok"},
		{Seq: 3, Phase: "steps", Step: 2, Method: "PUT", Path: "/classes/Post/obj0001",
			Body: map[string]any{"title": "Changed"}, Status: "ok"},
		{Seq: 4, Phase: "steps", Step: 3, Method: "GET", Path: "/classes/Post/obj0002",
			Status: "error", Code: 101},
	}
}

func TestAssertRequestContains(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{
			name:      "method and path",
			assertion: Assertion{Method: "POST", Path: "/classes/Post"},
		},
		{
			name:      "any method",
			assertion: Assertion{Path: "/classes/Post/obj0002"},
		},
		{
			name:      "body subset",
			assertion: Assertion{Method: "POST", Path: "/classes/Post", Body: map[string]any{"title": "Hello"}},
		},
		{
			name:      "body number",
			assertion: Assertion{Method: "POST", Path: "/classes/Post", Body: map[string]any{"rating": 3}},
		},
		{
			name:      "query subset",
			assertion: Assertion{Method: "GET", Path: "/classes/Post", Query: map[string]string{"limit": "1"}},
		},
		{
			name:      "wrong body value",
			assertion: Assertion{Method: "POST", Path: "/classes/Post", Body: map[string]any{"title": "Other"}},
			wantErr:   true,
		},
		{
			name:      "missing body key",
			assertion: Assertion{Method: "PUT", Path: "/classes/Post/obj0001", Body: map[string]any{"author": "x"}},
			wantErr:   true,
		},
		{
			name:      "missing query parameter",
			assertion: Assertion{Method: "GET", Path: "/classes/Post", Query: map[string]string{"skip": "1"}},
			wantErr:   true,
		},
		{
			name:      "wrong method",
			assertion: Assertion{Method: "DELETE", Path: "/classes/Post/obj0001"},
			wantErr:   true,
		},
		{
			name:      "no such path",
			assertion: Assertion{Path: "/batch"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertRequestContains
			err := assertRequestContains(sampleTrace(), tt.assertion)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assertErr, ok := err.(*AssertionError)
			require.True(t, ok)
			assert.Equal(t, AssertRequestContains, assertErr.Type)
			assert.Contains(t, assertErr.Expected, tt.assertion.Path)
			assert.Equal(t, "not found in trace", assertErr.Actual)
		})
	}
}

func TestAssertRequestOrder(t *testing.T) {
	tests := []struct {
		name       string
		requests   []string
		wantActual string
	}{
		{
			name:     "in order",
			requests: []string{"POST /classes/Post", "PUT /classes/Post/obj0001"},
		},
		{
			name:     "intervening requests allowed",
			requests: []string{"POST /classes/Post", "GET /classes/Post/obj0002"},
		},
		{
			name:       "wrong order",
			requests:   []string{"PUT /classes/Post/obj0001", "POST /classes/Post"},
			wantActual: "PUT /classes/Post/obj0001 (pos 3) should be before POST /classes/Post (pos 1)",
		},
		{
			name:       "missing request",
			requests:   []string{"POST /classes/Post", "DELETE /classes/Post/obj0001"},
			wantActual: "missing request: DELETE /classes/Post/obj0001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertRequestOrder(sampleTrace(), Assertion{Type: AssertRequestOrder, Requests: tt.requests})
			if tt.wantActual == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assertErr, ok := err.(*AssertionError)
			require.True(t, ok)
			assert.Equal(t, tt.wantActual, assertErr.Actual)
		})
	}
}

func TestAssertRequestCount(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		count   int
		wantErr string
	}{
		{name: "exact", method: "GET", path: "/classes/Post", count: 1},
		{name: "any method", path: "/classes/Post", count: 2},
		{name: "zero", method: "DELETE", path: "/classes/Post/obj0001", count: 0},
		{name: "too few", method: "POST", path: "/classes/Post", count: 2, wantErr: "1 requests"},
		{name: "too many", path: "/classes/Post", count: 1, wantErr: "2 requests"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertRequestCount(sampleTrace(), Assertion{
				Type:   AssertRequestCount,
				Method: tt.method,
				Path:   tt.path,
				Count:  ptr(tt.count),
			})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assertErr, ok := err.(*AssertionError)
			require.True(t, ok)
			assert.Equal(t, tt.wantErr, assertErr.Actual)
		})
	}
}

func TestMatchBody_SubsetSemantics(t *testing.T) {
	body := map[string]any{
		"title":    "Hello",
		"tags":     []any{"a", "b"},
		"location": map[string]any{"__type": "GeoPoint", "latitude": float64(1), "longitude": float64(2)},
	}

	tests := []struct {
		name     string
		expected value.Object
		want     bool
	}{
		{"empty subset", value.Object{}, true},
		{"one key", value.Object{"title": value.String("Hello")}, true},
		{"array", value.Object{"tags": value.Array{value.String("a"), value.String("b")}}, true},
		{"array order matters", value.Object{"tags": value.Array{value.String("b"), value.String("a")}}, false},
		{"geo point", value.Object{"location": value.GeoPoint{Latitude: 1, Longitude: 2}}, true},
		{"type mismatch", value.Object{"title": value.Number(1)}, false},
		{"missing key", value.Object{"author": value.String("x")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchBody(body, tt.expected))
		})
	}

	assert.False(t, matchBody(nil, value.Object{}), "no body")
}

func TestObjectContains(t *testing.T) {
	obj := value.Object{"title": value.String("Hello"), "rating": value.Number(3)}

	assert.True(t, objectContains(obj, value.Object{}))
	assert.True(t, objectContains(obj, value.Object{"rating": value.Number(3)}))
	assert.True(t, objectContains(obj, value.Object{"author": value.Null{}}), "null matches a missing key")
	assert.False(t, objectContains(obj, value.Object{"rating": value.String("3")}))
	assert.False(t, objectContains(obj, value.Object{"author": value.String("x")}))
}

func TestFormatWhere(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhere(nil))
	assert.Equal(t, "author=ada AND title=Hello", formatWhere(map[string]any{"title": "Hello", "author": "ada"}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertRequestContains,
		Expected: "POST /classes/Post",
		Actual:   "not found in trace",
		Trace:    sampleTrace()[2:],
	}

	want := "Assertion failed: request_contains\n" +
		"  Expected: POST /classes/Post\n" +
		"  Actual: not found in trace\n" +
		"\nFull trace:\n" +
		"  [1] PUT /classes/Post/obj0001 ok\n" +
		"  [2] GET /classes/Post/obj0002 error (code 101)\n"
	assert.Equal(t, want, err.Error())
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	tests := []struct {
		name       string
		assertions []Assertion
		wantErrors []string
	}{
		{
			name: "all pass",
			assertions: []Assertion{
				{Type: AssertRequestContains, Method: "POST", Path: "/classes/Post"},
				{Type: AssertRequestOrder, Requests: []string{"POST /classes/Post", "PUT /classes/Post/obj0001"}},
				{Type: AssertRequestCount, Path: "/classes/Post", Count: ptr(2)},
			},
		},
		{
			name:       "unknown type",
			assertions: []Assertion{{Type: "trace_contains"}},
			wantErrors: []string{`assertion[0]: unknown assertion type "trace_contains"`},
		},
		{
			name:       "count missing",
			assertions: []Assertion{{Type: AssertRequestCount, Path: "/classes/Post"}},
			wantErrors: []string{"assertion[0]: request_count requires count"},
		},
		{
			name:       "final state without store",
			assertions: []Assertion{{Type: AssertFinalState, Class: "Post", Count: ptr(0)}},
			wantErrors: []string{"assertion[0]: final_state requires a store"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(result, tt.assertions, nil)
			assert.Equal(t, tt.wantErrors, errs)
		})
	}

	t.Run("some fail", func(t *testing.T) {
		errs := EvaluateAssertions(result, []Assertion{
			{Type: AssertRequestContains, Method: "POST", Path: "/classes/Post"},
			{Type: AssertRequestCount, Method: "DELETE", Path: "/classes/Post/obj0001", Count: ptr(1)},
		}, nil)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0], "Assertion failed: request_count")
	})
}

func seededStore(t *testing.T) *devserver.Store {
	t.Helper()
	st, err := devserver.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []devserver.Row{
		{ClassName: "Post", ObjectID: "obj0001", Data: value.Object{"title": value.String("Hello"), "author": value.String("ada")}, CreatedAt: now, UpdatedAt: now},
		{ClassName: "Post", ObjectID: "obj0002", Data: value.Object{"title": value.String("World"), "author": value.String("ada")}, CreatedAt: now, UpdatedAt: now},
		{ClassName: "Comment", ObjectID: "obj0003", Data: value.Object{"body": value.String("nice")}, CreatedAt: now, UpdatedAt: now},
	}
	for _, row := range rows {
		require.NoError(t, st.Insert(ctx, row))
	}
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := seededStore(t)

	tests := []struct {
		name       string
		assertion  Assertion
		wantActual string
	}{
		{
			name:      "object found",
			assertion: Assertion{Class: "Post", Where: map[string]any{"title": "Hello"}, Expect: map[string]any{"objectId": "obj0001", "author": "ada"}},
		},
		{
			name:      "missing field expected null",
			assertion: Assertion{Class: "Post", Where: map[string]any{"title": "World"}, Expect: map[string]any{"rating": nil}},
		},
		{
			name:      "count of class",
			assertion: Assertion{Class: "Post", Count: ptr(2)},
		},
		{
			name:      "count with where",
			assertion: Assertion{Class: "Post", Where: map[string]any{"author": "ada", "title": "World"}, Count: ptr(1)},
		},
		{
			name:      "empty class",
			assertion: Assertion{Class: "Tag", Count: ptr(0)},
		},
		{
			name:       "wrong count",
			assertion:  Assertion{Class: "Post", Count: ptr(3)},
			wantActual: "2 objects",
		},
		{
			name:       "not found",
			assertion:  Assertion{Class: "Post", Where: map[string]any{"title": "Nope"}, Expect: map[string]any{"author": "ada"}},
			wantActual: "object not found",
		},
		{
			name:       "ambiguous",
			assertion:  Assertion{Class: "Post", Where: map[string]any{"author": "ada"}, Expect: map[string]any{"title": "Hello"}},
			wantActual: "multiple objects matched (assertion is ambiguous)",
		},
		{
			name:       "value mismatch",
			assertion:  Assertion{Class: "Post", Where: map[string]any{"title": "Hello"}, Expect: map[string]any{"author": "bob"}},
			wantActual: `field "author" = "ada"`,
		},
		{
			name:       "type mismatch",
			assertion:  Assertion{Class: "Comment", Expect: map[string]any{"body": 1}},
			wantActual: `field "body" = "nice"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(context.Background(), st, tt.assertion)
			if tt.wantActual == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assertErr, ok := err.(*AssertionError)
			require.True(t, ok)
			assert.Equal(t, AssertFinalState, assertErr.Type)
			assert.Equal(t, tt.wantActual, assertErr.Actual)
		})
	}
}

func TestEvaluateAssertions_FinalStateWithContext(t *testing.T) {
	st := seededStore(t)
	actx := &AssertionContext{Store: st, Ctx: context.Background()}

	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertFinalState, Class: "Post", Where: map[string]any{"title": "World"}, Expect: map[string]any{"objectId": "obj0002"}},
		{Type: AssertFinalState, Class: "Comment"},
	}, actx)
	assert.Equal(t, []string{"assertion[1]: final_state requires expect or count"}, errs)
}
