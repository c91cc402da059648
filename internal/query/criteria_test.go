package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/value"
)

var allowCriteria = cmp.AllowUnexported(Criteria{})

func TestCriteria_BuilderDoesNotMutateReceiver(t *testing.T) {
	base := New("Post").Where("author", value.String("Arrington")).Order("title").Include("author")
	snapshot := base.clone()

	_ = base.Where("author", value.String("Other"))
	_ = base.Where("title", value.String("Hello"))
	_ = base.Order("-createdAt")
	_ = base.Include("editor")
	_ = base.Keys("title")
	_ = base.Limit(5).Skip(10).Page(2).Per(3)
	_ = base.CountOnly()

	if diff := cmp.Diff(snapshot, base, allowCriteria); diff != "" {
		t.Errorf("receiver changed (-want +got):\n%s", diff)
	}
}

func TestCriteria_DerivedValuesDoNotShareState(t *testing.T) {
	base := New("Post").Order("title")
	a := base.Order("-createdAt")
	b := base.Order("score")

	assert.Equal(t, []string{"title", "-createdAt"}, a.OrderKeys())
	assert.Equal(t, []string{"title", "score"}, b.OrderKeys())
	assert.Equal(t, []string{"title"}, base.OrderKeys())
}

func TestCriteria_SameKeyOverwrites(t *testing.T) {
	c := New("Post").
		Where("author", value.String("Arrington")).
		Where("author", value.String("Jobs"))

	con, ok := c.Constraint("author")
	require.True(t, ok)
	assert.Equal(t, Equals{Value: value.String("Jobs")}, con)
	assert.Len(t, c.Constraints(), 1)

	c = c.WhereExists("author", true)
	con, _ = c.Constraint("author")
	assert.Equal(t, Exists{Present: true}, con)
}

func TestCriteria_DisjointKeysOrderIndependent(t *testing.T) {
	ab := New("Post").Where("a", value.Number(1)).Where("b", value.Number(2))
	ba := New("Post").Where("b", value.Number(2)).Where("a", value.Number(1))

	if diff := cmp.Diff(ab, ba, allowCriteria); diff != "" {
		t.Errorf("criteria differ (-ab +ba):\n%s", diff)
	}

	abParams, err := Encode(ab)
	require.NoError(t, err)
	baParams, err := Encode(ba)
	require.NoError(t, err)
	assert.Equal(t, abParams.Encode(), baParams.Encode())
	assert.Equal(t, []string{"a", "b"}, ab.Fields())
}

func TestCriteria_WhereNilIsNull(t *testing.T) {
	c := New("Post").Where("deletedAt", nil)
	con, _ := c.Constraint("deletedAt")
	assert.Equal(t, Equals{Value: value.Null{}}, con)
}

func TestCriteria_OrderNormalization(t *testing.T) {
	c := New("Post").Order("createdAt desc", "title ASC", " score ", "")
	assert.Equal(t, []string{"-createdAt", "title", "score"}, c.OrderKeys())
}

func TestCriteria_IncludeAndKeysDeduplicate(t *testing.T) {
	c := New("Post").Include("author", "author").Include("editor").Keys("title").Keys("title", "body")
	assert.Equal(t, []string{"author", "editor"}, c.Includes())
	assert.Equal(t, []string{"title", "body"}, c.SelectedKeys())
}

func TestCriteria_Window(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		limit    int
		hasLimit bool
		skip     int
	}{
		{"empty", New("Post"), 0, false, 0},
		{"limit and skip", New("Post").Limit(10).Skip(5), 10, true, 5},
		{"page uses default per", New("Post").Page(3), DefaultPer, true, 200},
		{"page and per", New("Post").Page(3).Per(20), 20, true, 40},
		{"per alone is page one", New("Post").Per(25), 25, true, 0},
		{"page wins over limit", New("Post").Limit(7).Skip(1).Page(2).Per(10), 10, true, 10},
		{"count", New("Post").Limit(10).Skip(3).CountOnly(), 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, ok, skip := tt.criteria.Window()
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.hasLimit, ok)
			assert.Equal(t, tt.skip, skip)
		})
	}
}

func TestCriteria_First(t *testing.T) {
	c := New("Post").Where("a", value.Number(1)).Page(2).Per(10)
	first := c.First()

	limit, ok, skip := first.Window()
	assert.Equal(t, 1, limit)
	assert.True(t, ok)
	assert.Equal(t, 10, skip)

	// receiver keeps its page window
	limit, _, skip = c.Window()
	assert.Equal(t, 10, limit)
	assert.Equal(t, 10, skip)
}

func TestNearSphere_MaxRadians(t *testing.T) {
	n := NearSphere{MaxDistance: 3958.8, Unit: value.Miles}
	assert.InDelta(t, 1.0, n.MaxRadians(), 1e-12)

	n = NearSphere{MaxDistance: 0.5, Unit: value.Radians}
	assert.Equal(t, 0.5, n.MaxRadians())
}
