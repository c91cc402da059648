package devserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/orm"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/testutil"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

var testKeys = Keys{ApplicationID: "app", RESTAPIKey: "rest", MasterKey: "master"}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	post, err := schema.NewModel("Post", []schema.Field{
		{Name: "title", Type: schema.TypeString},
		{Name: "author", Type: schema.TypeString},
		{Name: "rating", Type: schema.TypeNumber},
		{Name: "location", Type: schema.TypeGeoPoint},
		{Name: "owner", Type: schema.TypePointer},
	}, schema.Presence{FieldName: "title"})
	require.NoError(t, err)
	user, err := schema.UserModel(nil)
	require.NoError(t, err)
	reg, err := schema.NewRegistry(post, user)
	require.NoError(t, err)
	return reg
}

// startServer runs an emulator with deterministic ids and clock.
func startServer(t *testing.T) (*httptest.Server, *schema.Registry) {
	t.Helper()
	reg := testRegistry(t)
	srv := New(createTestStore(t), testKeys,
		WithRegistry(reg),
		WithClock(testutil.NewDeterministicClock(time.Time{}, time.Second).Now),
		WithObjectIDs(testutil.NewSequentialIDs("obj").Generate),
		WithSessionTokens(testutil.NewSequentialIDs("r:tok").Generate),
		WithPasswordCost(bcrypt.MinCost),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, reg
}

func newClient(t *testing.T, ts *httptest.Server, reg *schema.Registry) *orm.Client {
	t.Helper()
	c, err := orm.NewClient(config.Config{
		ApplicationID: testKeys.ApplicationID,
		APIKey:        testKeys.RESTAPIKey,
		BaseURL:       ts.URL + DefaultPrefix,
	}, reg, orm.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return c
}

func newPost(t *testing.T, c *orm.Client, fields map[string]any) *orm.Record {
	t.Helper()
	r, err := c.New("Post")
	require.NoError(t, err)
	require.NoError(t, r.Assign(fields))
	return r
}

func TestServer_Lifecycle(t *testing.T) {
	ctx := context.Background()
	ts, reg := startServer(t)
	c := newClient(t, ts, reg)

	post := newPost(t, c, map[string]any{"title": "Hello", "author": "Arrington"})
	require.NoError(t, post.Save(ctx))
	assert.Equal(t, "obj0001", post.ID())
	assert.Equal(t, testutil.DefaultEpoch, post.CreatedAt())

	found, err := c.Find(ctx, "Post", post.ID())
	require.NoError(t, err)
	v, _ := found.Get("title")
	assert.Equal(t, value.String("Hello"), v)

	require.NoError(t, found.Set("title", value.String("Changed")))
	require.NoError(t, found.Save(ctx))
	assert.True(t, found.UpdatedAt().After(found.CreatedAt()))

	require.NoError(t, post.Reload(ctx))
	v, _ = post.Get("title")
	assert.Equal(t, value.String("Changed"), v)

	require.NoError(t, post.Destroy(ctx))
	_, err = c.Find(ctx, "Post", "obj0001")
	assert.ErrorIs(t, err, orm.ErrNotFound)
}

func TestServer_Query(t *testing.T) {
	ctx := context.Background()
	ts, reg := startServer(t)
	c := newClient(t, ts, reg)

	for _, fields := range []map[string]any{
		{"title": "a", "author": "Arrington", "rating": 3},
		{"title": "b", "author": "Other", "rating": 5},
		{"title": "c", "author": "Arrington", "rating": 1},
	} {
		require.NoError(t, newPost(t, c, fields).Save(ctx))
	}

	posts, err := c.Query("Post").Where("author", "Arrington").Order("rating").All(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "obj0003", posts[0].ID())
	assert.Equal(t, "obj0001", posts[1].ID())
	assert.False(t, posts[0].IsDirty())

	n, err := c.Query("Post").Where("author", "Arrington").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := c.Query("Post").Order("-rating").First(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "obj0002", first.ID())

	none, err := c.Query("Post").Where("author", "Nobody").First(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	page, err := c.Query("Post").Order("title").Per(2).Page(2).All(ctx)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "obj0003", page[0].ID())

	keys, err := c.Query("Post").Keys("title").Limit(1).All(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	v, _ := keys[0].Get("author")
	assert.Equal(t, value.Null{}, v, "only selected keys are returned")
}

func TestServer_GeoQuery(t *testing.T) {
	ctx := context.Background()
	ts, reg := startServer(t)
	c := newClient(t, ts, reg)

	points := []struct {
		title    string
		lat, lon float64
	}{
		{"far", 45, -30},
		{"near", 40.01, -30},
		{"here", 40, -30},
	}
	for _, p := range points {
		gp, err := value.NewGeoPoint(p.lat, p.lon)
		require.NoError(t, err)
		require.NoError(t, newPost(t, c, map[string]any{"title": p.title, "location": gp}).Save(ctx))
	}

	origin, err := value.NewGeoPoint(40, -30)
	require.NoError(t, err)

	posts, err := c.Query("Post").WhereNear("location", origin, 10, value.Miles).All(ctx)
	require.NoError(t, err)
	var titles []value.Value
	for _, p := range posts {
		v, _ := p.Get("title")
		titles = append(titles, v)
	}
	assert.Equal(t, []value.Value{value.String("here"), value.String("near")}, titles, "closest first, far excluded")

	sw, _ := value.NewGeoPoint(39, -31)
	ne, _ := value.NewGeoPoint(41, -29)
	n, err := c.Query("Post").WhereWithinBox("location", sw, ne).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestServer_SaveAllAndDestroyAll(t *testing.T) {
	ctx := context.Background()
	ts, reg := startServer(t)
	c := newClient(t, ts, reg)

	existing := newPost(t, c, map[string]any{"title": "old"})
	require.NoError(t, existing.Save(ctx))
	require.NoError(t, existing.Set("title", value.String("updated")))

	a := newPost(t, c, map[string]any{"title": "a"})
	b := newPost(t, c, map[string]any{"title": "b"})

	result, err := c.SaveAll(ctx, a, existing, b)
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 3, result.Succeeded())
	assert.True(t, a.IsPersisted())
	assert.True(t, b.IsPersisted())
	assert.False(t, existing.IsDirty())

	n, err := c.Query("Post").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	result, err = c.DestroyAll(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded())

	n, err = c.Query("Post").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServer_SaveAllPartialFailure(t *testing.T) {
	ctx := context.Background()
	ts, reg := startServer(t)
	c := newClient(t, ts, reg)

	a := newPost(t, c, map[string]any{"title": "a"})
	bad := newPost(t, c, map[string]any{"title": "b", "rating": "five"})
	b := newPost(t, c, map[string]any{"title": "c"})

	result, err := c.SaveAll(ctx, a, bad, b)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded())
	assert.True(t, a.IsPersisted())
	assert.True(t, b.IsPersisted())
	assert.True(t, bad.IsNew())
	assert.True(t, transport.HasCode(bad.LastError(), transport.CodeIncorrectType))
}

func TestServer_Users(t *testing.T) {
	ctx := context.Background()
	ts, reg := startServer(t)
	c := newClient(t, ts, reg)

	u, err := c.New("_User")
	require.NoError(t, err)
	require.NoError(t, u.Assign(map[string]any{"username": "ada", "password": "secret", "email": "ada@example.com"}))
	require.NoError(t, u.Save(ctx))
	assert.Equal(t, "r:tok0001", u.SessionToken())

	dup, err := c.New("_User")
	require.NoError(t, err)
	require.NoError(t, dup.Assign(map[string]any{"username": "ada", "password": "other"}))
	err = dup.Save(ctx)
	assert.True(t, transport.HasCode(err, transport.CodeUsernameTaken))

	user, err := c.Authenticate(ctx, "ada", "secret")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, u.ID(), user.ID())
	assert.Equal(t, "r:tok0002", user.SessionToken())
	_, hasPassword := user.Raw()["password"]
	assert.False(t, hasPassword)

	wrong, err := c.Authenticate(ctx, "ada", "nope")
	require.NoError(t, err)
	assert.Nil(t, wrong)

	unknown, err := c.Authenticate(ctx, "nobody", "secret")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	// Updating a user needs that user's session.
	require.NoError(t, user.Set("email", value.String("new@example.com")))
	err = user.Save(ctx)
	assert.True(t, transport.HasCode(err, transport.CodeSessionMissing))

	authed := c.WithSession(user.SessionToken())
	fresh, err := authed.Find(ctx, "_User", user.ID())
	require.NoError(t, err)
	require.NoError(t, fresh.Set("email", value.String("new@example.com")))
	require.NoError(t, fresh.Save(ctx))
}

func TestServer_InvalidSessionToken(t *testing.T) {
	ts, reg := startServer(t)
	c := newClient(t, ts, reg).WithSession("r:bogus")

	_, err := c.Query("Post").All(context.Background())
	assert.True(t, transport.HasCode(err, transport.CodeInvalidSessionToken))
}

func TestServer_RawRequests(t *testing.T) {
	ts, _ := startServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing application id",
			method:     "GET",
			path:       "/1/classes/Post",
			headers:    map[string]string{},
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"unauthorized"}`,
		},
		{
			name:       "wrong rest key",
			method:     "GET",
			path:       "/1/classes/Post",
			headers:    map[string]string{transport.HeaderAPIKey: "nope"},
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"unauthorized"}`,
		},
		{
			name:       "master key accepted",
			method:     "GET",
			path:       "/1/classes/Post",
			headers:    map[string]string{transport.HeaderAPIKey: "", transport.HeaderMasterKey: "master"},
			wantStatus: http.StatusOK,
			wantBody:   `{"results":[]}`,
		},
		{
			name:       "object not found",
			method:     "GET",
			path:       "/1/classes/Post/nope",
			wantStatus: http.StatusNotFound,
			wantBody:   `{"code":101,"error":"object not found for get"}`,
		},
		{
			name:       "invalid json",
			method:     "POST",
			path:       "/1/classes/Post",
			body:       `{"title":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid class name",
			method:     "POST",
			path:       "/1/classes/Bad-Name",
			body:       `{"title":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"code":103,"error":"invalid class name: Bad-Name"}`,
		},
		{
			name:       "reserved key",
			method:     "POST",
			path:       "/1/classes/Post",
			body:       `{"objectId":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"code":105,"error":"invalid field name: objectId"}`,
		},
		{
			name:       "wrong type",
			method:     "POST",
			path:       "/1/classes/Post",
			body:       `{"rating":"high"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"code":111,"error":"invalid type for key rating, expected number, but got string"}`,
		},
		{
			name:       "unknown operator",
			method:     "GET",
			path:       "/1/classes/Post?where=" + url.QueryEscape(`{"a":{"$regex":"x"}}`),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "signup without username",
			method:     "POST",
			path:       "/1/users",
			body:       `{"password":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"code":200,"error":"bad or missing username"}`,
		},
		{
			name:       "signup without password",
			method:     "POST",
			path:       "/1/users",
			body:       `{"username":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"code":201,"error":"password is required"}`,
		},
		{
			name:       "login without password",
			method:     "GET",
			path:       "/1/login?username=x",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"code":201,"error":"password is required"}`,
		},
		{
			name:       "schemaless class",
			method:     "POST",
			path:       "/1/classes/Note",
			body:       `{"anything":1}`,
			wantStatus: http.StatusCreated,
			wantBody:   `{"createdAt":"2024-01-01T00:00:00.000Z","objectId":"obj0001"}`,
		},
		{
			name:       "unknown route",
			method:     "GET",
			path:       "/2/classes/Post",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.headers == nil {
				tt.headers = map[string]string{transport.HeaderAPIKey: testKeys.RESTAPIKey}
			}
			if _, ok := tt.headers[transport.HeaderApplicationID]; !ok && tt.name != "missing application id" {
				req.Header.Set(transport.HeaderApplicationID, testKeys.ApplicationID)
			}
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(data))
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, string(data))
			}
		})
	}
}

func TestServer_Batch(t *testing.T) {
	ts, _ := startServer(t)

	body := `{"requests":[
		{"method":"POST","path":"/1/classes/Post","body":{"title":"a"}},
		{"method":"PUT","path":"/1/classes/Post/missing","body":{"title":"b"}},
		{"method":"GET","path":"/1/classes/Post"},
		{"method":"POST","path":"/2/classes/Post","body":{}}
	]}`
	req, err := http.NewRequest("POST", ts.URL+"/1/batch", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(transport.HeaderApplicationID, testKeys.ApplicationID)
	req.Header.Set(transport.HeaderAPIKey, testKeys.RESTAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	entries, err := value.Decode(data)
	require.NoError(t, err)
	arr, ok := entries.(value.Array)
	require.True(t, ok)
	require.Len(t, arr, 4)

	first := arr[0].(value.Object)
	assert.Contains(t, first, "success")
	for i, code := range []float64{101, 107, 107} {
		entry := arr[i+1].(value.Object)
		failure, ok := entry["error"].(value.Object)
		require.True(t, ok, "entry %d", i+1)
		assert.Equal(t, value.Number(code), failure["code"], "entry %d", i+1)
	}
}

func TestServer_Include(t *testing.T) {
	ctx := context.Background()
	ts, reg := startServer(t)
	c := newClient(t, ts, reg)

	u, err := c.New("_User")
	require.NoError(t, err)
	require.NoError(t, u.Assign(map[string]any{"username": "ada", "password": "secret"}))
	require.NoError(t, u.Save(ctx))

	post := newPost(t, c, map[string]any{
		"title": "Hello",
		"owner": value.Pointer{ClassName: "_User", ObjectID: u.ID()},
	})
	require.NoError(t, post.Save(ctx))

	posts, err := c.Query("Post").Include("owner").All(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	owner, err := posts[0].Get("owner")
	require.NoError(t, err)
	obj, ok := owner.(value.Object)
	require.True(t, ok, "included pointer is expanded, got %s", value.TypeName(owner))
	assert.Equal(t, value.String("ada"), obj["username"])
	assert.NotContains(t, obj, "password")
}
