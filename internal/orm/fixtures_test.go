package orm

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/testutil"
	"github.com/roach88/parsekit/internal/value"
)

func blogRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	post, err := schema.NewModel("Post", []schema.Field{
		{Name: "title", Type: schema.TypeString},
		{Name: "body", Type: schema.TypeString},
		{Name: "author", Type: schema.TypeString},
		{Name: "published", Type: schema.TypeBoolean},
		{Name: "location", Type: schema.TypeGeoPoint},
	}, schema.Presence{FieldName: "title"})
	require.NoError(t, err)

	user, err := schema.UserModel(nil)
	require.NoError(t, err)

	reg, err := schema.NewRegistry(post, user)
	require.NoError(t, err)
	return reg
}

// newTestClient returns a client over a recording transport.
func newTestClient(t *testing.T) (*Client, *testutil.RecordingTransport) {
	t.Helper()

	tr := testutil.NewRecordingTransport()
	c, err := NewClient(config.Config{}, blogRegistry(t),
		WithTransport(tr),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return c, tr
}

// newHTTPClient returns a client that talks HTTP to handler.
func newHTTPClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := NewClient(config.Config{
		ApplicationID: "app",
		APIKey:        "rest",
		BaseURL:       ts.URL + "/1",
	}, blogRegistry(t), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return c
}

// bareNotFound answers every request with a 404 and no body.
func bareNotFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

// persistedPost returns a clean persisted Post with the given id.
func persistedPost(t *testing.T, c *Client, id, title string) *Record {
	t.Helper()

	r, err := c.New("Post")
	require.NoError(t, err)
	require.NoError(t, r.load(value.Object{
		"objectId":  value.String(id),
		"title":     value.String(title),
		"createdAt": value.String("2024-01-01T00:00:00.000Z"),
		"updatedAt": value.String("2024-01-01T00:00:00.000Z"),
	}))
	return r
}
