package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/value"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc, mutate func(*config.Config)) *HTTP {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{ApplicationID: "app-id", APIKey: "rest-key", BaseURL: srv.URL + "/1"}
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := NewHTTP(cfg, WithRequestIDs(func() string { return "req-1" }))
	require.NoError(t, err)
	return tr
}

func TestHTTP_SignsRequests(t *testing.T) {
	var got *http.Request
	var gotBody string
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"objectId":"abc","createdAt":"2024-03-01T12:00:00.000Z"}`)
	}, nil)

	v, err := tr.Do(context.Background(), Request{
		Method:       http.MethodPost,
		Path:         "/classes/Post",
		Body:         map[string]any{"title": "Hello", "b": 1},
		SessionToken: "r:token",
	})
	require.NoError(t, err)

	assert.Equal(t, "/1/classes/Post", got.URL.Path)
	assert.Equal(t, "app-id", got.Header.Get(HeaderApplicationID))
	assert.Equal(t, "rest-key", got.Header.Get(HeaderAPIKey))
	assert.Empty(t, got.Header.Get(HeaderMasterKey))
	assert.Equal(t, "r:token", got.Header.Get(HeaderSessionToken))
	assert.Equal(t, "req-1", got.Header.Get(HeaderRequestID))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "parsekit/"+Version, got.Header.Get("User-Agent"))
	assert.Equal(t, `{"b":1,"title":"Hello"}`, gotBody)

	obj, ok := v.(value.Object)
	require.True(t, ok)
	assert.Equal(t, value.String("abc"), obj["objectId"])
}

func TestHTTP_MasterKeyWins(t *testing.T) {
	var got *http.Request
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		io.WriteString(w, `{}`)
	}, func(c *config.Config) { c.MasterKey = "master" })

	_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/classes/Post"})
	require.NoError(t, err)
	assert.Equal(t, "master", got.Header.Get(HeaderMasterKey))
	assert.Empty(t, got.Header.Get(HeaderAPIKey))
	assert.Empty(t, got.Header.Get("Content-Type"))
}

func TestHTTP_EncodesQuery(t *testing.T) {
	var rawQuery string
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		io.WriteString(w, `{"results":[]}`)
	}, nil)

	_, err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/classes/Post",
		Query:  url.Values{"where": {`{"author":"Arrington"}`}, "limit": {"1"}},
	})
	require.NoError(t, err)

	parsed, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	assert.Equal(t, `{"author":"Arrington"}`, parsed.Get("where"))
	assert.Equal(t, "1", parsed.Get("limit"))
}

func TestHTTP_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    int
		message string
	}{
		{"service error", http.StatusNotFound, `{"code":101,"error":"object not found for get"}`, 101, "object not found for get"},
		{"plain text error", http.StatusBadGateway, "upstream down", 0, "upstream down"},
		{"empty error body", http.StatusInternalServerError, "", 0, "Internal Server Error"},
		{"malformed success body", http.StatusOK, `{"results":`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}, nil)

			_, err := tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/classes/Post/x"})
			require.Error(t, err)

			var re *RemoteRequestError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.Status)
			assert.Equal(t, tt.code, re.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, re.Message)
			} else {
				assert.Contains(t, re.Message, "malformed response body")
			}
		})
	}
}

func TestHTTP_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	tr, err := NewHTTP(config.Config{ApplicationID: "a", APIKey: "k", BaseURL: base})
	require.NoError(t, err)

	_, err = tr.Do(context.Background(), Request{Method: http.MethodGet, Path: "/classes/Post"})
	var re *RemoteRequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 0, re.Status)
	assert.NotNil(t, re.Err)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestHTTP_ContextCanceled(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, func(c *config.Config) { c.Timeout = 5 * time.Second })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Do(ctx, Request{Method: http.MethodGet, Path: "/classes/Post"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTP_EmptySuccessBody(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, nil)

	v, err := tr.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/classes/Post/x"})
	require.NoError(t, err)
	assert.Equal(t, value.Object{}, v)
}

func TestNewHTTP_InvalidConfig(t *testing.T) {
	_, err := NewHTTP(config.Config{APIKey: "k"})
	assert.ErrorIs(t, err, config.ErrMissingApplicationID)
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestRemoteRequestError(t *testing.T) {
	tests := []struct {
		name string
		err  *RemoteRequestError
		want string
	}{
		{"status and code", &RemoteRequestError{Method: "GET", Path: "/p", Status: 404, Code: 101, Message: "nope"}, "GET /p: status 404, code 101: nope"},
		{"code only", NewServiceError("POST", "/classes/Post", 111, "bad type"), "POST /classes/Post: code 111: bad type"},
		{"status only", &RemoteRequestError{Method: "GET", Path: "/p", Status: 502, Message: "down"}, "GET /p: status 502: down"},
		{"transport", &RemoteRequestError{Method: "GET", Path: "/p", Message: "refused"}, "GET /p: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}

	notFound := &RemoteRequestError{Code: CodeObjectNotFound}
	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsNotFound(errors.Join(errors.New("ctx"), notFound)))
	assert.False(t, IsNotFound(errors.New("other")))
	assert.True(t, IsNotFound(&RemoteRequestError{Method: "GET", Path: "/p", Status: 404, Message: "Not Found"}))
	assert.False(t, IsNotFound(&RemoteRequestError{Status: 400, Code: CodeInvalidQuery}))
	assert.True(t, HasCode(notFound, CodeInvalidQuery, CodeObjectNotFound))
	assert.False(t, HasCode(notFound, CodeInvalidQuery))
}
