package cli

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/parsekit/internal/devserver"
	"github.com/roach88/parsekit/internal/testutil"
)

const postModel = `package blog

model: Post: {
	fields: {
		title:  "string"
		author: "string"
		rating: "number"
	}
	validates: presence: ["title"]
}
`

// writeModels writes the Post model to a fresh directory.
func writeModels(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post.cue"), []byte(postModel), 0o644))
	return dir
}

// startEmulator serves a fresh in-memory emulator with deterministic ids and
// points the PARSE_* variables at it.
func startEmulator(t *testing.T, modelsDir string) {
	t.Helper()

	registry, err := loadRegistry(modelsDir)
	require.NoError(t, err)

	st, err := devserver.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	keys := devserver.Keys{ApplicationID: "app", RESTAPIKey: "rest"}
	srv := devserver.New(st, keys,
		devserver.WithRegistry(registry),
		devserver.WithClock(testutil.NewDeterministicClock(time.Time{}, time.Second).Now),
		devserver.WithObjectIDs(testutil.NewSequentialIDs("obj").Generate),
		devserver.WithSessionTokens(testutil.NewSequentialIDs("r:tok").Generate),
		devserver.WithPasswordCost(bcrypt.MinCost),
		devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	t.Setenv("PARSE_APPLICATION_ID", keys.ApplicationID)
	t.Setenv("PARSE_REST_API_KEY", keys.RESTAPIKey)
	t.Setenv("PARSE_MASTER_KEY", "")
	t.Setenv("PARSE_BASE_URL", ts.URL+devserver.DefaultPrefix)
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, modelsDir string, args ...string) (string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--models", modelsDir}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

// setup starts an emulator with the Post model and returns the models
// directory to pass to execute.
func setup(t *testing.T) string {
	t.Helper()
	dir := writeModels(t)
	startEmulator(t, dir)
	return dir
}
