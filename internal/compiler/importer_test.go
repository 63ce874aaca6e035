package compiler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== FILEFETCHER ==========

func TestFileFetcher_ResolvesRelativeToRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.kdl"), []byte(`fragment run="echo hi"`), 0o644))

	f := NewFileFetcher(dir)
	content, err := f.Fetch("lib.kdl")
	require.NoError(t, err)
	assert.Equal(t, `fragment run="echo hi"`, content)
}

func TestFileFetcher_ResolvesAbsolutePathIgnoringRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	abs := filepath.Join(dir, "lib.kdl")
	require.NoError(t, os.WriteFile(abs, []byte(`fragment run="abs"`), 0o644))

	f := NewFileFetcher("/nonexistent-root")
	content, err := f.Fetch(abs)
	require.NoError(t, err)
	assert.Equal(t, `fragment run="abs"`, content)
}

func TestFileFetcher_StripsFileScheme(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	abs := filepath.Join(dir, "lib.kdl")
	require.NoError(t, os.WriteFile(abs, []byte(`fragment run="schemed"`), 0o644))

	f := NewFileFetcher("")
	content, err := f.Fetch("file://" + abs)
	require.NoError(t, err)
	assert.Equal(t, `fragment run="schemed"`, content)
}

func TestFileFetcher_MissingFileReturnsError(t *testing.T) {
	t.Parallel()

	f := NewFileFetcher(t.TempDir())
	_, err := f.Fetch("missing.kdl")
	assert.Error(t, err)
}

// ========== HTTPFETCHER ==========

func TestHTTPFetcher_FetchesOKResponseBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`fragment run="remote"`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0)
	content, err := f.Fetch(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `fragment run="remote"`, content)
}

func TestHTTPFetcher_NonOKStatusIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0)
	_, err := f.Fetch(srv.URL)
	assert.Error(t, err)
}

// ========== MAPFETCHER ==========

func TestMapFetcher_MissingKeyIsAnError(t *testing.T) {
	t.Parallel()

	f := MapFetcher{"a.kdl": "fragment run=\"a\""}
	_, err := f.Fetch("b.kdl")
	assert.Error(t, err)
}
