package frontend

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	res := rec.Result()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func TestHandlerServesIndex(t *testing.T) {
	res, body := get(t, Handler(), "/")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, `<canvas id="ecg">`)
	assert.Contains(t, body, `src="app.js"`)
}

func TestHandlerServesAssets(t *testing.T) {
	res, body := get(t, Handler(), "/app.js")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "peakIndices")

	res, _ = get(t, Handler(), "/style.css")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Type"), "text/css")

	res, _ = get(t, Handler(), "/missing.js")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>dev</p>"), 0o644))

	res, body := get(t, Dir(dir), "/")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "dev")
}
