package handlers

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicast/config"
)

func newDirsTestRouter(t *testing.T, allowedDirs []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "config.json")
	store, err := config.NewStore(path, &config.Config{AllowedDirs: allowedDirs})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	h := NewDirsHandler(store)
	r := gin.New()
	r.GET("/api/dirs", h.List)
	r.GET("/api/dirs/breadcrumbs", h.Breadcrumbs)
	return r
}

func TestDirsList(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "beta"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpha"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".hidden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0600))

	r := newDirsTestRouter(t, []string{root})

	w := doJSON(t, r, http.MethodGet, "/api/dirs?path="+url.QueryEscape(root), nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeEnvelope(t, w)
	dirs, ok := data["dirs"].([]any)
	require.True(t, ok)
	require.Len(t, dirs, 2, "files and hidden dirs are skipped")

	first := dirs[0].(map[string]any)
	second := dirs[1].(map[string]any)
	assert.Equal(t, "alpha", first["name"], "sorted by name")
	assert.Equal(t, filepath.Join(root, "alpha"), first["path"])
	assert.Equal(t, "beta", second["name"])
}

func TestDirsListForbiddenOutsideAllowList(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	r := newDirsTestRouter(t, []string{allowed})

	w := doJSON(t, r, http.MethodGet, "/api/dirs?path="+url.QueryEscape(outside), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDirsListMissingDirectory(t *testing.T) {
	root := t.TempDir()
	r := newDirsTestRouter(t, []string{root})

	w := doJSON(t, r, http.MethodGet, "/api/dirs?path="+url.QueryEscape(filepath.Join(root, "gone")), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDirsBreadcrumbs(t *testing.T) {
	r := newDirsTestRouter(t, nil)

	w := doJSON(t, r, http.MethodGet, "/api/dirs/breadcrumbs?path="+url.QueryEscape("/home/me/projects"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeEnvelope(t, w)
	crumbs, ok := data["breadcrumbs"].([]any)
	require.True(t, ok)
	require.Len(t, crumbs, 4)

	last := crumbs[3].(map[string]any)
	assert.Equal(t, "projects", last["name"])
	assert.Equal(t, "/home/me/projects", last["path"])
	rootCrumb := crumbs[0].(map[string]any)
	assert.Equal(t, "/", rootCrumb["path"])
}

func TestDirsBreadcrumbsRequireAbsolutePath(t *testing.T) {
	r := newDirsTestRouter(t, nil)

	w := doJSON(t, r, http.MethodGet, "/api/dirs/breadcrumbs?path=relative", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/dirs/breadcrumbs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
