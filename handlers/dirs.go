package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"clicast/config"
	"clicast/services"
)

// DirsHandler lists directories for the session-creation picker. It is
// a consumer of the path guard: everything outside the allow-list is
// invisible.
type DirsHandler struct {
	store *config.Store
}

func NewDirsHandler(store *config.Store) *DirsHandler {
	return &DirsHandler{store: store}
}

type dirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// List returns the subdirectories of ?path= (default: home directory).
func (h *DirsHandler) List(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		path = services.ResolveHomeDir()
	}

	cfg := h.store.Get()
	if !services.PathAllowed(cfg.AllowedDirs, path) {
		respondError(c, http.StatusForbidden, "path not allowed")
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		respondError(c, http.StatusNotFound, "Directory not found")
		return
	}

	dirs := make([]dirEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dirs = append(dirs, dirEntry{
			Name: entry.Name(),
			Path: filepath.Join(path, entry.Name()),
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	respondOK(c, gin.H{"path": path, "dirs": dirs})
}

// Breadcrumbs splits ?path= into clickable ancestor segments.
func (h *DirsHandler) Breadcrumbs(c *gin.Context) {
	path := c.Query("path")
	if path == "" || !filepath.IsAbs(path) {
		respondError(c, http.StatusBadRequest, "absolute path required")
		return
	}
	path = filepath.Clean(path)

	crumbs := []dirEntry{{Name: "/", Path: "/"}}
	acc := ""
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		acc += "/" + seg
		crumbs = append(crumbs, dirEntry{Name: seg, Path: acc})
	}
	respondOK(c, gin.H{"breadcrumbs": crumbs})
}
