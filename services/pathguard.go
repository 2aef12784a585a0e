package services

import (
	"path/filepath"
	"strings"
)

// PathAllowed decides whether an absolute path may be used as a session
// working directory. An empty allow-list admits everything; otherwise the
// path must equal an entry or live underneath one. Relative paths and
// paths with ".." segments are always rejected.
func PathAllowed(allowList []string, path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return false
		}
	}
	path = filepath.Clean(path)

	if len(allowList) == 0 {
		return true
	}
	for _, root := range allowList {
		root = filepath.Clean(root)
		if root == "/" || path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}
