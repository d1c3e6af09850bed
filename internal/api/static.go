package api

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
	"github.com/nanome-ai/plugin-vault/internal/webapp"
)

var mimeTypes = map[string]string{
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"ico":  "image/x-icon",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"svg":  "image/svg+xml",
	"pdf":  "application/pdf",
}

// mimeFor returns the content type for name, text/plain when unknown.
func mimeFor(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return "text/plain"
}

func writeContent(w http.ResponseWriter, r *http.Request, name string, data []byte) {
	w.Header().Set("Content-Type", mimeFor(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(data)
	}
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	rel := strings.TrimPrefix(r.URL.Path, "/")
	if !isFilePath(rel) {
		rel = "index.html"
	}
	data, err := s.readAsset(rel)
	if err != nil {
		sendError(w, http.StatusNotFound, "Not found")
		return
	}
	writeContent(w, r, rel, data)
}

// readAsset reads a UI asset from the asset directory, or from the embedded
// UI when none is configured.
func (s *Server) readAsset(rel string) ([]byte, error) {
	if pathsafe.IsHidden(rel) {
		return nil, pathsafe.ErrNotFound
	}
	if s.assets != nil {
		abs, err := s.assets.Resolve(rel)
		if err != nil {
			return nil, err
		}
		return os.ReadFile(abs)
	}
	rel = pathsafe.Clean(rel)
	if !fs.ValidPath(rel) {
		return nil, pathsafe.ErrNotFound
	}
	return fs.ReadFile(webapp.Assets, rel)
}
