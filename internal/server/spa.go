package server

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/milearning/milearning/internal/httputil"
)

// spaFileServer serves the built web client and falls back to index.html so
// client-side routes such as /saved and /profile load the app.
type spaFileServer struct {
	fileServer http.Handler
	fileSystem fs.FS
}

func newSPAFileServer(fsys fs.FS) *spaFileServer {
	return &spaFileServer{
		fileServer: http.FileServer(http.FS(fsys)),
		fileSystem: fsys,
	}
}

func (s *spaFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	if _, err := fs.Stat(s.fileSystem, path); err != nil {
		r.URL.Path = "/"
	}
	s.fileServer.ServeHTTP(w, r)
}
