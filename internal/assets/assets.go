// Package assets serves the static HTML/JS/WASM bundle: either the
// copy embedded into the binary at build time, or a filesystem
// directory override for deployments that ship assets separately.
package assets

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed static/index.html static/assets
var embedded embed.FS

// Server answers the index and /assets/*path routes, preferring a
// filesystem directory when one is configured and falling back to the
// embedded bundle otherwise.
type Server struct {
	staticDir string
	log       *slog.Logger
}

func New(staticDir string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{staticDir: staticDir, log: log.With("component", "assets")}
}

// Verify checks that the configured asset source actually has content
// to serve, mirroring the startup check the original implementation
// performs before it will start. When a static directory is configured
// it must contain index.html; the embedded bundle is not used as a
// fallback for it. Otherwise the embedded bundle must hold index.html.
func (s *Server) Verify() error {
	if s.staticDir != "" {
		if _, err := os.Stat(path.Join(s.staticDir, "index.html")); err != nil {
			return err
		}
		s.log.Info("serving static files", "dir", s.staticDir)
		return nil
	}

	if _, err := embedded.ReadFile("static/index.html"); err != nil {
		return err
	}
	s.log.Info("serving embedded assets")
	return nil
}

// Index serves / and /index.html.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var err error
	if s.staticDir != "" {
		data, err = os.ReadFile(path.Join(s.staticDir, "index.html"))
	} else {
		data, err = embedded.ReadFile("static/index.html")
	}
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write(data)
}

// Asset serves /assets/*path, resolving content type from the
// extension table the wire spec names explicitly.
func (s *Server) Asset(w http.ResponseWriter, r *http.Request) {
	reqPath := strings.TrimPrefix(r.URL.Path, "/assets/")
	if reqPath == "" || strings.Contains(reqPath, "..") {
		http.NotFound(w, r)
		return
	}

	var data []byte
	if s.staticDir != "" {
		d, err := os.ReadFile(path.Join(s.staticDir, "assets", reqPath))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		data = d
	} else {
		d, err := fs.ReadFile(embedded, path.Join("static/assets", reqPath))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		data = d
	}

	w.Header().Set("Content-Type", contentType(reqPath))
	_, _ = w.Write(data)
}

// contentType maps an extension to the content-type table the
// external interface spec enumerates exactly.
func contentType(name string) string {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".js":
		return "application/javascript"
	case ".wasm":
		return "application/wasm"
	case ".css":
		return "text/css"
	case ".html":
		return "text/html"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
