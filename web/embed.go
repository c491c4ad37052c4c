// Package web embeds the play page and serves it.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler serves the embedded play page. Paths naming an asset that
// does not exist get 404; any other path gets index.html so that links
// such as /play?activity=7 open the page. index.html is never cached,
// because it pins the script that mirrors the reveal schedule.
func SPAHandler() http.Handler {
	pages, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: embedded dist directory missing: " + err.Error())
	}
	assets := http.FileServer(http.FS(pages))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" || name == "." {
			name = "index.html"
		}

		if exists(pages, name) {
			if name == "index.html" {
				w.Header().Set("Cache-Control", "no-cache")
			}
			assets.ServeHTTP(w, r)
			return
		}
		if path.Ext(name) != "" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		assets.ServeHTTP(w, r2)
	})
}

func exists(pages fs.FS, name string) bool {
	f, err := pages.Open(name)
	if err != nil {
		return false
	}
	if err := f.Close(); err != nil {
		slog.Debug("web: close embedded file", "name", name, "error", err)
	}
	return true
}
