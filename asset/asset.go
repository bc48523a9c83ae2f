// Package asset holds the static files used by the dashboard page:
// the style sheet and the script that draws the chart and
// follows status updates.
package asset

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"
)

// MaxAge holds how long clients may cache the static files.
const MaxAge = time.Hour

//go:embed data
var embedded embed.FS

var files = mustSub(embedded, "data")

// FS returns the static files.
func FS() fs.FS {
	return files
}

// Handler returns a handler that serves the static files.
// Request paths are taken relative to the root of FS, so
// the handler will usually be wrapped in http.StripPrefix.
func Handler() http.Handler {
	fileServer := http.FileServer(http.FS(files))
	cacheControl := fmt.Sprintf("public, max-age=%d", int(MaxAge/time.Second))
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Cache-Control", cacheControl)
		fileServer.ServeHTTP(w, req)
	})
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
