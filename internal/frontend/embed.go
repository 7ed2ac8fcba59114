// Package frontend embeds the browser ECG view served at "/".
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

// Dir serves the view from disk, for editing the page without rebuilding.
func Dir(path string) http.Handler {
	return http.FileServer(http.Dir(path))
}
