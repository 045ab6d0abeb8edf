// Package web embeds the HTML templates and static assets of the chat client.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Templates parses every embedded template. The set defines "page" (full
// document) and "app" (the swappable view fragment).
func Templates() (*template.Template, error) {
	return template.New("web").ParseFS(templateFS, "templates/*.html")
}

// StaticHandler serves embedded assets. Mount it under prefix.
func StaticHandler(prefix string) http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return http.StripPrefix(prefix, http.FileServer(http.FS(sub)))
}
