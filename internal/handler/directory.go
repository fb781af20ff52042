package handler

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sort"
)

// Directory serves an HTML listing of one fixed directory.
type Directory struct {
	Path   string
	Logger *slog.Logger
}

func (h *Directory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			http.NotFound(w, r)
		case errors.Is(err, fs.ErrPermission):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			if h.Logger != nil {
				h.Logger.Error("directory listing failed", "path", h.Path, "error", err)
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><title>Index of %s</title></head>\n<body>\n", html.EscapeString(r.URL.Path))
	fmt.Fprintf(w, "<h1>Index of %s</h1>\n<ul>\n", html.EscapeString(r.URL.Path))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		href := path.Join(r.URL.Path, name)
		if e.IsDir() {
			href += "/"
		}
		fmt.Fprintf(w, "<li><a href=%q>%s</a></li>\n", href, html.EscapeString(name))
	}
	fmt.Fprint(w, "</ul>\n</body>\n</html>\n")
}
