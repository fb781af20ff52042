package handler

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// File serves one fixed file from disk.
type File struct {
	Path   string
	Logger *slog.Logger
}

func (h *File) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(h.Path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if info.IsDir() {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	if ct := mime.TypeByExtension(filepath.Ext(h.Path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if _, err := io.Copy(w, f); err != nil && h.Logger != nil {
		h.Logger.Debug("file copy aborted", "path", h.Path, "error", err)
	}
}

func (h *File) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.NotFound(w, r)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		if h.Logger != nil {
			h.Logger.Error("file handler failed", "path", h.Path, "error", err)
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
