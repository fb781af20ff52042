package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rampartproxy/rampart/internal/config"
)

func TestRespond_StatusAndBody(t *testing.T) {
	h := &Respond{Status: 403, Body: "Access Denied"}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != 403 {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() != "Access Denied" {
		t.Fatalf("body: %q", rec.Body.String())
	}
}

func TestRespond_StatusOnly(t *testing.T) {
	h := &Respond{Status: 204}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != 204 {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body: %q", rec.Body.String())
	}
}

func TestRedirect_SetsLocation(t *testing.T) {
	h := &Redirect{Target: "https://example.com/new", Status: 301}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/old", nil))

	if rec.Code != 301 {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://example.com/new" {
		t.Fatalf("location: %q", got)
	}
}

func TestFile_ServesContentWithType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("<h1>hi</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &File{Path: path}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() != "<h1>hi</h1>" {
		t.Fatalf("body: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type: %q", ct)
	}
}

func TestFile_MissingIs404(t *testing.T) {
	h := &File{Path: filepath.Join(t.TempDir(), "nope.txt")}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestFile_DirectoryIs403(t *testing.T) {
	h := &File{Path: t.TempDir()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestDirectory_ListsEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	h := &Directory{Path: dir}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"a.txt", "b.txt", "sub/"} {
		if !strings.Contains(body, want) {
			t.Errorf("listing missing %q:\n%s", want, body)
		}
	}
	if strings.Index(body, "a.txt") > strings.Index(body, "b.txt") {
		t.Error("listing not sorted")
	}
}

func TestDirectory_MissingIs404(t *testing.T) {
	h := &Directory{Path: filepath.Join(t.TempDir(), "gone")}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestBuild_CoversAllKinds(t *testing.T) {
	cases := []config.HandlerConfig{
		{Kind: config.HandlerFile, Path: "/tmp/x"},
		{Kind: config.HandlerDirectory, Path: "/tmp"},
		{Kind: config.HandlerRespond, RespondStatus: 200},
		{Kind: config.HandlerRedirect, RedirectTo: "/", RedirectStatus: 302},
	}
	for _, hc := range cases {
		h, err := Build(hc, Options{})
		if err != nil {
			t.Fatalf("build %v: %v", hc.Kind, err)
		}
		if h == nil {
			t.Fatalf("build %v: nil handler", hc.Kind)
		}
	}
}
