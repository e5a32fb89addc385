package http

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
)

func newMediaRouter(t *testing.T, content []byte) *gin.Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clip.mp4"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/video/:name", NewMediaHandler(dir).Serve)
	return r
}

func doGet(r *gin.Engine, path, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMediaFullFile(t *testing.T) {
	content := []byte("0123456789")
	r := newMediaRouter(t, content)

	w := doGet(r, "/video/clip.mp4", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "0123456789" {
		t.Fatalf("body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content type = %q", ct)
	}
	if ar := w.Header().Get("Accept-Ranges"); ar != "bytes" {
		t.Errorf("accept-ranges = %q", ar)
	}
}

func TestMediaPartialContent(t *testing.T) {
	r := newMediaRouter(t, []byte("0123456789"))

	w := doGet(r, "/video/clip.mp4", "bytes=2-5")

	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Body.String(); got != "2345" {
		t.Fatalf("body = %q, want 2345", got)
	}
	if cr := w.Header().Get("Content-Range"); cr != "bytes 2-5/10" {
		t.Errorf("content-range = %q", cr)
	}
	if cl := w.Header().Get("Content-Length"); cl != "4" {
		t.Errorf("content-length = %q", cl)
	}
}

func TestMediaOpenEndedRange(t *testing.T) {
	r := newMediaRouter(t, []byte("0123456789"))

	w := doGet(r, "/video/clip.mp4", "bytes=7-")

	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Body.String(); got != "789" {
		t.Fatalf("body = %q, want 789", got)
	}
	if cr := w.Header().Get("Content-Range"); cr != "bytes 7-9/10" {
		t.Errorf("content-range = %q", cr)
	}
}

func TestMediaRangeNotSatisfiable(t *testing.T) {
	r := newMediaRouter(t, []byte("0123456789"))

	for _, hdr := range []string{"bytes=10-", "bytes=5-20", "bytes=abc-def", "bytes=5-2"} {
		w := doGet(r, "/video/clip.mp4", hdr)
		if w.Code != http.StatusRequestedRangeNotSatisfiable {
			t.Errorf("range %q: status = %d, want 416", hdr, w.Code)
			continue
		}
		if cr := w.Header().Get("Content-Range"); cr != "bytes */10" {
			t.Errorf("range %q: content-range = %q", hdr, cr)
		}
	}
}

func TestMediaMissingFile(t *testing.T) {
	r := newMediaRouter(t, []byte("x"))

	if w := doGet(r, "/video/nope.mp4", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestMediaPathTraversalStripped(t *testing.T) {
	r := newMediaRouter(t, []byte("x"))

	// filepath.Base reduces the traversal to "passwd", which is absent.
	w := doGet(r, "/video/..%2F..%2Fetc%2Fpasswd", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestContentTypeFallback(t *testing.T) {
	if ct := contentType("clip.webm"); ct != "video/webm" {
		t.Errorf("webm = %q", ct)
	}
	if ct := contentType("clip.bin"); ct != "application/octet-stream" {
		t.Errorf("bin = %q", ct)
	}
}
