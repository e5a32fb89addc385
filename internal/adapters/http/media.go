package http

import (
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".ogg":  "video/ogg",
	".mov":  "video/quicktime",
}

// MediaHandler serves video files with single-range support so browsers
// can seek.
type MediaHandler struct {
	dir string
}

func NewMediaHandler(dir string) *MediaHandler {
	return &MediaHandler{dir: dir}
}

func contentType(name string) string {
	if ct, ok := mediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func (h *MediaHandler) Serve(c *gin.Context) {
	// Base strips any path traversal in the request.
	name := filepath.Base(c.Param("name"))
	if name == "." || name == "/" {
		c.Status(nethttp.StatusNotFound)
		return
	}

	f, err := os.Open(filepath.Join(h.dir, name))
	if err != nil {
		c.Status(nethttp.StatusNotFound)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		c.Status(nethttp.StatusNotFound)
		return
	}
	size := fi.Size()

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", contentType(name))
	c.Header("Cache-Control", "no-store, must-revalidate")

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(nethttp.StatusOK)
		if _, err := io.Copy(c.Writer, f); err != nil {
			log.Debug().Err(err).Str("module", "adapters.http").Str("file", name).Msg("media copy aborted")
		}
		return
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.Status(nethttp.StatusRequestedRangeNotSatisfiable)
		return
	}

	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.Header("Content-Length", strconv.FormatInt(end-start+1, 10))
	c.Status(nethttp.StatusPartialContent)
	if _, err := io.Copy(c.Writer, io.NewSectionReader(f, start, end-start+1)); err != nil {
		log.Debug().Err(err).Str("module", "adapters.http").Str("file", name).Msg("media copy aborted")
	}
}

// parseRange handles a single "bytes=start-end" range, including the
// open-ended "bytes=start-" form.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found || startStr == "" {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	end = size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start || end >= size {
			return 0, 0, false
		}
	}
	return start, end, true
}
