package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"audiograb/internal/store"
)

// handleAudio serves a cached artifact with byte-range support. The filename
// is validated before any filesystem access; a file swept away between the
// existence check and the read surfaces as a 500, never a crash.
func (h *serverHandler) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/audios/")

	path, err := h.store.Resolve(filename)
	if err != nil {
		if errors.Is(err, store.ErrUnsafePath) {
			http.Error(w, "Invalid filename", http.StatusBadRequest)
			return
		}
		h.logger.Error("resolve artifact path", "filename", filename, "err", err)
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.Error(w, "Audio file not found", http.StatusNotFound)
		return
	}
	size := info.Size()

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Content-Type", "audio/mpeg")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" || size == 0 {
		h.serveFull(w, r, path, size)
		return
	}

	start, end := resolveRange(rangeHeader, size)
	h.servePartial(w, r, path, start, end, size)
}

func (h *serverHandler) serveFull(w http.ResponseWriter, r *http.Request, path string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("open artifact", "path", path, "err", err)
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, f)
	h.metrics.BytesServed.Add(float64(n))
	if err != nil {
		h.logger.Warn("serve artifact interrupted", "path", path, "err", err)
	}
}

func (h *serverHandler) servePartial(w http.ResponseWriter, r *http.Request, path string, start, end, size int64) {
	f, err := os.Open(path)
	if err != nil {
		h.logger.Error("open artifact", "path", path, "err", err)
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		h.logger.Error("seek artifact", "path", path, "err", err)
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return
	}

	n, err := io.CopyN(w, f, length)
	h.metrics.BytesServed.Add(float64(n))
	if err != nil {
		h.logger.Warn("serve artifact range interrupted", "path", path, "err", err)
	}
}
