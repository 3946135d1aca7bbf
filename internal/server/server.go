package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"audiograb/internal/fetch"
	"audiograb/internal/metrics"
	"audiograb/internal/models"
)

// ArtifactProducer runs one production for a remote reference. It reports
// failures inside the result payload, never as an error.
type ArtifactProducer interface {
	Produce(ctx context.Context, reference string, base *url.URL) fetch.Result
}

// CatalogSearcher answers free-text queries against the external catalog.
type CatalogSearcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// ArtifactStore resolves client-supplied filenames into safe cache paths and
// exposes the current artifact snapshot.
type ArtifactStore interface {
	Resolve(filename string) (string, error)
	List() []models.Artifact
}

// RateGate decides whether a client may execute a route's handler.
type RateGate interface {
	Allow(route, addr string) bool
}

// Options carries the façade's collaborators.
type Options struct {
	Store    ArtifactStore
	Producer ArtifactProducer
	Searcher CatalogSearcher
	Gate     RateGate
	Metrics  *metrics.Metrics

	// PublicBaseURL overrides per-request host derivation when set.
	PublicBaseURL string

	Logger *log.Logger
}

type serverHandler struct {
	store    ArtifactStore
	producer ArtifactProducer
	searcher CatalogSearcher
	gate     RateGate
	metrics  *metrics.Metrics
	baseURL  *url.URL
	logger   *log.Logger
}

// New creates the HTTP handler exposing the download, search and delivery
// routes. The artifact route is dispatched before the mux so traversal
// attempts reach the validator instead of the mux's path cleaning.
func New(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	var base *url.URL
	if opts.PublicBaseURL != "" {
		parsed, err := url.Parse(opts.PublicBaseURL)
		if err != nil {
			logger.Warn("invalid public base URL, falling back to request host",
				"url", opts.PublicBaseURL, "err", err)
		} else {
			base = parsed
		}
	}

	h := &serverHandler{
		store:    opts.Store,
		producer: opts.Producer,
		searcher: opts.Searcher,
		gate:     opts.Gate,
		metrics:  m,
		baseURL:  base,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.limited("/", h.handleRoot))
	mux.HandleFunc("/search", h.limited("/search", h.handleSearch))
	mux.HandleFunc("/download", h.limited("/download", h.handleDownload))
	mux.HandleFunc("/healthz", h.limited("/healthz", h.handleHealth))
	mux.HandleFunc("/metrics", h.limited("/metrics", m.Handler().ServeHTTP))

	audio := h.limited("/audios/", h.handleAudio)

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/audios/") {
			audio(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	return logRequests(root, logger)
}

func (h *serverHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"msg":       "Use /download or /audios/<filename>",
		"artifacts": len(h.store.List()),
	})
}

func (h *serverHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *serverHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]string{"error": "Invalid search query"})
		return
	}

	results, err := h.searcher.Search(r.Context(), query)
	if err != nil {
		h.logger.Error("catalog search failed", "query", query, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Search failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string][]models.SearchResult{"search": results})
}

func (h *serverHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reference := strings.TrimSpace(r.URL.Query().Get("video_url"))
	if reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "video_url parameter is required"})
		return
	}

	base := h.requestBaseURL(r)
	if base == nil {
		h.logger.Error("unable to determine request base URL")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error processing video: no base URL"})
		return
	}

	// The outcome ships as one JSON message over HTTP 200, success or error;
	// callers inspect the payload. Flushing forwards it the moment the
	// production finishes instead of waiting for the handler to return.
	w.Header().Set("Content-Type", "application/json")

	result := h.producer.Produce(r.Context(), reference, base)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Warn("write download result", "err", err)
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *serverHandler) limited(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.gate != nil && !h.gate.Allow(route, clientAddr(r)) {
			h.metrics.RateLimited.Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
			return
		}
		next(w, r)
	}
}

func (h *serverHandler) requestBaseURL(r *http.Request) *url.URL {
	if h.baseURL != nil {
		clone := *h.baseURL
		return &clone
	}

	scheme := "http"
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				scheme = candidate
			}
		}
	} else if r.TLS != nil {
		scheme = "https"
	}

	host := strings.TrimSpace(r.Host)
	if host == "" {
		return nil
	}

	return &url.URL{Scheme: scheme, Host: host}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func logRequests(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", sw.status, "bytes", sw.size,
			"duration", time.Since(start))
	})
}
