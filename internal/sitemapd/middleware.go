package sitemapd

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitemapd/internal/sitemap"
)

// DocumentProvider is satisfied by *sitemap.Coordinator.
type DocumentProvider interface {
	Document(ctx context.Context) (*sitemap.Document, error)
}

type sitemapHandler struct {
	docs  DocumentProvider
	log   *zap.Logger
	stats *statsCollector
	now   func() time.Time
}

// NewHandler serves the cached document on GET and HEAD and answers 405 to
// anything else.
func NewHandler(docs DocumentProvider, log *zap.Logger) http.Handler {
	return newSitemapHandler(docs, log, nil)
}

// Middleware serves the document on GET and HEAD requests whose path equals
// path, ignoring case. Every other request reaches next.
func Middleware(path string, docs DocumentProvider, log *zap.Logger) func(http.Handler) http.Handler {
	return sitemapMiddleware(path, newSitemapHandler(docs, log, nil))
}

func sitemapMiddleware(path string, h *sitemapHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.EqualFold(r.URL.Path, path) || !isGetOrHead(r) {
				next.ServeHTTP(w, r)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func newSitemapHandler(docs DocumentProvider, log *zap.Logger, stats *statsCollector) *sitemapHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &sitemapHandler{docs: docs, log: log, stats: stats, now: time.Now}
}

func isGetOrHead(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func (h *sitemapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isGetOrHead(r) {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc, err := h.docs.Document(r.Context())
	if err != nil {
		if h.stats != nil {
			h.stats.Failed()
		}
		h.log.Error("sitemap generation failed", zap.Error(err))
		http.Error(w, "sitemap unavailable", http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`"%08x"`, doc.Hash32)
	hdr := w.Header()
	hdr.Set("ETag", etag)
	hdr.Set("Last-Modified", doc.GeneratedAt.UTC().Format(http.TimeFormat))
	hdr.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge(doc.ExpiresAt, h.now())))

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		if h.stats != nil {
			h.stats.NotModified()
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}

	hdr.Set("Content-Type", "application/xml")
	hdr.Set("Content-Length", strconv.Itoa(len(doc.Text)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	n, _ := w.Write([]byte(doc.Text))
	if h.stats != nil {
		h.stats.Observe(n)
	}
}

func maxAge(expiresAt, now time.Time) int64 {
	secs := int64(expiresAt.Sub(now) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// etagMatches implements the weak comparison If-None-Match asks for.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || strings.TrimPrefix(part, "W/") == etag {
			return true
		}
	}
	return false
}
