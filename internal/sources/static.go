// Package sources holds the sitemap sources sitemapd builds from its
// configuration: static entries, SQL queries, a LevelDB page store and
// upstream sitemaps.
package sources

import (
	"context"

	"sitemapd/internal/sitemap"
)

// Static serves a fixed list of entries.
type Static struct {
	entries []sitemap.Entry
}

func NewStatic(entries []sitemap.Entry) *Static {
	cp := make([]sitemap.Entry, len(entries))
	copy(cp, entries)
	return &Static{entries: cp}
}

// FetchURLs returns a fresh copy so callers can never alias the list.
func (s *Static) FetchURLs(ctx context.Context) ([]sitemap.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]sitemap.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}
