package sources

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sitemapd/internal/sitemap"
)

const (
	defaultRemoteMaxSitemaps = 50
	remoteBodyLimit          = 64 << 20
)

type remoteDoc struct {
	URLs []struct {
		Loc        string `xml:"loc"`
		LastMod    string `xml:"lastmod"`
		ChangeFreq string `xml:"changefreq"`
		Priority   string `xml:"priority"`
	} `xml:"url"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// Remote merges an upstream sitemap, following nested sitemap indexes.
type Remote struct {
	client      *http.Client
	url         string
	maxSitemaps int
}

// NewRemote builds a source for sitemapURL. A nil client uses a client with a
// 30 second timeout; maxSitemaps <= 0 means 50.
func NewRemote(client *http.Client, sitemapURL string, maxSitemaps int) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxSitemaps <= 0 {
		maxSitemaps = defaultRemoteMaxSitemaps
	}
	return &Remote{client: client, url: sitemapURL, maxSitemaps: maxSitemaps}
}

func (r *Remote) FetchURLs(ctx context.Context) ([]sitemap.Entry, error) {
	seen := map[string]struct{}{}
	queue := []string{strings.TrimSpace(r.url)}
	var out []sitemap.Entry

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		smURL := queue[0]
		queue = queue[1:]
		if _, ok := seen[smURL]; ok {
			continue
		}
		if len(seen) >= r.maxSitemaps {
			return nil, fmt.Errorf("more than %d sitemaps under %q", r.maxSitemaps, r.url)
		}
		seen[smURL] = struct{}{}

		base, err := url.Parse(smURL)
		if err != nil {
			return nil, fmt.Errorf("parse sitemap url %q: %w", smURL, err)
		}
		doc, err := r.fetchAndParse(ctx, smURL)
		if err != nil {
			return nil, fmt.Errorf("fetch sitemap %q: %w", smURL, err)
		}

		for _, nested := range doc.Sitemaps {
			if loc := resolveLoc(base, nested); loc != "" {
				queue = append(queue, loc)
			}
		}
		for _, u := range doc.URLs {
			loc := resolveLoc(base, u.Loc)
			if loc == "" {
				continue
			}
			e := sitemap.Entry{Location: loc}
			e.LastModified = parseLastMod(u.LastMod)
			if f, err := sitemap.ParseChangeFrequency(u.ChangeFreq); err == nil {
				e.ChangeFrequency = f
			}
			if p, err := strconv.ParseFloat(strings.TrimSpace(u.Priority), 64); err == nil {
				e.Priority = &p
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Remote) fetchAndParse(ctx context.Context, sitemapURL string) (remoteDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return remoteDoc{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return remoteDoc{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return remoteDoc{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, remoteBodyLimit))
	if err != nil {
		return remoteDoc{}, err
	}

	// A .gz sitemap may arrive already decoded when the server also sets
	// Content-Encoding, so only trust the magic bytes.
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return remoteDoc{}, err
		}
		defer gz.Close()
		if body, err = io.ReadAll(io.LimitReader(gz, remoteBodyLimit)); err != nil {
			return remoteDoc{}, err
		}
	}

	var doc remoteDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return remoteDoc{}, err
	}
	return doc, nil
}

// resolveLoc trims loc and resolves it against the sitemap it came from.
func resolveLoc(base *url.URL, loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	u, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

var lastModLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04Z07:00", "2006-01-02"}

func parseLastMod(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
