package sitemap

import (
	"encoding/xml"
	"io"
	"math"
	"strconv"
	"strings"
)

// Namespace is the sitemaps.org 0.9 schema namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

const lastModLayout = "2006-01-02"

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// Render serializes entries into a urlset document. Entries keep their
// order; blank locations are skipped. It does not deduplicate.
func Render(entries []Entry) (string, error) {
	var b strings.Builder
	if err := Write(&b, entries); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Write is Render onto an arbitrary writer.
func Write(w io.Writer, entries []Entry) error {
	set := xmlURLSet{
		Xmlns: Namespace,
		URLs:  make([]xmlURL, 0, len(entries)),
	}
	for _, e := range entries {
		loc := e.key()
		if loc == "" {
			continue
		}
		u := xmlURL{Loc: loc}
		if e.LastModified != nil {
			u.LastMod = e.LastModified.Format(lastModLayout)
		}
		if e.ChangeFrequency.Valid() {
			u.ChangeFreq = e.ChangeFrequency.String()
		}
		if e.Priority != nil {
			u.Priority = formatPriority(*e.Priority)
		}
		set.URLs = append(set.URLs, u)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return err
	}
	return enc.Close()
}

// formatPriority clamps p into [0, 1] and formats it with one decimal,
// rounding half away from zero. NaN yields "" so the element is omitted.
func formatPriority(p float64) string {
	if math.IsNaN(p) {
		return ""
	}
	p = math.Max(0, math.Min(1, p))
	p = math.Round(p*10) / 10
	return strconv.FormatFloat(p, 'f', 1, 64)
}

