package sitemap

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry describes one URL of the sitemap. Sources produce fresh entries on
// every refresh; nothing mutates them afterwards.
type Entry struct {
	Location        string
	LastModified    *time.Time
	ChangeFrequency ChangeFrequency
	Priority        *float64
}

// key is the identity used for deduplication.
func (e Entry) key() string { return strings.TrimSpace(e.Location) }

// ChangeFrequency is the sitemaps.org changefreq value. The zero value means
// the element is omitted.
type ChangeFrequency int

const (
	Always ChangeFrequency = iota + 1
	Hourly
	Daily
	Weekly
	Monthly
	Yearly
	Never
)

var changeFrequencyNames = [...]string{
	Always:  "always",
	Hourly:  "hourly",
	Daily:   "daily",
	Weekly:  "weekly",
	Monthly: "monthly",
	Yearly:  "yearly",
	Never:   "never",
}

// Valid reports whether f is one of the defined frequencies.
func (f ChangeFrequency) Valid() bool {
	return f >= Always && f <= Never
}

func (f ChangeFrequency) String() string {
	if !f.Valid() {
		return ""
	}
	return changeFrequencyNames[f]
}

// ParseChangeFrequency accepts the protocol name in any letter case.
// An empty string yields the zero value.
func ParseChangeFrequency(s string) (ChangeFrequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	for i := Always; i <= Never; i++ {
		if changeFrequencyNames[i] == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown change frequency %q", s)
}

func (f *ChangeFrequency) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseChangeFrequency(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (f ChangeFrequency) MarshalYAML() (any, error) {
	return f.String(), nil
}
