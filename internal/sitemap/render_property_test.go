//go:build property

package sitemap

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRenderProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: rendered priority always lies in [0, 1] with one decimal
	properties.Property("priority clamped", prop.ForAll(
		func(p float64) bool {
			s := formatPriority(p)
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return false
			}
			return v >= 0 && v <= 1 && len(s) == 3
		},
		gen.Float64Range(-1000, 1000),
	))

	// Property: every location appears once, carrying the first occurrence's fields
	properties.Property("dedup keeps first occurrence", prop.ForAll(
		func(ids []int) bool {
			groups := make([][]Entry, 0, 2)
			var a, b []Entry
			for i, id := range ids {
				e := Entry{Location: fmt.Sprintf("https://x/%d", id), Priority: ptr(float64(i%10) / 10)}
				if i%2 == 0 {
					a = append(a, e)
				} else {
					b = append(b, e)
				}
			}
			groups = append(groups, a, b)

			first := map[string]float64{}
			for _, g := range groups {
				for _, e := range g {
					if _, ok := first[e.Location]; !ok {
						first[e.Location] = *e.Priority
					}
				}
			}

			reg := NewRegistry()
			for i, g := range groups {
				g := g
				if err := reg.RegisterSource(strconv.Itoa(i), SourceFunc(func(context.Context) ([]Entry, error) {
					return g, nil
				})); err != nil {
					return false
				}
			}
			c, err := NewCoordinator(reg, Options{})
			if err != nil {
				return false
			}
			doc, err := c.Document(context.Background())
			if err != nil || doc.URLCount != len(first) {
				return false
			}

			set := parseDocument(t, doc.Text)
			if len(set.URLs) != len(first) {
				return false
			}
			for _, u := range set.URLs {
				want, ok := first[u.Loc]
				if !ok || u.Priority == nil || *u.Priority != formatPriority(want) {
					return false
				}
				delete(first, u.Loc)
			}
			return len(first) == 0
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
