package sitemap

import (
	"sync/atomic"
	"time"
)

// Document is a rendered sitemap. It is never mutated once published.
type Document struct {
	Text        string
	URLCount    int
	Hash32      uint32
	GeneratedAt time.Time
	ExpiresAt   time.Time
}

// documentSlot holds at most one document. Reads never block; an expired
// document reads as a miss and is dropped by the reader that notices.
type documentSlot struct {
	cur atomic.Pointer[Document]
}

func (s *documentSlot) Get(now time.Time) (*Document, bool) {
	d := s.cur.Load()
	if d == nil {
		return nil, false
	}
	if !now.Before(d.ExpiresAt) {
		s.cur.CompareAndSwap(d, nil)
		return nil, false
	}
	return d, true
}

func (s *documentSlot) Set(d *Document) {
	s.cur.Store(d)
}

func (s *documentSlot) Clear() {
	s.cur.Store(nil)
}
