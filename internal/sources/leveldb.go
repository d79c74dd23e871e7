package sources

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"sitemapd/internal/sitemap"
)

const pageKeyPrefix = "p:"

// pageRecord is the stored form of an entry. Zero fields mean absent.
type pageRecord struct {
	Location     string
	LastModified time.Time
	ChangeFreq   int
	HasPriority  bool
	Priority     float64
	UpdatedAt    int64 // unix nanoseconds, UTC
}

// PageStore keeps sitemap pages in LevelDB, keyed by location. It is a
// long-lived source: FetchURLs lists every stored page in key order.
type PageStore struct {
	db *leveldb.DB
}

// OpenPageStore opens or creates the database directory at path.
func OpenPageStore(path string) (*PageStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open page store %q: %w", path, err)
	}
	return &PageStore{db: db}, nil
}

// NewPageStore wraps an already open database.
func NewPageStore(db *leveldb.DB) *PageStore {
	return &PageStore{db: db}
}

func (s *PageStore) Close() error {
	return s.db.Close()
}

// Put stores e, replacing any page with the same location.
func (s *PageStore) Put(e sitemap.Entry) error {
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return errors.New("page location is empty")
	}
	rec := pageRecord{
		Location:   loc,
		ChangeFreq: int(e.ChangeFrequency),
		UpdatedAt:  time.Now().UTC().UnixNano(),
	}
	if e.LastModified != nil {
		rec.LastModified = *e.LastModified
	}
	if e.Priority != nil {
		rec.HasPriority = true
		rec.Priority = *e.Priority
	}
	b, err := encodeGob(rec)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(pageKeyPrefix+loc), b, nil)
}

// Delete removes the page at loc. Deleting a missing page is not an error.
func (s *PageStore) Delete(loc string) error {
	return s.db.Delete([]byte(pageKeyPrefix+strings.TrimSpace(loc)), nil)
}

// List returns every stored page. Records that fail to decode are skipped.
func (s *PageStore) List(ctx context.Context) ([]sitemap.Entry, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(pageKeyPrefix)), nil)
	defer it.Release()

	var out []sitemap.Entry
	for it.Next() {
		if len(out)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var rec pageRecord
		if err := decodeGob(it.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec.entry())
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate page store: %w", err)
	}
	return out, nil
}

func (s *PageStore) FetchURLs(ctx context.Context) ([]sitemap.Entry, error) {
	return s.List(ctx)
}

func (r pageRecord) entry() sitemap.Entry {
	e := sitemap.Entry{
		Location:        r.Location,
		ChangeFrequency: sitemap.ChangeFrequency(r.ChangeFreq),
	}
	if !r.LastModified.IsZero() {
		t := r.LastModified
		e.LastModified = &t
	}
	if r.HasPriority {
		p := r.Priority
		e.Priority = &p
	}
	return e
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
