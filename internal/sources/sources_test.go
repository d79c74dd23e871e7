package sources

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"sitemapd/internal/sitemap"
)

func ptr[T any](v T) *T { return &v }

func TestStatic_ReturnsCopies(t *testing.T) {
	in := []sitemap.Entry{{Location: "https://x/a"}}
	s := NewStatic(in)
	in[0].Location = "mutated"

	got, err := s.FetchURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://x/a", got[0].Location)

	got[0].Location = "also mutated"
	again, err := s.FetchURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://x/a", again[0].Location)
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestSQL_FetchURLs(t *testing.T) {
	db, mock := newMockDB(t)
	mod := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT loc, lastmod, changefreq, priority FROM pages").
		WillReturnRows(sqlmock.NewRows([]string{"loc", "lastmod", "changefreq", "priority"}).
			AddRow("https://x/a", mod, "daily", 0.7).
			AddRow("https://x/b", nil, nil, nil).
			AddRow("https://x/c", nil, "sometimes", nil))

	src := NewSQL(db, "SELECT loc, lastmod, changefreq, priority FROM pages")
	scoped, err := src.Factory()(context.Background())
	require.NoError(t, err)

	got, err := scoped.FetchURLs(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "https://x/a", got[0].Location)
	require.NotNil(t, got[0].LastModified)
	assert.True(t, mod.Equal(*got[0].LastModified))
	assert.Equal(t, sitemap.Daily, got[0].ChangeFrequency)
	require.NotNil(t, got[0].Priority)
	assert.Equal(t, 0.7, *got[0].Priority)

	assert.Nil(t, got[1].LastModified)
	assert.Nil(t, got[1].Priority)
	assert.False(t, got[1].ChangeFrequency.Valid())

	assert.False(t, got[2].ChangeFrequency.Valid())

	closer, ok := scoped.(interface{ Close() error })
	require.True(t, ok)
	require.NoError(t, closer.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_QueryErrorIsSourceFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT loc FROM pages").WillReturnError(assert.AnError)
	static := NewStatic([]sitemap.Entry{{Location: "https://x/static"}})

	reg := sitemap.NewRegistry()
	require.NoError(t, reg.Register("db", NewSQL(db, "SELECT loc FROM pages").Factory()))
	require.NoError(t, reg.RegisterSource("static", static))
	c, err := sitemap.NewCoordinator(reg, sitemap.Options{})
	require.NoError(t, err)

	doc, err := c.Document(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, doc.URLCount)
	assert.Contains(t, doc.Text, "https://x/static")
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMemPageStore(t *testing.T) *PageStore {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := NewPageStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPageStore_PutListDelete(t *testing.T) {
	s := newMemPageStore(t)
	mod := time.Date(2023, 11, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(sitemap.Entry{Location: "https://x/b", Priority: ptr(0.0)}))
	require.NoError(t, s.Put(sitemap.Entry{Location: " https://x/a ", LastModified: &mod, ChangeFrequency: sitemap.Monthly}))
	require.Error(t, s.Put(sitemap.Entry{Location: "  "}))

	got, err := s.FetchURLs(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "https://x/a", got[0].Location)
	require.NotNil(t, got[0].LastModified)
	assert.True(t, mod.Equal(*got[0].LastModified))
	assert.Equal(t, sitemap.Monthly, got[0].ChangeFrequency)
	assert.Nil(t, got[0].Priority)

	assert.Equal(t, "https://x/b", got[1].Location)
	require.NotNil(t, got[1].Priority)
	assert.Equal(t, 0.0, *got[1].Priority)
	assert.Nil(t, got[1].LastModified)

	require.NoError(t, s.Put(sitemap.Entry{Location: "https://x/b", Priority: ptr(0.4)}))
	require.NoError(t, s.Delete("https://x/a"))
	require.NoError(t, s.Delete("https://x/missing"))

	got, err = s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.4, *got[0].Priority)
}

func TestRemote_FollowsIndexes(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>/posts.xml.gz</loc></sitemap>
  <sitemap><loc>/sitemap.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/posts.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc> /posts/1 </loc>
    <lastmod>2024-01-02</lastmod>
    <changefreq>Weekly</changefreq>
    <priority>0.6</priority>
  </url>
  <url><loc>https://other.example/abs</loc><lastmod>2024-02-03T10:00:00+02:00</lastmod></url>
  <url><loc></loc></url>
</urlset>`))
		_ = gz.Close()
		_, _ = w.Write(buf.Bytes())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := NewRemote(srv.Client(), srv.URL+"/sitemap.xml", 0).FetchURLs(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int32(2), hits.Load())

	assert.Equal(t, srv.URL+"/posts/1", got[0].Location)
	require.NotNil(t, got[0].LastModified)
	assert.Equal(t, "2024-01-02", got[0].LastModified.Format("2006-01-02"))
	assert.Equal(t, sitemap.Weekly, got[0].ChangeFrequency)
	assert.Equal(t, 0.6, *got[0].Priority)

	assert.Equal(t, "https://other.example/abs", got[1].Location)
	require.NotNil(t, got[1].LastModified)
	assert.Nil(t, got[1].Priority)
}

func TestRemote_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.xml":
			http.Error(w, "nope", http.StatusNotFound)
		case "/broken.xml":
			_, _ = w.Write([]byte("<urlset><url>"))
		default:
			// An index that points at itself under a new name forever.
			_, _ = w.Write([]byte(`<sitemapindex><sitemap><loc>` + r.URL.Path + `x</loc></sitemap></sitemapindex>`))
		}
	}))
	defer srv.Close()

	_, err := NewRemote(srv.Client(), srv.URL+"/missing.xml", 0).FetchURLs(context.Background())
	assert.ErrorContains(t, err, "unexpected status 404")

	_, err = NewRemote(srv.Client(), srv.URL+"/broken.xml", 0).FetchURLs(context.Background())
	assert.Error(t, err)

	_, err = NewRemote(srv.Client(), srv.URL+"/loop", 3).FetchURLs(context.Background())
	assert.ErrorContains(t, err, "more than 3 sitemaps")
}
