package sources

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"sitemapd/internal/sitemap"
)

// pageRow is the row shape expected from the configured query. Only loc is
// required; missing optional columns are simply absent from the entry.
type pageRow struct {
	Loc        string          `db:"loc"`
	LastMod    sql.NullTime    `db:"lastmod"`
	ChangeFreq sql.NullString  `db:"changefreq"`
	Priority   sql.NullFloat64 `db:"priority"`
}

// SQL lists sitemap entries with a query. Every refresh checks out its own
// connection from the pool and returns it when the refresh scope closes.
type SQL struct {
	db    *sqlx.DB
	query string
}

func NewSQL(db *sqlx.DB, query string) *SQL {
	return &SQL{db: db, query: query}
}

// Factory resolves a connection-scoped source for one refresh.
func (s *SQL) Factory() sitemap.SourceFactory {
	return func(ctx context.Context) (sitemap.Source, error) {
		conn, err := s.db.Connx(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", err)
		}
		return &sqlScoped{conn: conn, query: s.query}, nil
	}
}

type sqlScoped struct {
	conn  *sqlx.Conn
	query string
}

func (s *sqlScoped) FetchURLs(ctx context.Context) ([]sitemap.Entry, error) {
	rows, err := s.conn.QueryxContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var out []sitemap.Entry
	for rows.Next() {
		var r pageRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, r.entry())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

func (s *sqlScoped) Close() error {
	return s.conn.Close()
}

func (r pageRow) entry() sitemap.Entry {
	e := sitemap.Entry{Location: r.Loc}
	if r.LastMod.Valid {
		t := r.LastMod.Time
		e.LastModified = &t
	}
	if r.ChangeFreq.Valid {
		// An unknown value only loses the changefreq element, not the page.
		if f, err := sitemap.ParseChangeFrequency(r.ChangeFreq.String); err == nil {
			e.ChangeFrequency = f
		}
	}
	if r.Priority.Valid {
		p := r.Priority.Float64
		e.Priority = &p
	}
	return e
}
