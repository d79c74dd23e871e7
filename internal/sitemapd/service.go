package sitemapd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sitemapd/internal/sitemap"
	"sitemapd/internal/sources"
)

// Service owns the configured sources, the coordinator and the HTTP surface.
type Service struct {
	cfg Config
	log *zap.Logger

	registry *sitemap.Registry
	coord    *sitemap.Coordinator
	metrics  *prometheus.Registry
	handler  *sitemapHandler

	// closed in reverse order by Close
	closers []io.Closer

	stopCh chan struct{}
	wg     sync.WaitGroup

	stats *statsCollector
}

func NewService(cfg Config, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		registry: sitemap.NewRegistry(),
		metrics:  prometheus.NewRegistry(),
		stopCh:   make(chan struct{}),
	}
	s.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, sc := range cfg.Sources {
		if err := s.addSource(sc); err != nil {
			_ = s.closeSources()
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}
	}

	coord, err := sitemap.NewCoordinator(s.registry, cfg.CoordinatorOptions(),
		sitemap.WithLogger(log.Named("sitemap")),
		sitemap.WithMetrics(sitemap.NewMetrics(s.metrics)),
	)
	if err != nil {
		_ = s.closeSources()
		return nil, err
	}
	s.coord = coord

	if cfg.Logging.logStatsEveryDur > 0 {
		s.stats = newStatsCollector()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}
	s.handler = newSitemapHandler(coord, log.Named("http"), s.stats)

	log.Info("sitemap service ready",
		zap.Int("sources", s.registry.Len()),
		zap.String("path", cfg.Server.Path),
		zap.Duration("cache_expiration", cfg.Sitemap.cacheExpirationDur),
	)
	return s, nil
}

func (s *Service) addSource(sc SourceConfig) error {
	switch sc.Type {
	case SourceStatic:
		entries := make([]sitemap.Entry, 0, len(sc.Entries))
		for _, ec := range sc.Entries {
			e, err := ec.entry()
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return s.registry.RegisterSource(sc.Name, sources.NewStatic(entries))

	case SourceSQL:
		// sqlx.Open does not dial; an unreachable database surfaces as a
		// failing source on each refresh.
		db, err := sqlx.Open(sc.Driver, sc.DSN)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, db)
		return s.registry.Register(sc.Name, sources.NewSQL(db, sc.Query).Factory())

	case SourceLevelDB:
		store, err := sources.OpenPageStore(sc.Path)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store)
		return s.registry.RegisterSource(sc.Name, store)

	case SourceSitemap:
		return s.registry.RegisterSource(sc.Name, sources.NewRemote(nil, sc.URL, sc.MaxSitemaps))
	}
	return fmt.Errorf("unknown source type %q", sc.Type)
}

// Close stops background loops and releases source resources.
func (s *Service) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.closeSources()
}

func (s *Service) closeSources() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Service) Coordinator() *sitemap.Coordinator { return s.coord }

// Handler routes the sitemap path, /healthz and /metrics.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		requestLogger(s.log.Named("http")),
		sitemapMiddleware(s.cfg.Server.Path, s.handler),
		middleware.GetHead,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	return r
}
