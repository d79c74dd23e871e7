package sitemap

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCacheExpiration applies when Options.CacheExpiration is zero.
const DefaultCacheExpiration = 6 * time.Hour

const sourceFailureLogInterval = time.Minute

// Options is captured by NewCoordinator and never changed afterwards.
type Options struct {
	// CacheExpiration is how long a rendered document is served. Zero means
	// DefaultCacheExpiration.
	CacheExpiration time.Duration
	// MaxDocumentBytes rejects rendered documents larger than this. Zero
	// disables the check.
	MaxDocumentBytes int64
	// SourceTimeout bounds each FetchURLs call. Zero means no deadline
	// beyond the caller's context.
	SourceTimeout time.Duration
	// MaxConcurrentFetches limits parallel source fetches. Zero means all
	// sources are fetched at once.
	MaxConcurrentFetches int
}

func (o Options) withDefaults() (Options, error) {
	if o.CacheExpiration < 0 {
		return o, &ConfigError{Field: "cacheExpiration", Err: fmt.Errorf("negative duration %s", o.CacheExpiration)}
	}
	if o.CacheExpiration == 0 {
		o.CacheExpiration = DefaultCacheExpiration
	}
	if o.MaxDocumentBytes < 0 {
		return o, &ConfigError{Field: "maxDocumentBytes", Err: fmt.Errorf("negative size %d", o.MaxDocumentBytes)}
	}
	if o.SourceTimeout < 0 {
		return o, &ConfigError{Field: "sourceTimeout", Err: fmt.Errorf("negative duration %s", o.SourceTimeout)}
	}
	if o.MaxConcurrentFetches < 0 {
		return o, &ConfigError{Field: "maxConcurrentFetches", Err: fmt.Errorf("negative limit %d", o.MaxConcurrentFetches)}
	}
	return o, nil
}

// Coordinator owns the cached sitemap document. Concurrent misses share one
// refresh: the first caller through the gate aggregates the sources, the
// others find its document when they get the gate.
type Coordinator struct {
	opener  ScopeOpener
	opts    Options
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time
	render  func([]Entry) (string, error)

	failLog *rateLimitedLogger

	slot documentSlot
	// gate admits one refresher at a time; waiters give up with their ctx.
	gate chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRenderer replaces Render.
func WithRenderer(render func([]Entry) (string, error)) Option {
	return func(c *Coordinator) {
		if render != nil {
			c.render = render
		}
	}
}

func NewCoordinator(opener ScopeOpener, opts Options, options ...Option) (*Coordinator, error) {
	if opener == nil {
		return nil, &ConfigError{Field: "sources", Err: ErrNilSource}
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		opener: opener,
		opts:   opts,
		log:    zap.NewNop(),
		now:    time.Now,
		render: Render,
		gate:   make(chan struct{}, 1),
	}
	for _, o := range options {
		o(c)
	}
	c.failLog = newRateLimitedLogger(c.log, sourceFailureLogInterval, c.now)
	return c, nil
}

// GetDocument returns the rendered sitemap text, refreshing it on a miss.
func (c *Coordinator) GetDocument(ctx context.Context) (string, error) {
	d, err := c.Document(ctx)
	if err != nil {
		return "", err
	}
	return d.Text, nil
}

// Document is GetDocument with the cache metadata.
func (c *Coordinator) Document(ctx context.Context) (*Document, error) {
	if d, ok := c.slot.Get(c.now()); ok {
		c.log.Debug("sitemap served from cache")
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return d, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.gate }()

	// Whoever held the gate before us may have published a document already.
	if d, ok := c.slot.Get(c.now()); ok {
		c.log.Debug("sitemap was refreshed by a concurrent caller")
		return d, nil
	}

	c.log.Info("sitemap cache is empty or expired, starting refresh")
	return c.refresh(ctx)
}

// Invalidate drops the cached document. The next read refreshes.
func (c *Coordinator) Invalidate() {
	c.slot.Clear()
	c.log.Info("sitemap cache invalidated")
}

func (c *Coordinator) refresh(ctx context.Context) (*Document, error) {
	start := time.Now()

	entries, err := c.collect(ctx)
	if err != nil {
		c.observeRefresh("error", start)
		return nil, err
	}

	text, err := c.render(entries)
	if err != nil {
		c.observeRefresh("render_error", start)
		c.log.Error("sitemap render failed", zap.Error(err))
		return nil, &RenderError{Err: err}
	}
	if max := c.opts.MaxDocumentBytes; max > 0 && int64(len(text)) > max {
		c.observeRefresh("too_large", start)
		err := &DocumentTooLargeError{Size: int64(len(text)), Max: max}
		c.log.Error("sitemap document rejected", zap.Error(err))
		return nil, err
	}

	now := c.now()
	doc := &Document{
		Text:        text,
		URLCount:    len(entries),
		Hash32:      crc32.ChecksumIEEE([]byte(text)),
		GeneratedAt: now,
		ExpiresAt:   now.Add(c.opts.CacheExpiration),
	}
	c.slot.Set(doc)

	c.observeRefresh("ok", start)
	if c.metrics != nil {
		c.metrics.DocumentURLs.Set(float64(doc.URLCount))
		c.metrics.DocumentBytes.Set(float64(len(doc.Text)))
	}
	c.log.Info("sitemap refresh completed",
		zap.Int("urls", doc.URLCount),
		zap.Int("bytes", len(doc.Text)),
		zap.Duration("expiration", c.opts.CacheExpiration),
		zap.Duration("took", time.Since(start)),
	)
	return doc, nil
}

// collect fetches every source of a fresh scope in parallel and merges the
// results in registration order.
// Source failures are skipped. Cancellation of ctx aborts the refresh so a
// partial fan-out is never cached.
func (c *Coordinator) collect(ctx context.Context) ([]Entry, error) {
	scope, err := c.opener.OpenScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("open source scope: %w", err)
	}
	defer func() {
		if err := scope.Close(); err != nil {
			c.log.Warn("closing source scope", zap.Error(err))
		}
	}()

	sources := scope.Sources()
	results := make([][]Entry, len(sources))

	var g errgroup.Group
	if c.opts.MaxConcurrentFetches > 0 {
		g.SetLimit(c.opts.MaxConcurrentFetches)
	}
	for i, ns := range sources {
		i, ns := i, ns
		g.Go(func() error {
			entries, err := c.fetch(ctx, ns)
			if err != nil {
				c.sourceFailed(&SourceError{Source: ns.Name, Err: err})
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh aborted: %w", err)
	}
	return dedupe(results), nil
}

func (c *Coordinator) fetch(ctx context.Context, ns NamedSource) (entries []Entry, err error) {
	if c.opts.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SourceTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	entries, err = ns.Source.FetchURLs(ctx)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.SourceEntries.WithLabelValues(ns.Name).Set(float64(len(entries)))
	}
	return entries, nil
}

func (c *Coordinator) sourceFailed(err *SourceError) {
	if c.metrics != nil {
		c.metrics.SourceFailures.WithLabelValues(err.Source).Inc()
	}
	fields := []zap.Field{zap.String("source", err.Source), zap.Error(err.Err)}
	if errors.Is(err.Err, context.DeadlineExceeded) {
		fields = append(fields, zap.Duration("timeout", c.opts.SourceTimeout))
	}
	c.failLog.Warn(err.Source, "sitemap source failed, skipping its entries", fields...)
}

func (c *Coordinator) observeRefresh(result string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.Refreshes.WithLabelValues(result).Inc()
	c.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
}

// dedupe concatenates groups, dropping blank locations and every repeat of a
// location after its first occurrence.
func dedupe(groups [][]Entry) []Entry {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]Entry, 0, n)
	seen := make(map[string]struct{}, n)
	for _, g := range groups {
		for _, e := range g {
			k := e.key()
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}
