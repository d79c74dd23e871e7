package sitemap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Source produces sitemap entries. Implementations live in the host
// application; FetchURLs may block and may fail.
type Source interface {
	FetchURLs(ctx context.Context) ([]Entry, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) ([]Entry, error)

func (f SourceFunc) FetchURLs(ctx context.Context) ([]Entry, error) {
	return f(ctx)
}

// SourceFactory resolves a source for one refresh cycle. A source that also
// implements io.Closer is closed when the cycle's scope is closed.
type SourceFactory func(ctx context.Context) (Source, error)

// NamedSource is a source resolved inside a scope.
type NamedSource struct {
	Name   string
	Source Source
}

// Scope holds the sources resolved for a single refresh.
type Scope interface {
	Sources() []NamedSource
	Close() error
}

// ScopeOpener opens a fresh Scope per refresh.
type ScopeOpener interface {
	OpenScope(ctx context.Context) (Scope, error)
}

type registration struct {
	name    string
	factory SourceFactory
}

// Registry keeps source registrations in order and implements ScopeOpener.
type Registry struct {
	mu    sync.Mutex
	regs  []registration
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register adds a factory invoked once per refresh.
func (r *Registry) Register(name string, f SourceFactory) error {
	if f == nil {
		return fmt.Errorf("register %q: %w", name, ErrNilSource)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateSource)
	}
	r.names[name] = struct{}{}
	r.regs = append(r.regs, registration{name: name, factory: f})
	return nil
}

// RegisterSource adds a long-lived source shared by every refresh. It is not
// closed by scopes.
func (r *Registry) RegisterSource(name string, src Source) error {
	if src == nil {
		return fmt.Errorf("register %q: %w", name, ErrNilSource)
	}
	return r.Register(name, func(context.Context) (Source, error) {
		return uncloseable{src}, nil
	})
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// OpenScope resolves every registration in order. A factory that fails is
// kept in the scope as a source that returns the resolve error, so it is
// reported and skipped like any failing fetch.
func (r *Registry) OpenScope(ctx context.Context) (Scope, error) {
	r.mu.Lock()
	regs := make([]registration, len(r.regs))
	copy(regs, r.regs)
	r.mu.Unlock()

	sc := &registryScope{sources: make([]NamedSource, 0, len(regs))}
	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			_ = sc.Close()
			return nil, err
		}
		src, err := reg.factory(ctx)
		if err == nil && src == nil {
			err = ErrNilSource
		}
		if err != nil {
			src = failedSource{err: fmt.Errorf("resolve: %w", err)}
		}
		sc.sources = append(sc.sources, NamedSource{Name: reg.name, Source: src})
	}
	return sc, nil
}

type registryScope struct {
	sources []NamedSource
}

func (s *registryScope) Sources() []NamedSource { return s.sources }

func (s *registryScope) Close() error {
	var errs []error
	for i := len(s.sources) - 1; i >= 0; i-- {
		c, ok := s.sources[i].Source.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", s.sources[i].Name, err))
		}
	}
	return errors.Join(errs...)
}

// uncloseable hides io.Closer from a shared source.
type uncloseable struct{ Source }

type failedSource struct{ err error }

func (f failedSource) FetchURLs(context.Context) ([]Entry, error) { return nil, f.err }
