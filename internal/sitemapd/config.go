package sitemapd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"sitemapd/internal/sitemap"
)

const (
	defaultPort    = 8080
	defaultPath    = "/sitemap.xml"
	defaultMaxSize = "50mb"
	defaultLevel   = "info"
	defaultDriver  = "postgres"
)

// Source types accepted in the sources list.
const (
	SourceStatic  = "static"
	SourceSQL     = "sql"
	SourceLevelDB = "leveldb"
	SourceSitemap = "sitemap"
)

type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Path string `yaml:"path"`
	} `yaml:"server"`

	Sitemap struct {
		CacheExpiration      string `yaml:"cacheExpiration"`
		MaxSize              string `yaml:"maxSize"`
		SourceTimeout        string `yaml:"sourceTimeout"`
		MaxConcurrentFetches int    `yaml:"maxConcurrentFetches"`

		// compiled
		cacheExpirationDur time.Duration
		sourceTimeoutDur   time.Duration
		maxSizeBytes       int64
	} `yaml:"sitemap"`

	Logging struct {
		Level         string `yaml:"level"`
		Development   bool   `yaml:"development"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`

	Sources []SourceConfig `yaml:"sources"`
}

type SourceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// static
	Entries []EntryConfig `yaml:"entries"`

	// sql
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`

	// leveldb
	Path string `yaml:"path"`

	// sitemap
	URL         string `yaml:"url"`
	MaxSitemaps int    `yaml:"maxSitemaps"`
}

type EntryConfig struct {
	Loc        string                  `yaml:"loc"`
	LastMod    string                  `yaml:"lastmod"`
	ChangeFreq sitemap.ChangeFrequency `yaml:"changefreq"`
	Priority   *float64                `yaml:"priority"`
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML, fills defaults and validates. The result is
// never modified afterwards.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return Config{}, fieldErr("server.port", fmt.Errorf("out of range: %d", cfg.Server.Port))
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = defaultPath
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		return Config{}, fieldErr("server.path", fmt.Errorf("must start with /, got %q", cfg.Server.Path))
	}

	sm := &cfg.Sitemap
	d, err := parseDuration(sm.CacheExpiration)
	if err != nil {
		return Config{}, fieldErr("sitemap.cacheExpiration", err)
	}
	if d == 0 {
		d = sitemap.DefaultCacheExpiration
	}
	sm.cacheExpirationDur = d

	if sm.sourceTimeoutDur, err = parseDuration(sm.SourceTimeout); err != nil {
		return Config{}, fieldErr("sitemap.sourceTimeout", err)
	}
	if sm.MaxSize == "" {
		sm.MaxSize = defaultMaxSize
	}
	if sm.maxSizeBytes, err = parseBytes(sm.MaxSize); err != nil {
		return Config{}, fieldErr("sitemap.maxSize", err)
	}
	if sm.MaxConcurrentFetches < 0 {
		return Config{}, fieldErr("sitemap.maxConcurrentFetches", fmt.Errorf("negative limit %d", sm.MaxConcurrentFetches))
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLevel
	}
	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		return Config{}, fieldErr("logging.level", err)
	}
	if cfg.Logging.logStatsEveryDur, err = parseDuration(cfg.Logging.LogStatsEvery); err != nil {
		return Config{}, fieldErr("logging.logStatsEvery", err)
	}

	seen := map[string]struct{}{}
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		field := fmt.Sprintf("sources[%d]", i)
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return Config{}, fieldErr(field+".name", errors.New("required"))
		}
		if _, dup := seen[s.Name]; dup {
			return Config{}, fieldErr(field+".name", fmt.Errorf("%w: %q", sitemap.ErrDuplicateSource, s.Name))
		}
		seen[s.Name] = struct{}{}
		if err := s.validate(field); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func (s *SourceConfig) validate(field string) error {
	switch s.Type {
	case SourceStatic:
		for j, e := range s.Entries {
			if _, err := e.entry(); err != nil {
				return fieldErr(fmt.Sprintf("%s.entries[%d]", field, j), err)
			}
		}
	case SourceSQL:
		if s.Driver == "" {
			s.Driver = defaultDriver
		}
		if s.DSN == "" {
			return fieldErr(field+".dsn", errors.New("required"))
		}
		if strings.TrimSpace(s.Query) == "" {
			return fieldErr(field+".query", errors.New("required"))
		}
	case SourceLevelDB:
		if s.Path == "" {
			return fieldErr(field+".path", errors.New("required"))
		}
	case SourceSitemap:
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return fieldErr(field+".url", fmt.Errorf("absolute http(s) url required, got %q", s.URL))
		}
	default:
		return fieldErr(field+".type", fmt.Errorf("unknown source type %q", s.Type))
	}
	return nil
}

// CoordinatorOptions converts the sitemap section.
func (c Config) CoordinatorOptions() sitemap.Options {
	return sitemap.Options{
		CacheExpiration:      c.Sitemap.cacheExpirationDur,
		MaxDocumentBytes:     c.Sitemap.maxSizeBytes,
		SourceTimeout:        c.Sitemap.sourceTimeoutDur,
		MaxConcurrentFetches: c.Sitemap.MaxConcurrentFetches,
	}
}

func (e EntryConfig) entry() (sitemap.Entry, error) {
	out := sitemap.Entry{
		Location:        e.Loc,
		ChangeFrequency: e.ChangeFreq,
		Priority:        e.Priority,
	}
	if strings.TrimSpace(e.Loc) == "" {
		return out, errors.New("loc is required")
	}
	if e.LastMod != "" {
		t, err := time.Parse("2006-01-02", e.LastMod)
		if err != nil {
			return out, fmt.Errorf("lastmod: %w", err)
		}
		out.LastModified = &t
	}
	return out, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

func fieldErr(field string, err error) error {
	return &sitemap.ConfigError{Field: field, Err: err}
}
