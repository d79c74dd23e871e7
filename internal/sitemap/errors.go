package sitemap

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSource is returned when a source name is registered twice.
	ErrDuplicateSource = errors.New("duplicate source name")
	// ErrNilSource is returned when registering a nil source or factory.
	ErrNilSource = errors.New("nil source")
)

// SourceError wraps a failure of one source. The coordinator logs and skips
// it; it never reaches GetDocument callers.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// RenderError indicates the renderer could not produce a document.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render sitemap: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// DocumentTooLargeError indicates the rendered document exceeds the
// configured size cap.
type DocumentTooLargeError struct {
	Size int64
	Max  int64
}

func (e *DocumentTooLargeError) Error() string {
	return fmt.Sprintf("sitemap document is %d bytes, limit is %d", e.Size, e.Max)
}

// ConfigError reports an invalid option.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
