package sitemap

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// rateLimitedLogger emits at most one line per key per interval.
type rateLimitedLogger struct {
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	lastAt map[string]time.Time
}

func newRateLimitedLogger(log *zap.Logger, interval time.Duration, now func() time.Time) *rateLimitedLogger {
	return &rateLimitedLogger{
		log:      log,
		interval: interval,
		now:      now,
		lastAt:   map[string]time.Time{},
	}
}

// Warn logs msg for key unless another line for key was logged less than
// interval ago. It reports whether the line was written.
func (l *rateLimitedLogger) Warn(key, msg string, fields ...zap.Field) bool {
	l.mu.Lock()
	now := l.now()
	last, seen := l.lastAt[key]
	if seen && now.Sub(last) < l.interval {
		l.mu.Unlock()
		return false
	}
	l.lastAt[key] = now
	l.mu.Unlock()

	l.log.Warn(msg, fields...)
	return true
}
