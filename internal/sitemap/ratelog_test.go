package sitemap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRateLimitedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newRateLimitedLogger(zap.New(core), time.Minute, func() time.Time { return now })

	assert.True(t, l.Warn("db", "failed", zap.Int("n", 1)))
	assert.False(t, l.Warn("db", "failed", zap.Int("n", 2)))
	assert.True(t, l.Warn("api", "failed"))

	now = now.Add(59 * time.Second)
	assert.False(t, l.Warn("db", "failed"))
	now = now.Add(time.Second)
	assert.True(t, l.Warn("db", "failed", zap.Int("n", 3)))

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, int64(1), entries[0].ContextMap()["n"])
		assert.Equal(t, int64(3), entries[2].ContextMap()["n"])
	}
}
