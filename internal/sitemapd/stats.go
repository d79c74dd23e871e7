package sitemapd

import (
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// statsCollector tracks sizes of sitemap responses actually written.
type statsCollector struct {
	served        atomic.Uint64
	notModified   atomic.Uint64
	failed        atomic.Uint64
	totalBytes    atomic.Uint64
	minRespBytes  atomic.Uint64
	maxRespBytes  atomic.Uint64
	lastRespBytes atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(respBytes int) {
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)

	s.served.Add(1)
	s.totalBytes.Add(n)
	s.lastRespBytes.Store(n)

	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (s *statsCollector) NotModified() { s.notModified.Add(1) }

func (s *statsCollector) Failed() { s.failed.Add(1) }

type statsSnapshot struct {
	Served        uint64
	NotModified   uint64
	Failed        uint64
	TotalBytes    uint64
	MinRespBytes  uint64
	MaxRespBytes  uint64
	AvgRespBytes  uint64
	LastRespBytes uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		Served:      s.served.Load(),
		NotModified: s.notModified.Load(),
		Failed:      s.failed.Load(),
		TotalBytes:  s.totalBytes.Load(),
	}
	if out.Served == 0 {
		return out
	}
	out.MinRespBytes = s.minRespBytes.Load()
	if out.MinRespBytes == math.MaxUint64 {
		out.MinRespBytes = 0
	}
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = out.TotalBytes / out.Served
	out.LastRespBytes = s.lastRespBytes.Load()
	return out
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	ss := s.stats.Snapshot()
	fields := []zap.Field{
		zap.Uint64("served", ss.Served),
		zap.Uint64("not_modified", ss.NotModified),
		zap.Uint64("failed", ss.Failed),
		zap.String("resp_min", formatBytes(ss.MinRespBytes)),
		zap.String("resp_avg", formatBytes(ss.AvgRespBytes)),
		zap.String("resp_max", formatBytes(ss.MaxRespBytes)),
		zap.String("document", formatBytes(ss.LastRespBytes)),
	}
	if rss, ok := processRSSBytes(); ok {
		fields = append(fields, zap.String("rss", formatBytes(rss)))
	}
	s.log.Info("sitemap serving stats", fields...)
}
