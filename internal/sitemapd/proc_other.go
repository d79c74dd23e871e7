//go:build !linux

package sitemapd

func processRSSBytes() (uint64, bool) { return 0, false }
