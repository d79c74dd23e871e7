// Package sitemap aggregates URL entries from pluggable sources, renders them
// as a sitemaps.org urlset document and caches the result with a
// single-flight refresh.
package sitemap
