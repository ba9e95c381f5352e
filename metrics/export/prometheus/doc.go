// Package prometheus exposes venueauth engine counters as a
// prometheus.Collector.
//
// The collector reads a snapshot on every scrape; register it with any
// registry and serve that registry with promhttp. Counter names follow
// venueauth_*_total; histograms carry real sums in seconds.
package prometheus
