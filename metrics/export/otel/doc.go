// Package otel publishes venueauth engine metrics through an OpenTelemetry
// Meter. Histograms become a <name>_bucket gauge keyed by an le attribute
// plus <name>_count and <name>_sum counters. The caller owns the
// MeterProvider.
package otel
