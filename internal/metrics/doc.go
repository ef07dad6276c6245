// Package metrics exposes relay statistics to Prometheus and samples host
// resources for the dashboard.
//
// Key metrics:
//   - TCP peer lifecycle: accepted, rejected, connected, faults
//   - Message and command rates, operator delivery outcomes
//   - Sink dispatcher throughput, queue depth, dropped events
//   - Dashboard hub subscribers and write errors
//
// The Collector reads existing Stats() snapshots on scrape, so components
// keep plain atomic counters and carry no Prometheus dependency.
package metrics
