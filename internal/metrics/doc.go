// Package metrics records the outcome of a publishing run and pushes it to a
// Prometheus Pushgateway, the usual sink for short-lived batch jobs.
package metrics
