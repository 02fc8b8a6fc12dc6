// Package metrics counts sync traffic on the server and renders it in the
// Prometheus text exposition format at GET /metrics.
//
// Counters are plain uint64s under one mutex; gauges (rooms, connections,
// members, cursors) are pulled from a callback at scrape time. Families are
// built as client_model dto values and written with expfmt.
package metrics
