// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Append results
const (
	ResultOK        = "ok"
	ResultInvalid   = "invalid"
	ResultNotFound  = "not_found"
	ResultForbidden = "forbidden"
	ResultLimited   = "rate_limited"
	ResultError     = "error"
)

// Metrics groups the chat collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	appended       *prometheus.CounterVec
	appendDuration prometheus.Histogram
	receipts       prometheus.Counter
	httpRequests   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campuschat_messages_appended_total",
			Help: "Append-message attempts by result.",
		}, []string{"result"}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campuschat_append_duration_seconds",
			Help:    "Time spent persisting a message.",
			Buckets: prometheus.DefBuckets,
		}),
		receipts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campuschat_read_receipts_total",
			Help: "Read receipts created.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campuschat_http_requests_total",
			Help: "HTTP requests by route template and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.appended,
		m.appendDuration,
		m.receipts,
		m.httpRequests,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveAppend(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.appended.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.appendDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) AddReceipts(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.receipts.Add(float64(n))
}

func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer is used by tests to read current values
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
